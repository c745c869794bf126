package serviceconcurrency_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serviceconcurrency "github.com/tommigun1980/serviceconcurrency-go"
)

var unorderedInts = cmpopts.SortSlices(func(a, b int) bool { return a < b })

// tenfold is the fetch used by most batch memo tests: the value for key k is
// k*10, and every invocation's key set is recorded for inspection.
func tenfold(mu *sync.Mutex, fetched *[]mapset.Set[int], unblock chan struct{}) serviceconcurrency.BatchFetch[int, int] {
	return func(ctx context.Context, keys []int) ([]int, error) {
		mu.Lock()
		*fetched = append(*fetched, mapset.NewSet(keys...))
		mu.Unlock()
		if unblock != nil {
			<-unblock
		}
		values := make([]int, len(keys))
		for i, key := range keys {
			values[i] = key * 10
		}
		return values, nil
	}
}

func findTenfold(key int, batch []int) int {
	for _, v := range batch {
		if v == key*10 {
			return v
		}
	}
	return -1
}

func TestBatchMemoThreeProvenances(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var mu sync.Mutex
		var fetched []mapset.Set[int]
		var extracted []int
		unblock := make(chan struct{})
		store := newCountingStore[int, int]()

		m := serviceconcurrency.NewBatchMemo[int, int](
			func(key int, batch []int) int {
				mu.Lock()
				extracted = append(extracted, key)
				mu.Unlock()
				return findTenfold(key, batch)
			},
			serviceconcurrency.Config[int, int]{Store: store},
		)
		defer m.Close()

		fetch := tenfold(&mu, &fetched, unblock)

		// Key 1 is already cached, key 2 is in flight, key 3 is fetched by
		// the call under test.
		m.Cache().Set(1, 10)

		var r1, r2 serviceconcurrency.BatchResult[int, int]
		var wg sync.WaitGroup
		wg.Go(func() { r1, _ = m.Execute(context.Background(), []int{2}, fetch) })
		synctest.Wait()
		wg.Go(func() { r2, _ = m.Execute(context.Background(), []int{1, 2, 3}, fetch) })
		synctest.Wait()

		mu.Lock()
		require.Len(t, fetched, 2)
		assert.True(t, fetched[0].Equal(mapset.NewSet(2)), "first fetch got %v", fetched[0])
		assert.True(t, fetched[1].Equal(mapset.NewSet(3)), "second fetch got %v", fetched[1])
		mu.Unlock()

		close(unblock)
		wg.Wait()

		assert.Equal(t, []int{20}, r1.Values)
		assert.Equal(t, []int{2}, r1.ChangedKeys)

		assert.Empty(t, cmp.Diff([]int{10, 20, 30}, r2.Values, unorderedInts))
		assert.Equal(t, []int{3}, r2.ChangedKeys, "only the key this call fetched itself changed")

		// One cache write per fetched key plus the seeded one; joining never
		// writes.
		assert.Equal(t, int32(3), store.sets.Load())
		assert.ElementsMatch(t, []int{2, 3}, extracted)

		// All three keys are now cached, so a repeat call fetches nothing.
		r3, err := m.Execute(context.Background(), []int{1, 2, 3}, fetch)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff([]int{10, 20, 30}, r3.Values, unorderedInts))
		assert.Empty(t, r3.ChangedKeys)
		mu.Lock()
		assert.Len(t, fetched, 2)
		mu.Unlock()
	})
}

func TestBatchMemoFailureKeepsCachedAndJoined(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		errBoom := errors.New("boom")
		unblock := make(chan struct{})
		m := serviceconcurrency.NewBatchMemo[int, int](findTenfold)
		defer m.Close()

		m.Cache().Set(1, 10)

		okFetch := func(ctx context.Context, keys []int) ([]int, error) {
			<-unblock
			values := make([]int, len(keys))
			for i, key := range keys {
				values[i] = key * 10
			}
			return values, nil
		}
		failFetch := func(ctx context.Context, keys []int) ([]int, error) {
			<-unblock
			return nil, errBoom
		}

		var r serviceconcurrency.BatchResult[int, int]
		var rerr error
		var wg sync.WaitGroup
		wg.Go(func() { m.Execute(context.Background(), []int{2}, okFetch) })
		synctest.Wait()
		wg.Go(func() { r, rerr = m.Execute(context.Background(), []int{1, 2, 3}, failFetch) })
		synctest.Wait()

		close(unblock)
		wg.Wait()

		// The cached and joined parts are delivered even though this call's
		// own fetch failed.
		assert.ErrorIs(t, rerr, errBoom)
		assert.Empty(t, cmp.Diff([]int{10, 20}, r.Values, unorderedInts))
		assert.Empty(t, r.ChangedKeys)

		assert.False(t, m.Cache().Contains(3), "a failed fetch must not cache anything")
		assert.True(t, m.Cache().Contains(2), "the joined fetch cached its key as usual")
	})
}

func TestBatchMemoServesCachedWithoutFetch(t *testing.T) {
	var mu sync.Mutex
	var fetched []mapset.Set[int]
	m := serviceconcurrency.NewBatchMemo[int, int](findTenfold)
	defer m.Close()

	fetch := tenfold(&mu, &fetched, nil)

	r, err := m.Execute(context.Background(), []int{1, 2}, fetch)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]int{10, 20}, r.Values, unorderedInts))
	assert.ElementsMatch(t, []int{1, 2}, r.ChangedKeys)

	r, err = m.Execute(context.Background(), []int{1, 2}, fetch)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]int{10, 20}, r.Values, unorderedInts))
	assert.Empty(t, r.ChangedKeys)
	assert.Len(t, fetched, 1)

	// A partly cached batch fetches only the missing keys.
	r, err = m.Execute(context.Background(), []int{2, 3}, fetch)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]int{20, 30}, r.Values, unorderedInts))
	assert.Equal(t, []int{3}, r.ChangedKeys)
	require.Len(t, fetched, 2)
	assert.True(t, fetched[1].Equal(mapset.NewSet(3)))
}

func TestBatchMemoRefreshRefetchesCached(t *testing.T) {
	var offset atomic.Int32
	m := serviceconcurrency.NewBatchMemo[int, int](
		func(key int, batch []int) int {
			for _, v := range batch {
				if v%100 == key {
					return v
				}
			}
			return -1
		})
	defer m.Close()

	// Values encode the generation in the hundreds digit, the key below it.
	fetch := func(ctx context.Context, keys []int) ([]int, error) {
		gen := int(offset.Load())
		values := make([]int, len(keys))
		for i, key := range keys {
			values[i] = gen*100 + key
		}
		return values, nil
	}

	r, err := m.Execute(context.Background(), []int{1, 2}, fetch)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]int{1, 2}, r.Values, unorderedInts))

	offset.Store(1)
	r, err = m.Refresh(context.Background(), []int{1, 2}, fetch)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]int{101, 102}, r.Values, unorderedInts))
	assert.ElementsMatch(t, []int{1, 2}, r.ChangedKeys)

	r, err = m.Execute(context.Background(), []int{1, 2}, fetch)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]int{101, 102}, r.Values, unorderedInts),
		"Refresh should have replaced the cached values")
	assert.Empty(t, r.ChangedKeys)
}

func TestBatchMemoDuplicateAndEmptyKeys(t *testing.T) {
	var mu sync.Mutex
	var fetched []mapset.Set[int]
	m := serviceconcurrency.NewBatchMemo[int, int](findTenfold)
	defer m.Close()

	r, err := m.Execute(context.Background(), nil, tenfold(&mu, &fetched, nil))
	require.NoError(t, err)
	assert.Empty(t, r.Values)
	assert.Empty(t, r.ChangedKeys)
	assert.Empty(t, fetched)

	r, err = m.Execute(context.Background(), []int{1, 1, 2, 1}, tenfold(&mu, &fetched, nil))
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.True(t, fetched[0].Equal(mapset.NewSet(1, 2)))
	assert.Empty(t, cmp.Diff([]int{10, 20}, r.Values, unorderedInts))
}

func TestBatchMemoManyOverlappingBatches(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		keys := makeIntKeys(50)
		var mu sync.Mutex
		fetchCount := make(map[int]int)
		unblock := make(chan struct{})
		m := serviceconcurrency.NewBatchMemo[int, int](findTenfold)
		defer m.Close()

		fetch := func(ctx context.Context, ks []int) ([]int, error) {
			mu.Lock()
			for _, k := range ks {
				fetchCount[k]++
			}
			mu.Unlock()
			<-unblock
			values := make([]int, len(ks))
			for i, k := range ks {
				values[i] = k * 10
			}
			return values, nil
		}

		// Ten concurrent batches over overlapping windows of the key space.
		const batches = 10
		requested := make([][]int, batches)
		results := make([]serviceconcurrency.BatchResult[int, int], batches)
		var wg sync.WaitGroup
		for i := 0; i < batches; i++ {
			requested[i] = keys[i*4 : i*4+10]
			wg.Go(func() {
				results[i], _ = m.Execute(context.Background(), requested[i], fetch)
			})
		}

		// Once every batch has either started its fetch or joined another's,
		// release them all.
		synctest.Wait()
		close(unblock)
		wg.Wait()

		// However the batches interleaved, no key was fetched twice.
		mu.Lock()
		for key, n := range fetchCount {
			assert.Equal(t, 1, n, "key %d fetched %d times", key, n)
		}
		mu.Unlock()

		// Every batch got a value for each key it asked for.
		for i, r := range results {
			got := mapset.NewSet(r.Values...)
			for _, key := range requested[i] {
				assert.True(t, got.Contains(key*10),
					"batch %d missing value for key %d", i, key)
			}
		}

		assert.Equal(t, 46, m.Cache().Len(), "all covered keys end up cached")
	})
}

func TestBatchMemoConverterAndExtractor(t *testing.T) {
	m := serviceconcurrency.NewConvertedBatchMemo[int, int, string](
		strconv.Itoa,
		func(key int, batch []string) string {
			want := strconv.Itoa(key)
			for _, s := range batch {
				if s == want {
					return s
				}
			}
			return ""
		})
	defer m.Close()

	// The fetch hands back the raw keys; conversion renders them as strings.
	r, err := m.Execute(context.Background(), []int{7, 8},
		func(ctx context.Context, keys []int) ([]int, error) {
			return keys, nil
		})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]string{"7", "8"}, r.Values, unordered))

	v, ok := m.Cache().Get(7)
	require.True(t, ok)
	assert.Equal(t, "7", v)
}
