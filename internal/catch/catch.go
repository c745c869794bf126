// Package catch captures the exit behavior of function calls so that it can
// be replayed later, possibly on other goroutines.
package catch

import "runtime"

// outcome is how a captured call concluded.
type outcome int8

const (
	returned outcome = iota
	panicked
	goexited
)

// Result captures the exit behavior of a single call: a normal return, a
// panic, or [runtime.Goexit]. The zero Result behaves as if capturing the
// return of a zero T and nil error.
type Result[T any] struct {
	outcome  outcome
	value    T
	err      error
	panicval any
}

// Call runs fn in the current goroutine and captures its return or panic.
// It propagates [runtime.Goexit] without returning.
func Call[T any](fn func() (T, error)) (r Result[T]) {
	func() {
		defer func() {
			if r.outcome != returned {
				r.outcome = panicked
				r.panicval = recover()
			}
		}()
		r.outcome = goexited
		r.value, r.err = fn()
		r.outcome = returned
	}()
	return
}

// Goexit constructs a synthetic result that captures [runtime.Goexit].
func Goexit[T any]() Result[T] {
	return Result[T]{outcome: goexited}
}

// Panic constructs a synthetic result that captures "panic(panicval)".
func Panic[T any](panicval any) Result[T] {
	return Result[T]{outcome: panicked, panicval: panicval}
}

// Return constructs a synthetic result that captures "return value, err".
func Return[T any](value T, err error) Result[T] {
	return Result[T]{outcome: returned, value: value, err: err}
}

// Unwrap replays the captured exit on the current goroutine: returning the
// captured values, panicking with the captured panic value, or calling
// [runtime.Goexit]. It is guaranteed to return if and only if
// [Result.Returned] is true.
func (r Result[T]) Unwrap() (T, error) {
	switch r.outcome {
	case panicked:
		panic(r.panicval)
	case goexited:
		runtime.Goexit()
		panic("continued after runtime.Goexit")
	default:
		return r.value, r.err
	}
}

// Returned is true if this result captures a normal return.
func (r Result[T]) Returned() bool {
	return r.outcome == returned
}

// Panicked is true if this result captures a panic.
func (r Result[T]) Panicked() bool {
	return r.outcome == panicked
}

// Goexited is true if this result captures [runtime.Goexit].
func (r Result[T]) Goexited() bool {
	return r.outcome == goexited
}
