// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

type outcomeKind uint8

const (
	outcomePending outcomeKind = iota
	outcomeDone
	outcomeFailed
)

// Outcome is the result of advancing a [Computation] by one step.
// It is a three-way tagged value:
//
//   - [Done]: the computation completed with a value
//   - [Failed]: the computation completed with a modeled error
//   - [Pending]: the computation suspended after arranging a future wake
//
// Pending carries no payload; a computation that returns Pending must have
// handed its [Waker] to an effect source first, otherwise it is never
// advanced again.
type Outcome[A any] struct {
	value A
	err   error
	kind  outcomeKind
}

// Done returns a completed Outcome carrying v.
func Done[A any](v A) Outcome[A] {
	return Outcome[A]{value: v, kind: outcomeDone}
}

// Failed returns a failed Outcome carrying err.
// The error is a modeled error: it travels the computation's declared error
// channel and short-circuits through [Bind]. Panics if err is nil.
func Failed[A any](err error) Outcome[A] {
	if err == nil {
		panic("aio: Failed requires a non-nil error")
	}
	return Outcome[A]{err: err, kind: outcomeFailed}
}

// Pending returns a suspended Outcome.
func Pending[A any]() Outcome[A] {
	return Outcome[A]{kind: outcomePending}
}

// IsDone reports whether the outcome is a completed value.
func (o Outcome[A]) IsDone() bool { return o.kind == outcomeDone }

// IsFailed reports whether the outcome is a modeled error.
func (o Outcome[A]) IsFailed() bool { return o.kind == outcomeFailed }

// IsPending reports whether the computation suspended.
func (o Outcome[A]) IsPending() bool { return o.kind == outcomePending }

// Value returns the completed value and true, or zero and false.
func (o Outcome[A]) Value() (A, bool) {
	if o.kind == outcomeDone {
		return o.value, true
	}
	var zero A
	return zero, false
}

// Err returns the modeled error, or nil if the outcome is not Failed.
func (o Outcome[A]) Err() error {
	if o.kind == outcomeFailed {
		return o.err
	}
	return nil
}

// MatchOutcome pattern matches on a non-pending outcome.
// Panics if o is Pending; a suspended computation has no value to match.
func MatchOutcome[A, T any](o Outcome[A], onDone func(A) T, onFailed func(error) T) T {
	switch o.kind {
	case outcomeDone:
		return onDone(o.value)
	case outcomeFailed:
		return onFailed(o.err)
	}
	panic("aio: MatchOutcome on a pending outcome")
}
