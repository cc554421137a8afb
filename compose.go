// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

import "time"

// Combinators composing multiple computations inside one task.
// All children share the task's waker: whichever effect source fires first
// wakes the task, and the losers' later wakes are no-ops per the wake
// protocol.

// Pair is a tuple of two values, returned by [All2].
type Pair[A, B any] struct {
	First  A
	Second B
}

type raceComputation[A any] struct {
	a, b Computation[A]
}

func (c *raceComputation[A]) Advance(ctx *Context) Outcome[A] {
	if out := c.a.Advance(ctx); !out.IsPending() {
		return out
	}
	if out := c.b.Advance(ctx); !out.IsPending() {
		return out
	}
	return Pending[A]()
}

// Race drives two computations and completes with the outcome of whichever
// finishes first, value or error; the loser is dropped without being
// advanced further. Ties resolve in favor of a.
func Race[A any](a, b Computation[A]) Computation[A] {
	return &raceComputation[A]{a: a, b: b}
}

// Timeout wraps m with a deadline: if the reactor timer fires before m
// completes, the result is [ErrTimeout] and m is dropped. The timer and
// m's own event race; the later waker's firing is a harmless no-op.
func Timeout[A any](m Computation[A], d time.Duration) Computation[A] {
	return Race(m, Then(After(d), FailWith[A](ErrTimeout)))
}

type all2Computation[A, B any] struct {
	a     Computation[A]
	b     Computation[B]
	av    A
	bv    B
	aDone bool
	bDone bool
}

func (c *all2Computation[A, B]) Advance(ctx *Context) Outcome[Pair[A, B]] {
	if !c.aDone {
		out := c.a.Advance(ctx)
		if err := out.Err(); err != nil {
			return Failed[Pair[A, B]](err)
		}
		if v, ok := out.Value(); ok {
			c.av = v
			c.aDone = true
			c.a = nil
		}
	}
	if !c.bDone {
		out := c.b.Advance(ctx)
		if err := out.Err(); err != nil {
			return Failed[Pair[A, B]](err)
		}
		if v, ok := out.Value(); ok {
			c.bv = v
			c.bDone = true
			c.b = nil
		}
	}
	if c.aDone && c.bDone {
		return Done(Pair[A, B]{First: c.av, Second: c.bv})
	}
	return Pending[Pair[A, B]]()
}

// All2 drives two computations concurrently within one task and completes
// with both results. The first failure wins and the other computation is
// dropped.
func All2[A, B any](a Computation[A], b Computation[B]) Computation[Pair[A, B]] {
	return &all2Computation[A, B]{a: a, b: b}
}
