// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

// Monad operations for computations.
//
// Minimal definition: Pure (unit) and Bind are necessary and sufficient.
// Map and Then are derived operations kept as optimizations to avoid
// intermediate computation allocations.
//
// Each combinator is an explicit state machine: a stage tag plus the locals
// that are live across suspension points. No call stack is captured; the
// continuation is data owned by the computation value.

const (
	bindStageFirst uint8 = iota
	bindStageSecond
)

type bindComputation[A, B any] struct {
	first  Computation[A]
	f      func(A) Computation[B]
	second Computation[B]
	stage  uint8
}

func (c *bindComputation[A, B]) Advance(ctx *Context) Outcome[B] {
	if c.stage == bindStageFirst {
		out := c.first.Advance(ctx)
		if out.IsPending() {
			return Pending[B]()
		}
		if err := out.Err(); err != nil {
			return Failed[B](err)
		}
		a, _ := out.Value()
		c.second = c.f(a)
		c.stage = bindStageSecond
		// Release the first stage so nothing from before the boundary
		// outlives the suspension.
		c.first = nil
		c.f = nil
	}
	return c.second.Advance(ctx)
}

// Bind sequences two computations (monadic bind).
// It drives m to completion, across any number of Pending cycles, then
// passes the result to f to obtain the next computation and drives that.
//
// Errors short-circuit: if m fails, Bind yields Failed with m's error and
// f is never invoked. Bind is associative — Bind(Bind(m, f), g) and
// Bind(m, func(a) { return Bind(f(a), g) }) are observably equivalent,
// including side-effect order.
func Bind[A, B any](m Computation[A], f func(A) Computation[B]) Computation[B] {
	if f == nil {
		panic("aio: Bind requires a non-nil continuation")
	}
	return &bindComputation[A, B]{first: m, f: f}
}

type mapComputation[A, B any] struct {
	m Computation[A]
	f func(A) B
}

func (c *mapComputation[A, B]) Advance(ctx *Context) Outcome[B] {
	out := c.m.Advance(ctx)
	if out.IsPending() {
		return Pending[B]()
	}
	if err := out.Err(); err != nil {
		return Failed[B](err)
	}
	a, _ := out.Value()
	return Done(c.f(a))
}

// Map applies a pure function to the result of a computation.
//
// Allocation note: Map is equivalent to Bind(m, compose(Pure, f)) but needs
// no second-stage computation, making it the preferred choice when the
// transformation is pure.
func Map[A, B any](m Computation[A], f func(A) B) Computation[B] {
	return &mapComputation[A, B]{m: m, f: f}
}

type thenComputation[A, B any] struct {
	first  Computation[A]
	second Computation[B]
	stage  uint8
}

func (c *thenComputation[A, B]) Advance(ctx *Context) Outcome[B] {
	if c.stage == bindStageFirst {
		out := c.first.Advance(ctx)
		if out.IsPending() {
			return Pending[B]()
		}
		if err := out.Err(); err != nil {
			return Failed[B](err)
		}
		c.stage = bindStageSecond
		c.first = nil
	}
	return c.second.Advance(ctx)
}

// Then sequences two computations, discarding the first result.
//
// Allocation note: Then avoids the closure capture that would occur with
// Bind(m, func(_ A) Computation[B] { return n }).
func Then[A, B any](m Computation[A], n Computation[B]) Computation[B] {
	return &thenComputation[A, B]{first: m, second: n}
}

type recoverComputation[A any] struct {
	m       Computation[A]
	handler func(error) Computation[A]
	stage   uint8
}

func (c *recoverComputation[A]) Advance(ctx *Context) Outcome[A] {
	if c.stage == bindStageFirst {
		out := c.m.Advance(ctx)
		if out.IsPending() {
			return Pending[A]()
		}
		err := out.Err()
		if err == nil {
			return out
		}
		c.m = c.handler(err)
		c.stage = bindStageSecond
		c.handler = nil
	}
	return c.m.Advance(ctx)
}

// Recover wraps a computation with a modeled-error handler.
// If m fails, the handler receives the error and its computation is driven
// instead; if m completes, the handler is never invoked.
// Runtime faults surfaced through [Handle.Join] are ordinary modeled errors
// to the joining task and can be recovered like any other.
func Recover[A any](m Computation[A], handler func(error) Computation[A]) Computation[A] {
	if handler == nil {
		panic("aio: Recover requires a non-nil handler")
	}
	return &recoverComputation[A]{m: m, handler: handler}
}
