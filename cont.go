// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

// Computation represents a suspendable unit of effectful work producing
// a value of type A.
//
// The runtime drives a Computation by calling Advance repeatedly. Each call
// runs the synchronous portion of the next step to completion and returns:
//
//   - [Done]: the final value
//   - [Failed]: a modeled error
//   - [Pending]: the computation suspended, having arranged through
//     ctx.Waker() (or a clone held by an effect source) exactly one future
//     wake of its owning [Task]
//
// Advance is never called concurrently for the same Task — the scheduler
// enforces this, so a Computation needs no internal locking. All state that
// is live across a suspension point must be owned by the Computation value
// itself, never borrowed from the stack of the step that produced it.
type Computation[A any] interface {
	Advance(ctx *Context) Outcome[A]
}

// Func adapts a plain step function into a [Computation].
// This is the primitive constructor for computations that need direct
// access to the advance context.
type Func[A any] func(ctx *Context) Outcome[A]

// Advance implements [Computation] by calling f.
func (f Func[A]) Advance(ctx *Context) Outcome[A] { return f(ctx) }

type pureComputation[A any] struct{ value A }

func (c pureComputation[A]) Advance(*Context) Outcome[A] { return Done(c.value) }

// Pure lifts a value into a computation that completes immediately.
func Pure[A any](v A) Computation[A] {
	return pureComputation[A]{value: v}
}

type failedComputation[A any] struct{ err error }

func (c failedComputation[A]) Advance(*Context) Outcome[A] { return Failed[A](c.err) }

// FailWith lifts a modeled error into a computation that fails immediately.
// Panics if err is nil.
func FailWith[A any](err error) Computation[A] {
	if err == nil {
		panic("aio: FailWith requires a non-nil error")
	}
	return failedComputation[A]{err: err}
}

// yieldComputation suspends once and completes on the next advance.
// The self-wake arrives while the task is still running, so the scheduler
// re-enqueues the task to the local queue rather than advancing re-entrantly.
type yieldComputation struct{ yielded bool }

func (c *yieldComputation) Advance(ctx *Context) Outcome[struct{}] {
	if c.yielded {
		return Done(struct{}{})
	}
	c.yielded = true
	ctx.Waker().Wake()
	return Pending[struct{}]()
}

// Yield returns a computation that suspends once, letting other ready tasks
// run, and completes when next advanced.
func Yield() Computation[struct{}] {
	return &yieldComputation{}
}
