// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

// Resource safety primitives for computations whose lifetime may end by
// completion, failure, or cancellation.

const (
	bracketStageAcquire uint8 = iota
	bracketStageUse
	bracketStageRelease
)

type bracketComputation[R, A any] struct {
	acquire Computation[R]
	release func(R) Computation[struct{}]
	use     func(R) Computation[A]

	resource   R
	useComp    Computation[A]
	relComp    Computation[struct{}]
	useOutcome Outcome[A]
	removeHook func()
	stage      uint8
}

func (c *bracketComputation[R, A]) Advance(ctx *Context) Outcome[A] {
	for {
		switch c.stage {
		case bracketStageAcquire:
			out := c.acquire.Advance(ctx)
			if out.IsPending() {
				return Pending[A]()
			}
			if err := out.Err(); err != nil {
				return Failed[A](err)
			}
			c.resource, _ = out.Value()
			c.acquire = nil
			// If the task is cancelled while suspended inside use, the
			// release computation still runs, detached on its own task.
			rt, res, rel := ctx.Runtime(), c.resource, c.release
			c.removeHook = ctx.task.addCancelHook(func() {
				Spawn(rt, rel(res))
			})
			c.useComp = c.use(c.resource)
			c.use = nil
			c.stage = bracketStageUse

		case bracketStageUse:
			out := c.useComp.Advance(ctx)
			if out.IsPending() {
				return Pending[A]()
			}
			c.useOutcome = out
			c.useComp = nil
			c.removeHook()
			c.removeHook = nil
			c.relComp = c.release(c.resource)
			c.release = nil
			c.stage = bracketStageRelease

		case bracketStageRelease:
			out := c.relComp.Advance(ctx)
			if out.IsPending() {
				return Pending[A]()
			}
			// A failed use outcome takes precedence over a failed release.
			if err := c.useOutcome.Err(); err != nil {
				return Failed[A](err)
			}
			if err := out.Err(); err != nil {
				return Failed[A](err)
			}
			v, _ := c.useOutcome.Value()
			return Done(v)
		}
	}
}

// Bracket provides exception-safe resource handling: acquire → use →
// release, where release is guaranteed to run whether use completes,
// fails, or the owning task is cancelled mid-use. On cancellation the
// release computation is spawned as its own task, since the cancelled task
// never advances again.
func Bracket[R, A any](
	acquire Computation[R],
	release func(R) Computation[struct{}],
	use func(R) Computation[A],
) Computation[A] {
	if release == nil || use == nil {
		panic("aio: Bracket requires non-nil release and use")
	}
	return &bracketComputation[R, A]{acquire: acquire, release: release, use: use}
}

// OnError runs cleanup only if the computation fails with a modeled error,
// then re-fails with the original error.
func OnError[A any](body Computation[A], cleanup func(error) Computation[struct{}]) Computation[A] {
	return Recover(body, func(err error) Computation[A] {
		return Then(cleanup(err), FailWith[A](err))
	})
}
