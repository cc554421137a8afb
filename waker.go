// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

import "time"

// Waker is a thread-safe handle that re-schedules one suspended [Task].
// Effect sources hold a Waker and call Wake when the event the task is
// waiting for materializes; the producer of the event never touches the
// scheduler directly.
//
// Identity is (task, generation). A Waker captured for a task's Nth
// suspension carries generation N and cannot wake the (N+1)th suspension:
// the generation advances on every wake-up, so stale handles degrade to
// no-ops. Wakers are plain values; copying one clones it.
type Waker struct {
	task *Task
	gen  uint32
}

// Wake moves the referenced task to Ready if it is currently suspended on
// this Waker's generation, and is a no-op otherwise.
//
// Wake is safe to call from any goroutine, any number of times, at any
// point in the task's lifetime, including after completion. Concurrent
// calls on the same pending generation coalesce into a single enqueue.
func (w Waker) Wake() {
	if w.task != nil {
		w.task.wake(w.gen)
	}
}

// Context is the advance-time environment handed to [Computation.Advance].
// It carries the Waker bound to the owning task for the current suspension
// generation, plus access to the runtime's effect sources.
//
// A Context is owned by one task and must not be retained across the end of
// an Advance call; retain the Waker instead.
type Context struct {
	rt    *Runtime
	task  *Task
	waker Waker
}

// Waker returns the waker bound to the owning task's current generation.
func (c *Context) Waker() Waker { return c.waker }

// Runtime returns the runtime driving the owning task.
func (c *Context) Runtime() *Runtime { return c.rt }

// Reactor returns the runtime's reactor.
func (c *Context) Reactor() *Reactor { return c.rt.reactor }

// RegisterSource registers the current waker for (src, interest) with the
// reactor and records the registration in the owning task's set, so that
// cancelling the task removes it. Re-registering the same pair overwrites
// the reactor entry and dedups the token.
func (c *Context) RegisterSource(src SourceID, interest Interest) {
	c.rt.reactor.Register(src, interest, c.waker)
	c.task.addRegistration(regToken{key: regKey{src: src, interest: interest}})
}

// RegisterTimer registers a one-shot timer firing the current waker at
// deadline, recording it in the owning task's registration set.
func (c *Context) RegisterTimer(deadline time.Time) TimerID {
	id := c.rt.reactor.RegisterTimer(deadline, c.waker)
	c.task.addRegistration(regToken{timer: id})
	return id
}

// CancelTimer cancels a timer the computation registered earlier and drops
// it from the owning task's registration set. Computations that re-arm on a
// spurious wake cancel the replaced timer through this.
func (c *Context) CancelTimer(id TimerID) {
	c.rt.reactor.CancelTimer(id)
	c.task.removeRegistration(regToken{timer: id})
}
