// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

import "time"

// afterComputation waits for a reactor timer. The deadline is fixed on the
// first advance; a wake before the deadline (possible when the computation
// is raced against other wakers of the same task) cancels the replaced
// timer and re-arms, so at most one heap entry is live per await.
type afterComputation struct {
	d        time.Duration
	deadline time.Time
	id       TimerID
	armed    bool
}

func (c *afterComputation) Advance(ctx *Context) Outcome[struct{}] {
	now := time.Now()
	if !c.armed {
		c.deadline = now.Add(c.d)
		c.armed = true
	} else if c.id != 0 {
		// No-op when the timer is the reason we woke; live when the wake
		// was spurious.
		ctx.CancelTimer(c.id)
	}
	if !now.Before(c.deadline) {
		return Done(struct{}{})
	}
	c.id = ctx.RegisterTimer(c.deadline)
	return Pending[struct{}]()
}

// After returns a computation that completes d after it is first advanced.
// The timer is registered with the runtime's reactor; no goroutine or
// worker thread blocks while waiting. A non-positive d completes on the
// first advance.
func After(d time.Duration) Computation[struct{}] {
	return &afterComputation{d: d}
}
