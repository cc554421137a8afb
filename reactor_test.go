// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

import (
	"errors"
	"testing"
	"time"
)

// pausedTask forges a task parked at generation 0 on a workerless runtime,
// so a fired waker is observable as an injector enqueue.
func pausedTask(rt *Runtime) *Task {
	tk, _ := forgedTask(rt)
	tk.state.Store(pack(0, taskPaused))
	return tk
}

func drainInjector(rt *Runtime) []*Task {
	var ts []*Task
	for {
		tk := rt.injector.pop()
		if tk == nil {
			return ts
		}
		ts = append(ts, tk)
	}
}

// pollUntilFired tolerates spurious zero returns, as the runtime's own poll
// loop does.
func pollUntilFired(t *testing.T, r *Reactor, want int) {
	t.Helper()
	fired := 0
	deadline := time.Now().Add(2 * time.Second)
	for fired < want {
		if time.Now().After(deadline) {
			t.Fatalf("fired %d wakers, want %d", fired, want)
		}
		n, err := r.Poll(50 * time.Millisecond)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		fired += n
	}
	if fired != want {
		t.Fatalf("fired %d wakers, want %d", fired, want)
	}
}

func TestReactorFiresBothInterestsOnceEach(t *testing.T) {
	rt := forgedRuntime()
	r := rt.reactor
	src := r.AllocSource()

	a := pausedTask(rt)
	b := pausedTask(rt)
	r.Register(src, InterestReadable, Waker{task: a, gen: 0})
	r.Register(src, InterestWritable, Waker{task: b, gen: 0})
	r.Ready(src, InterestReadable)
	r.Ready(src, InterestWritable)

	pollUntilFired(t, r, 2)
	got := drainInjector(rt)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("enqueued %d tasks, want [a b] in registration order", len(got))
	}

	// One-shot: a repeated poll fires nothing.
	if n, err := r.Poll(0); err != nil || n != 0 {
		t.Fatalf("repeated Poll = (%d, %v), want (0, nil)", n, err)
	}
	if rem := drainInjector(rt); len(rem) != 0 {
		t.Fatalf("duplicate wakes: %d extra enqueues", len(rem))
	}
}

func TestReactorFiresInRegistrationOrder(t *testing.T) {
	rt := forgedRuntime()
	r := rt.reactor

	var want []*Task
	var srcs []SourceID
	for range 5 {
		src := r.AllocSource()
		tk := pausedTask(rt)
		r.Register(src, InterestReadable, Waker{task: tk, gen: 0})
		want = append(want, tk)
		srcs = append(srcs, src)
	}
	// Readiness arrives in reverse; firing order must still follow
	// registration order.
	for i := len(srcs) - 1; i >= 0; i-- {
		r.Ready(srcs[i], InterestReadable)
	}

	pollUntilFired(t, r, 5)
	got := drainInjector(rt)
	if len(got) != 5 {
		t.Fatalf("enqueued %d tasks, want 5", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("firing position %d = task %d, want task %d", i, got[i].id, want[i].id)
		}
	}
}

func TestReactorReregisterOverwrites(t *testing.T) {
	rt := forgedRuntime()
	r := rt.reactor
	src := r.AllocSource()

	old := pausedTask(rt)
	next := pausedTask(rt)
	r.Register(src, InterestReadable, Waker{task: old, gen: 0})
	r.Register(src, InterestReadable, Waker{task: next, gen: 0})
	r.Ready(src, InterestReadable)

	pollUntilFired(t, r, 1)
	got := drainInjector(rt)
	if len(got) != 1 || got[0] != next {
		t.Fatal("overwritten registration fired the stale waker")
	}
}

func TestReactorDeregister(t *testing.T) {
	rt := forgedRuntime()
	r := rt.reactor
	src := r.AllocSource()

	tk := pausedTask(rt)
	r.Register(src, InterestReadable, Waker{task: tk, gen: 0})
	r.Deregister(src, InterestReadable)
	r.Ready(src, InterestReadable)

	if n, err := r.Poll(0); err != nil || n != 0 {
		t.Fatalf("Poll = (%d, %v), want (0, nil)", n, err)
	}
	if len(drainInjector(rt)) != 0 {
		t.Fatal("deregistered source fired")
	}
}

func TestReactorReadinessBeforeRegistration(t *testing.T) {
	rt := forgedRuntime()
	r := rt.reactor
	src := r.AllocSource()

	// The event precedes the registration; the mark must persist until a
	// registration consumes it.
	r.Ready(src, InterestReadable)
	tk := pausedTask(rt)
	r.Register(src, InterestReadable, Waker{task: tk, gen: 0})

	pollUntilFired(t, r, 1)
	got := drainInjector(rt)
	if len(got) != 1 || got[0] != tk {
		t.Fatal("pre-registration readiness was lost")
	}
}

func TestReactorTimerFires(t *testing.T) {
	rt := forgedRuntime()
	r := rt.reactor
	tk := pausedTask(rt)

	start := time.Now()
	r.RegisterTimer(start.Add(5*time.Millisecond), Waker{task: tk, gen: 0})

	pollUntilFired(t, r, 1)
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("timer fired after %v, want >= 5ms", elapsed)
	}
	got := drainInjector(rt)
	if len(got) != 1 || got[0] != tk {
		t.Fatal("timer fired the wrong waker")
	}
}

func TestReactorTimerOrdering(t *testing.T) {
	rt := forgedRuntime()
	r := rt.reactor

	late := pausedTask(rt)
	early := pausedTask(rt)
	now := time.Now()
	r.RegisterTimer(now.Add(8*time.Millisecond), Waker{task: late, gen: 0})
	r.RegisterTimer(now.Add(2*time.Millisecond), Waker{task: early, gen: 0})

	pollUntilFired(t, r, 2)
	got := drainInjector(rt)
	if len(got) != 2 || got[0] != early || got[1] != late {
		t.Fatal("timers fired out of deadline order")
	}
}

func TestReactorCancelTimer(t *testing.T) {
	rt := forgedRuntime()
	r := rt.reactor
	tk := pausedTask(rt)

	id := r.RegisterTimer(time.Now().Add(time.Millisecond), Waker{task: tk, gen: 0})
	r.CancelTimer(id)

	if n, err := r.Poll(10 * time.Millisecond); err != nil || n != 0 {
		t.Fatalf("Poll = (%d, %v), want (0, nil)", n, err)
	}
	if len(drainInjector(rt)) != 0 {
		t.Fatal("cancelled timer fired")
	}
}

func TestReactorSpuriousReturn(t *testing.T) {
	r := newReactor(nil)
	start := time.Now()
	n, err := r.Poll(5 * time.Millisecond)
	if err != nil || n != 0 {
		t.Fatalf("Poll = (%d, %v), want (0, nil)", n, err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatal("empty poll returned before its timeout")
	}
}

func TestReactorClosed(t *testing.T) {
	r := newReactor(nil)
	r.Close()
	if _, err := r.Poll(0); !errors.Is(err, ErrReactorClosed) {
		t.Fatalf("got %v, want ErrReactorClosed", err)
	}
	// Close is idempotent.
	r.Close()
}

func liveTimersFor(r *Reactor, tk *Task) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.timerByID {
		if e.waker.task == tk {
			n++
		}
	}
	return n
}

// A task racing several reactor-backed children holds one token per child;
// cancellation must drain every one, not just the newest.
func TestCancelDrainsAllRegistrations(t *testing.T) {
	rt := forgedRuntime()
	r := rt.reactor
	tk, h := forgedTask(rt)
	tk.state.Store(pack(0, taskPaused))

	src := r.AllocSource()
	key := regKey{src: src, interest: InterestReadable}
	r.Register(src, InterestReadable, Waker{task: tk, gen: 0})
	tk.addRegistration(regToken{key: key})
	id := r.RegisterTimer(time.Now().Add(time.Hour), Waker{task: tk, gen: 0})
	tk.addRegistration(regToken{timer: id})

	h.Cancel()
	if r.registeredOwned(key, tk) {
		t.Fatal("source registration survived cancellation")
	}
	if n := liveTimersFor(r, tk); n != 0 {
		t.Fatalf("%d live timers after cancellation, want 0", n)
	}

	r.Ready(src, InterestReadable)
	if n, err := r.Poll(0); err != nil || n != 0 {
		t.Fatalf("Poll = (%d, %v), want (0, nil)", n, err)
	}
	if rt.injector.pop() != nil {
		t.Fatal("event after cancellation produced an enqueue")
	}
}

// Same property end to end: cancel a timeout-raced await and the loser's
// registration must not outlive the task.
func TestCancelRacedAwaitDrainsRegistrations(t *testing.T) {
	rt := New(WithWorkers(1))
	defer rt.Close()
	r := rt.reactor
	src := r.AllocSource()

	h := Spawn(rt, Timeout(AwaitReadable(src), time.Hour))
	time.Sleep(20 * time.Millisecond) // let it park on both children
	h.Cancel()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled task did not finalize")
	}

	key := regKey{src: src, interest: InterestReadable}
	r.mu.Lock()
	_, live := r.table[key]
	r.mu.Unlock()
	if live {
		t.Fatal("await registration survived cancellation of the raced task")
	}
	if n := liveTimersFor(r, h.task); n != 0 {
		t.Fatalf("%d live timers after cancellation, want 0", n)
	}
}

// A spurious wake re-arms the timer await; the replaced timer must be
// cancelled, not left to accumulate in the heap.
func TestAfterReArmCancelsPreviousTimer(t *testing.T) {
	rt := forgedRuntime()
	tk, _ := forgedTask(rt)
	tk.state.Store(pack(0, taskRunning))
	ctx := &Context{rt: rt, task: tk, waker: Waker{task: tk, gen: 0}}

	c := After(time.Hour)
	if !c.Advance(ctx).IsPending() {
		t.Fatal("expected pending on first advance")
	}
	for range 3 {
		if !c.Advance(ctx).IsPending() {
			t.Fatal("expected pending on re-arm")
		}
	}
	if n := liveTimersFor(rt.reactor, tk); n != 1 {
		t.Fatalf("%d live timers after re-arms, want 1", n)
	}
}

func TestDeregisterOwnedSparesOverwriter(t *testing.T) {
	rt := forgedRuntime()
	r := rt.reactor
	src := r.AllocSource()
	key := regKey{src: src, interest: InterestReadable}

	old := pausedTask(rt)
	next := pausedTask(rt)
	r.Register(src, InterestReadable, Waker{task: old, gen: 0})
	r.Register(src, InterestReadable, Waker{task: next, gen: 0})

	// old's token drain must not tear down next's registration.
	r.deregisterOwned(key, old)
	if !r.registeredOwned(key, next) {
		t.Fatal("cleanup for the old owner removed the new registration")
	}
	r.deregisterOwned(key, next)
	if r.registeredOwned(key, next) {
		t.Fatal("owner cleanup left the registration in place")
	}
}
