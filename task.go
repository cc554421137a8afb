// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

import (
	"sync"
	"sync/atomic"
)

// Task lifecycle states. Transitions:
//
//	Created → Ready → Running → {Paused → Ready (wake only) | Done | Failed | Cancelled}
//
// Running gains the Notified state when a wake arrives mid-step: the owning
// worker re-enqueues the task to its local queue after the step returns,
// never re-entrantly. A task re-enters Ready only through a Waker call.
type taskState uint32

const (
	taskCreated taskState = iota
	taskReady
	taskRunning
	taskNotified
	taskPaused
	taskDone
	taskFailed
	taskCancelled
)

// The lifecycle word packs the suspension generation (high 32 bits) with the
// state (low 32 bits) so wake-versus-suspend races resolve in a single CAS.
func pack(gen uint32, st taskState) uint64 {
	return uint64(gen)<<32 | uint64(st)
}

func unpack(v uint64) (gen uint32, st taskState) {
	return uint32(v >> 32), taskState(v)
}

func (st taskState) terminal() bool {
	return st == taskDone || st == taskFailed || st == taskCancelled
}

type stepKind uint8

const (
	stepPending stepKind = iota
	stepDone
	stepFailed
)

// Task wraps one top-level [Computation] with its scheduling metadata: a
// stable identity, the packed lifecycle word, the set of outstanding reactor
// registrations, and the wakers of tasks joined on it.
//
// A live task is present in exactly one ready queue or is being driven by
// exactly one worker, never both. The computation itself is type-erased
// into the step function; the typed result lands in the [Handle]'s cell.
type Task struct {
	id    uint64
	rt    *Runtime
	state atomic.Uint64

	// cancelRequested is honored at the next suspension point; cancellation
	// never preempts a step in progress.
	cancelRequested atomic.Bool

	step    func(*Context) stepKind
	failErr func(error)
	ctx     Context

	doneCh chan struct{}

	mu          sync.Mutex
	regs        map[regToken]struct{}
	waiters     []Waker
	cancelHooks []func()
}

// Handle refers to a spawned task producing a value of type A.
// It can be awaited by composing [Handle.Join] with [Bind], waited on
// synchronously via [BlockOn], or cancelled.
type Handle[A any] struct {
	task *Task
	cell *resultCell[A]
}

// resultCell receives the terminal value or error. It is written by the
// finalizing goroutine before the terminal state is published and read only
// after observing that publication, so it needs no lock of its own.
type resultCell[A any] struct {
	value A
	err   error
}

func newTask[A any](rt *Runtime, m Computation[A]) *Handle[A] {
	t := &Task{
		id:     rt.nextTaskID.Add(1),
		rt:     rt,
		doneCh: make(chan struct{}),
	}
	cell := &resultCell[A]{}
	t.step = func(ctx *Context) stepKind {
		out := m.Advance(ctx)
		if out.IsPending() {
			return stepPending
		}
		if err := out.Err(); err != nil {
			cell.err = err
			return stepFailed
		}
		cell.value, _ = out.Value()
		return stepDone
	}
	t.failErr = func(err error) { cell.err = err }
	t.ctx = Context{rt: rt, task: t}
	t.state.Store(pack(0, taskCreated))
	return &Handle[A]{task: t, cell: cell}
}

// ID returns the task's stable identity.
func (t *Task) ID() uint64 { return t.id }

// wake implements the wake protocol for a waker of generation gen.
//
//   - stale generation: no-op
//   - Paused: advance the generation, move to Ready, enqueue — this is the
//     only transition that re-enters Ready
//   - Running: mark Notified so the owning worker re-enqueues after the step
//   - Ready, Notified, terminal: no-op (wake coalescing)
func (t *Task) wake(gen uint32) {
	for {
		s := t.state.Load()
		g, st := unpack(s)
		if g != gen {
			return
		}
		switch st {
		case taskPaused:
			if t.state.CompareAndSwap(s, pack(g+1, taskReady)) {
				t.rt.schedule(t)
				return
			}
		case taskRunning:
			if t.state.CompareAndSwap(s, pack(g, taskNotified)) {
				return
			}
		default:
			return
		}
	}
}

// beginRun transitions Ready → Running, returning the generation the step
// will execute under. Fails if the task was finalized while queued.
func (t *Task) beginRun() (uint32, bool) {
	for {
		s := t.state.Load()
		g, st := unpack(s)
		if st != taskReady {
			return 0, false
		}
		if t.state.CompareAndSwap(s, pack(g, taskRunning)) {
			return g, true
		}
	}
}

// suspend resolves a Pending step: Running → Paused, or Notified → Ready
// when a wake raced in mid-step. Reports whether the owning worker must
// re-enqueue the task locally.
func (t *Task) suspend(gen uint32) (requeue bool) {
	for {
		s := t.state.Load()
		_, st := unpack(s)
		switch st {
		case taskRunning:
			if t.state.CompareAndSwap(s, pack(gen, taskPaused)) {
				// A cancel request that arrived mid-step is honored here,
				// at the suspension point.
				if t.cancelRequested.Load() {
					t.tryCancelPaused()
				}
				return false
			}
		case taskNotified:
			if t.state.CompareAndSwap(s, pack(gen+1, taskReady)) {
				return true
			}
		default:
			panic("aio: suspend from invalid state")
		}
	}
}

// complete publishes a terminal state from Running (or Notified, when a
// stray wake raced the final step).
func (t *Task) complete(st taskState) {
	for {
		s := t.state.Load()
		g, cur := unpack(s)
		if cur != taskRunning && cur != taskNotified {
			panic("aio: complete from invalid state")
		}
		if t.state.CompareAndSwap(s, pack(g+1, st)) {
			t.cleanupTerminal(st == taskCancelled)
			return
		}
	}
}

// tryCancelPaused attempts Paused → Cancelled. Both the cancelling goroutine
// and the owning worker may race here; the CAS winner runs the cleanup.
func (t *Task) tryCancelPaused() bool {
	for {
		s := t.state.Load()
		g, st := unpack(s)
		if st != taskPaused {
			return false
		}
		if t.state.CompareAndSwap(s, pack(g+1, taskCancelled)) {
			t.failErr(ErrCancelled)
			t.cleanupTerminal(true)
			return true
		}
	}
}

// requestCancel marks the task cancelled. A paused task is finalized
// immediately — its reactor registration is removed synchronously so a
// subsequent event cannot resurrect it. A ready or running task is flagged
// and finalized at its next step boundary.
func (t *Task) requestCancel() {
	t.cancelRequested.Store(true)
	for {
		s := t.state.Load()
		_, st := unpack(s)
		switch {
		case st == taskPaused:
			if t.tryCancelPaused() {
				return
			}
		case st.terminal():
			return
		default:
			return
		}
	}
}

// cleanupTerminal releases everything the task owns: every outstanding
// reactor registration, cancellation hooks (cancelled tasks only), and the
// wakers of joined tasks. Runs exactly once, on the finalizing goroutine.
// The doneCh close publishes the result cell: readers of the cell must
// observe the close first, because the cancellation path writes the cell
// after the terminal CAS.
func (t *Task) cleanupTerminal(cancelled bool) {
	t.clearRegistrations()

	t.mu.Lock()
	hooks := t.cancelHooks
	t.cancelHooks = nil
	ws := t.waiters
	t.waiters = nil
	t.mu.Unlock()

	if cancelled {
		for _, h := range hooks {
			if h != nil {
				h()
			}
		}
	}

	close(t.doneCh)

	for _, w := range ws {
		w.Wake()
	}
}

func (t *Task) terminalState() (taskState, bool) {
	_, st := unpack(t.state.Load())
	return st, st.terminal()
}

// addRegistration records an outstanding reactor registration. Tokens are a
// set: combinators racing several reactor-backed children leave one token
// per child, and all of them are drained at terminal cleanup. Re-registering
// the same (source, interest) pair dedups to one token.
func (t *Task) addRegistration(tok regToken) {
	t.mu.Lock()
	if t.regs == nil {
		t.regs = make(map[regToken]struct{}, 2)
	}
	t.regs[tok] = struct{}{}
	t.mu.Unlock()
}

// removeRegistration drops a token the owning computation cancelled itself,
// such as a timer replaced on re-arm.
func (t *Task) removeRegistration(tok regToken) {
	t.mu.Lock()
	delete(t.regs, tok)
	t.mu.Unlock()
}

func (t *Task) clearRegistrations() {
	t.mu.Lock()
	regs := t.regs
	t.regs = nil
	t.mu.Unlock()
	for tok := range regs {
		t.rt.reactor.cancelToken(tok, t)
	}
}

// addWaiter records a waker to fire at completion. Returns false if the
// task is already terminal, in which case the caller reads the result
// directly instead of suspending.
func (t *Task) addWaiter(w Waker) bool {
	t.mu.Lock()
	if _, done := t.terminalState(); done {
		t.mu.Unlock()
		return false
	}
	t.waiters = append(t.waiters, w)
	t.mu.Unlock()
	return true
}

// addCancelHook registers a cleanup to run if the task finalizes as
// cancelled. Returns a removal function for the normal completion path.
// The hook runs at most once.
func (t *Task) addCancelHook(h func()) (remove func()) {
	t.mu.Lock()
	t.cancelHooks = append(t.cancelHooks, h)
	idx := len(t.cancelHooks) - 1
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		if idx < len(t.cancelHooks) {
			t.cancelHooks[idx] = nil
		}
		t.mu.Unlock()
	}
}

// Cancel requests cooperative cancellation of the task.
// A suspended task is finalized synchronously, including removal of any
// pending reactor registration; a running task finishes its current step
// first. Cancelling a terminal task is a no-op. Consumers of the task
// observe [ErrCancelled].
func (h *Handle[A]) Cancel() {
	h.task.requestCancel()
}

// Done returns a channel closed when the task reaches a terminal state.
func (h *Handle[A]) Done() <-chan struct{} {
	return h.task.doneCh
}

// Result returns the terminal value or error. It must only be called after
// [Handle.Done] is closed; the zero value and nil are returned otherwise.
//
// Completion is the doneCh close, not the state word: the cancellation path
// publishes the terminal state before it writes the result cell, so only the
// close orders the cell write before a read here.
func (h *Handle[A]) Result() (A, error) {
	select {
	case <-h.task.doneCh:
	default:
		var zero A
		return zero, nil
	}
	if h.cell.err != nil {
		var zero A
		return zero, h.cell.err
	}
	return h.cell.value, nil
}

func (h *Handle[A]) outcome() Outcome[A] {
	if h.cell.err != nil {
		return Failed[A](h.cell.err)
	}
	return Done(h.cell.value)
}

type joinComputation[A any] struct{ h *Handle[A] }

func (c joinComputation[A]) Advance(ctx *Context) Outcome[A] {
	t := c.h.task
	select {
	case <-t.doneCh:
		return c.h.outcome()
	default:
	}
	if !t.addWaiter(ctx.Waker()) {
		// The terminal state is published but the finalizer has not closed
		// doneCh yet; wait out its cleanup so the result cell is visible.
		<-t.doneCh
		return c.h.outcome()
	}
	return Pending[A]()
}

// Join returns a computation that completes with the task's result once the
// task terminates. A cancelled task yields [ErrCancelled]; a faulted task
// yields its [*Fault] as a modeled error to the joining computation.
func (h *Handle[A]) Join() Computation[A] {
	return joinComputation[A]{h: h}
}
