// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

import (
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
	"go.uber.org/zap"
)

// fairnessTick is the dispatch period at which a worker prefers the global
// injector over its local queue, so externally arriving wake-ups cannot be
// starved by a long run of locally spawned tasks.
const fairnessTick = 61

// defaultParkTimeout bounds the wait of an idle worker. A parked worker is
// normally unparked by an enqueue; the timeout only covers lost races.
const defaultParkTimeout = 10 * time.Millisecond

// currentWorker maps goroutine id to the worker running on it, so schedule
// can route wakes from a worker goroutine to its local queue and wakes from
// external goroutines to the injector.
var currentWorker sync.Map // int64 → *worker

// Option configures a [Runtime] at construction.
type Option func(*Runtime)

// WithWorkers sets the number of worker goroutines.
// Defaults to runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(rt *Runtime) { rt.numWorkers = n }
}

// WithLogger sets the runtime's logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(rt *Runtime) { rt.log = l }
}

// WithParkTimeout bounds the wait of an idle worker between wake checks.
func WithParkTimeout(d time.Duration) Option {
	return func(rt *Runtime) { rt.parkTimeout = d }
}

// Runtime is the executor: a fixed pool of worker goroutines pulling tasks
// from local deques and a global injector, plus one [Reactor] multiplexing
// the runtime's effect sources on its own goroutine.
//
// A Runtime has explicit init and shutdown: construct with [New], inject the
// handle into call sites, release with [Runtime.Close]. There is no ambient
// global runtime.
type Runtime struct {
	log         *zap.Logger
	reactor     *Reactor
	injector    injector
	workers     []*worker
	numWorkers  int
	parkTimeout time.Duration

	nextTaskID atomic.Uint64
	closed     atomic.Bool
	closeCh    chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup

	idleMu sync.Mutex
	idle   []*worker
}

// New constructs a runtime and starts its workers and reactor.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		parkTimeout: defaultParkTimeout,
		closeCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.log == nil {
		rt.log = zap.NewNop()
	}
	if rt.numWorkers <= 0 {
		rt.numWorkers = runtime.GOMAXPROCS(0)
	}
	rt.reactor = newReactor(rt.log)

	rt.workers = make([]*worker, rt.numWorkers)
	for i := range rt.workers {
		rt.workers[i] = &worker{
			rt:     rt,
			id:     i,
			victim: rand.IntN(rt.numWorkers),
			parkCh: make(chan struct{}, 1),
		}
	}
	rt.wg.Add(len(rt.workers))
	for _, w := range rt.workers {
		go w.loop()
	}
	go rt.reactor.run()

	rt.log.Debug("runtime started", zap.Int("workers", rt.numWorkers))
	return rt
}

// Close stops the workers and the reactor and waits for them to exit.
// Tasks that have not reached a terminal state are left unfinished; their
// handles never complete. Close returns the reactor's fatal error, if any.
//
// Close must not be called from a worker goroutine.
func (rt *Runtime) Close() error {
	rt.closeOnce.Do(func() {
		rt.closed.Store(true)
		close(rt.closeCh)
		rt.wg.Wait()
		rt.reactor.Close()
		rt.log.Debug("runtime closed")
	})
	return rt.reactor.Err()
}

// Reactor returns the runtime's reactor, for registering external effect
// sources such as an fd [Poller].
func (rt *Runtime) Reactor() *Reactor { return rt.reactor }

// schedule enqueues a ready task: to the current worker's local deque when
// called from a worker goroutine of this runtime, otherwise to the global
// injector. Either way one parked worker is unparked.
func (rt *Runtime) schedule(t *Task) {
	if v, ok := currentWorker.Load(goid.Get()); ok {
		if w := v.(*worker); w.rt == rt {
			w.local.push(t)
			rt.unparkOne()
			return
		}
	}
	rt.injector.push(t)
	rt.unparkOne()
}

func (rt *Runtime) unparkOne() {
	rt.idleMu.Lock()
	var w *worker
	if n := len(rt.idle); n > 0 {
		w = rt.idle[n-1]
		rt.idle = rt.idle[:n-1]
	}
	rt.idleMu.Unlock()
	if w != nil {
		select {
		case w.parkCh <- struct{}{}:
		default:
		}
	}
}

// Spawn enqueues a new top-level computation and returns its handle.
// Non-blocking; callable from any worker or external goroutine.
// On a closed runtime the returned handle is already failed with
// [ErrRuntimeClosed].
func Spawn[A any](rt *Runtime, m Computation[A]) *Handle[A] {
	h := newTask(rt, m)
	t := h.task
	if rt.closed.Load() {
		t.state.Store(pack(0, taskRunning))
		t.failErr(ErrRuntimeClosed)
		t.complete(taskFailed)
		return h
	}
	t.state.Store(pack(0, taskReady))
	rt.schedule(t)
	return h
}

// BlockOn spawns m and blocks the calling goroutine until it reaches a
// terminal state, returning its value or modeled error. This is the entry
// point bridging synchronous code into the runtime.
//
// BlockOn must not be called from a worker goroutine; it would block the
// dispatch loop it is waiting on.
func BlockOn[A any](rt *Runtime, m Computation[A]) (A, error) {
	h := Spawn(rt, m)
	<-h.Done()
	return h.Result()
}

// worker runs one dispatch loop: pop local (LIFO), pop injector (FIFO,
// with a periodic fairness preference), steal a batch from a victim's FIFO
// end, or park with a bounded wait.
type worker struct {
	rt     *Runtime
	id     int
	local  deque
	tick   uint64
	victim int
	parkCh chan struct{}
}

func (w *worker) loop() {
	gid := goid.Get()
	currentWorker.Store(gid, w)
	defer currentWorker.Delete(gid)
	defer w.rt.wg.Done()

	for {
		if w.rt.closed.Load() {
			return
		}
		t := w.next()
		if t == nil {
			if !w.park() {
				return
			}
			continue
		}
		w.run(t)
	}
}

func (w *worker) next() *Task {
	w.tick++
	if w.tick%fairnessTick == 0 {
		if t := w.rt.injector.pop(); t != nil {
			return t
		}
	}
	if t := w.local.pop(); t != nil {
		return t
	}
	if t := w.rt.injector.pop(); t != nil {
		return t
	}
	return w.steal()
}

// steal visits victims round-robin from a randomized start, never stealing
// from itself. A successful steal moves half the victim's queue; the first
// task is returned and the rest land in the thief's local deque.
func (w *worker) steal() *Task {
	n := len(w.rt.workers)
	for i := 0; i < n; i++ {
		v := w.rt.workers[(w.victim+i)%n]
		if v == w {
			continue
		}
		batch := v.local.stealBatch()
		if len(batch) == 0 {
			continue
		}
		w.victim = (w.victim + i + 1) % n
		for _, t := range batch[1:] {
			w.local.push(t)
		}
		return batch[0]
	}
	w.victim = (w.victim + 1) % n
	return nil
}

// park publishes the worker as idle and waits for an unpark, a bounded
// timeout, or shutdown. Queues are re-checked after publishing idleness so
// an enqueue racing with the transition cannot be missed.
func (w *worker) park() bool {
	rt := w.rt
	rt.idleMu.Lock()
	rt.idle = append(rt.idle, w)
	rt.idleMu.Unlock()

	if !rt.injector.empty() || w.local.size() != 0 {
		w.removeIdle()
		return !rt.closed.Load()
	}

	select {
	case <-w.parkCh:
		// Unparked: unparkOne already removed us from the idle list.
	case <-time.After(rt.parkTimeout):
		w.removeIdle()
	case <-rt.closeCh:
		w.removeIdle()
		return false
	}
	return !rt.closed.Load()
}

func (w *worker) removeIdle() {
	rt := w.rt
	rt.idleMu.Lock()
	for i, v := range rt.idle {
		if v == w {
			rt.idle = append(rt.idle[:i], rt.idle[i+1:]...)
			break
		}
	}
	rt.idleMu.Unlock()
}

// run advances a task by one step and resolves the resulting transition.
// A panic while advancing isolates to this task: it is marked failed with a
// [*Fault] and the worker continues.
func (w *worker) run(t *Task) {
	gen, ok := t.beginRun()
	if !ok {
		// Finalized while queued (e.g. cancelled from Paused and then woken
		// by a stale waker losing the race).
		return
	}
	if t.cancelRequested.Load() {
		t.failErr(ErrCancelled)
		t.complete(taskCancelled)
		return
	}

	t.ctx.waker = Waker{task: t, gen: gen}

	var fault *Fault
	kind := catchFault(
		func() stepKind { return t.step(&t.ctx) },
		func(err error) {
			t.failErr(err)
			fault, _ = err.(*Fault)
		},
	)
	if fault != nil {
		w.rt.log.Error("task fault",
			zap.Uint64("task", t.id),
			zap.Any("panic", fault.Value),
			zap.ByteString("stack", fault.Stack),
		)
	}

	switch kind {
	case stepPending:
		if t.suspend(gen) {
			// Woken during its own step: back to the local queue, never
			// advanced re-entrantly.
			w.local.push(t)
		}
	case stepDone:
		t.complete(taskDone)
	case stepFailed:
		t.complete(taskFailed)
	}
}
