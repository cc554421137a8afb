// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

import (
	"container/heap"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SourceID identifies an effect source registered with a [Reactor].
// Allocate with [Reactor.AllocSource]; an fd-backed source obtains one from
// its [Poller].
type SourceID uint64

// Interest is the kind of readiness awaited on a source.
type Interest uint8

const (
	// InterestReadable awaits read readiness.
	InterestReadable Interest = 1 + iota
	// InterestWritable awaits write readiness.
	InterestWritable
)

// String implements fmt.Stringer.
func (i Interest) String() string {
	switch i {
	case InterestReadable:
		return "readable"
	case InterestWritable:
		return "writable"
	}
	return "invalid"
}

type regKey struct {
	src      SourceID
	interest Interest
}

// regToken identifies one outstanding registration in a task's set:
// either a (source, interest) table entry or a timer.
type regToken struct {
	key   regKey
	timer TimerID
}

type registration struct {
	waker Waker
	seq   uint64
}

// TimerID identifies a one-shot timer registered with a [Reactor].
type TimerID uint64

type timerEntry struct {
	id        TimerID
	deadline  time.Time
	waker     Waker
	seq       uint64
	index     int
	cancelled bool
}

// timerHeap orders timers by deadline; ties resolve by registration order.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Reactor multiplexes the runtime's effect sources onto one blocking wait
// per poll. It maintains the registration table mapping (source, interest)
// to the Waker to fire on readiness, plus the timer heap that supplies the
// poll deadline — timers are just another effect source.
//
// Firing is edge-triggered and one-shot: a ready registration fires its
// Waker exactly once and is removed; awaiting the next event requires
// re-registration. Within a single poll, ready registrations fire in
// ascending registration order, which keeps interleavings reproducible.
//
// Readiness marks arriving before a matching registration persist until a
// registration consumes them, so a source signalling just before the task
// suspends cannot produce a lost wake-up.
type Reactor struct {
	log *zap.Logger

	mu        sync.Mutex
	table     map[regKey]registration
	readiness map[regKey]struct{}
	timers    timerHeap
	timerByID map[TimerID]*timerEntry
	seq       uint64
	err       error

	nextSource atomic.Uint64
	nextTimer  atomic.Uint64

	wakeCh    chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewReactor constructs a reactor. A nil logger defaults to zap.NewNop().
// A reactor constructed directly is polled by its owner; the one inside a
// [Runtime] runs its own poll loop.
func NewReactor(log *zap.Logger) *Reactor {
	return newReactor(log)
}

func newReactor(log *zap.Logger) *Reactor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reactor{
		log:       log,
		table:     make(map[regKey]registration),
		readiness: make(map[regKey]struct{}),
		timerByID: make(map[TimerID]*timerEntry),
		wakeCh:    make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
}

// AllocSource allocates a fresh source identity.
func (r *Reactor) AllocSource() SourceID {
	return SourceID(r.nextSource.Add(1))
}

// Register stores w as the waker to fire when (src, interest) becomes
// ready. At most one live registration exists per (src, interest) pair;
// re-registration deterministically overwrites the previous waker.
func (r *Reactor) Register(src SourceID, interest Interest, w Waker) {
	key := regKey{src: src, interest: interest}
	r.mu.Lock()
	r.seq++
	r.table[key] = registration{waker: w, seq: r.seq}
	_, alreadyReady := r.readiness[key]
	r.mu.Unlock()
	if alreadyReady {
		r.signal()
	}
}

// Deregister removes the registration and any unconsumed readiness mark
// for (src, interest). No-op if absent.
func (r *Reactor) Deregister(src SourceID, interest Interest) {
	key := regKey{src: src, interest: interest}
	r.mu.Lock()
	delete(r.table, key)
	delete(r.readiness, key)
	r.mu.Unlock()
}

// deregisterOwned removes the registration only while it still belongs to
// owner. The token drain in Task cancellation must not tear down a
// registration that another task installed by overwriting the pair.
func (r *Reactor) deregisterOwned(key regKey, owner *Task) {
	r.mu.Lock()
	if reg, ok := r.table[key]; ok && reg.waker.task == owner {
		delete(r.table, key)
		delete(r.readiness, key)
	}
	r.mu.Unlock()
}

// Ready marks (src, interest) as ready. Callable from any goroutine; this
// is how external pollers and test harnesses inject events.
func (r *Reactor) Ready(src SourceID, interest Interest) {
	key := regKey{src: src, interest: interest}
	r.mu.Lock()
	r.readiness[key] = struct{}{}
	r.mu.Unlock()
	r.signal()
}

// RegisterTimer registers a one-shot timer firing w at deadline.
func (r *Reactor) RegisterTimer(deadline time.Time, w Waker) TimerID {
	id := TimerID(r.nextTimer.Add(1))
	r.mu.Lock()
	r.seq++
	e := &timerEntry{id: id, deadline: deadline, waker: w, seq: r.seq}
	heap.Push(&r.timers, e)
	r.timerByID[id] = e
	earliest := r.timers[0] == e
	r.mu.Unlock()
	if earliest {
		// The poll deadline shrank; wake the poller to re-evaluate.
		r.signal()
	}
	return id
}

// CancelTimer cancels a pending timer. No-op if it already fired.
func (r *Reactor) CancelTimer(id TimerID) {
	r.mu.Lock()
	if e, ok := r.timerByID[id]; ok {
		e.cancelled = true
		delete(r.timerByID, id)
	}
	r.mu.Unlock()
}

func (r *Reactor) cancelToken(tok regToken, owner *Task) {
	if tok.timer != 0 {
		r.CancelTimer(tok.timer)
		return
	}
	r.deregisterOwned(tok.key, owner)
}

func (r *Reactor) signal() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// collect removes every now-ready registration and expired timer under the
// lock and returns their wakers in ascending registration order.
func (r *Reactor) collect(now time.Time) []Waker {
	type firing struct {
		waker Waker
		seq   uint64
	}
	var fired []firing

	r.mu.Lock()
	for len(r.timers) > 0 {
		top := r.timers[0]
		if top.cancelled {
			heap.Pop(&r.timers)
			continue
		}
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&r.timers)
		delete(r.timerByID, top.id)
		fired = append(fired, firing{waker: top.waker, seq: top.seq})
	}
	for key := range r.readiness {
		reg, ok := r.table[key]
		if !ok {
			continue
		}
		delete(r.table, key)
		delete(r.readiness, key)
		fired = append(fired, firing{waker: reg.waker, seq: reg.seq})
	}
	r.mu.Unlock()

	slices.SortFunc(fired, func(a, b firing) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	ws := make([]Waker, len(fired))
	for i, f := range fired {
		ws[i] = f.waker
	}
	return ws
}

// nextDeadline returns the earliest live timer deadline.
func (r *Reactor) nextDeadline() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.timers) > 0 {
		if r.timers[0].cancelled {
			heap.Pop(&r.timers)
			continue
		}
		return r.timers[0].deadline, true
	}
	return time.Time{}, false
}

// Poll blocks until at least one registration is ready, the earliest timer
// expires, or timeout elapses (timeout < 0 means no limit), then fires each
// ready waker exactly once, removing its registration, and returns the
// number fired. Poll may return early with zero fired wakers; callers must
// tolerate spurious returns.
func (r *Reactor) Poll(timeout time.Duration) (int, error) {
	select {
	case <-r.closeCh:
		return 0, ErrReactorClosed
	default:
	}

	if n := r.fire(time.Now()); n > 0 {
		return n, nil
	}

	wait := timeout
	if deadline, ok := r.nextDeadline(); ok {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		if wait < 0 || d < wait {
			wait = d
		}
	}

	var timerC <-chan time.Time
	if wait >= 0 {
		tm := time.NewTimer(wait)
		defer tm.Stop()
		timerC = tm.C
	}
	select {
	case <-r.wakeCh:
	case <-timerC:
	case <-r.closeCh:
		return 0, ErrReactorClosed
	}

	return r.fire(time.Now()), nil
}

func (r *Reactor) fire(now time.Time) int {
	ws := r.collect(now)
	for _, w := range ws {
		w.Wake()
	}
	return len(ws)
}

// run is the poll loop driven on the reactor's own goroutine by [New].
// A poll failure other than closure is fatal to this reactor instance:
// it is logged, stored for [Reactor.Err], and the loop exits.
func (r *Reactor) run() {
	for {
		if _, err := r.Poll(-1); err != nil {
			if errors.Is(err, ErrReactorClosed) {
				return
			}
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
			r.log.Error("reactor failed", zap.Error(err))
			return
		}
	}
}

// Err returns the fatal error that stopped the reactor, if any.
func (r *Reactor) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close stops the reactor. Pending registrations never fire.
func (r *Reactor) Close() {
	r.closeOnce.Do(func() { close(r.closeCh) })
}

// registeredOwned reports whether (src, interest) is still registered with
// a waker belonging to owner.
func (r *Reactor) registeredOwned(key regKey, owner *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.table[key]
	return ok && reg.waker.task == owner
}

// readyComputation awaits one edge-triggered readiness event. Each advance
// refreshes the registration with the task's current waker, so a spurious
// wake (another waker of the same task firing first) cannot strand a stale
// generation in the table. The registration disappearing means it fired.
type readyComputation struct {
	src      SourceID
	interest Interest
	armed    bool
}

func (c *readyComputation) Advance(ctx *Context) Outcome[struct{}] {
	key := regKey{src: c.src, interest: c.interest}
	if c.armed && !ctx.Reactor().registeredOwned(key, ctx.task) {
		return Done(struct{}{})
	}
	c.armed = true
	ctx.RegisterSource(c.src, c.interest)
	return Pending[struct{}]()
}

// AwaitReadable returns a computation that completes when src signals read
// readiness. Firing is edge-triggered: callers attempt the operation first
// and await only after it would block, then retry after completion.
func AwaitReadable(src SourceID) Computation[struct{}] {
	return &readyComputation{src: src, interest: InterestReadable}
}

// AwaitWritable returns a computation that completes when src signals
// write readiness. Same edge-triggered contract as [AwaitReadable].
func AwaitWritable(src SourceID) Computation[struct{}] {
	return &readyComputation{src: src, interest: InterestWritable}
}
