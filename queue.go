// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

import "sync"

// Work queues. One global FIFO injector receives cross-thread spawns and
// reactor wake-ups; each worker owns a deque whose back end serves the
// owner's LIFO push/pop (cache-friendly for recently woken subtasks) and
// whose front end serves thieves (FIFO, away from the owner's hot end).
//
// Both are narrowly locked: each operation holds its one mutex for a few
// pointer moves, and no operation ever holds two queue locks at once.
// A task is in at most one queue at any time; steals move ownership under
// the victim's lock, so nothing is lost or duplicated.

// injector is the global FIFO queue.
type injector struct {
	mu    sync.Mutex
	items []*Task
	head  int
}

func (q *injector) push(t *Task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
}

func (q *injector) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.items) {
		return nil
	}
	t := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return t
}

func (q *injector) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head == len(q.items)
}

// deque is a worker-local double-ended queue.
type deque struct {
	mu    sync.Mutex
	items []*Task
}

// push appends to the back (owner end).
func (q *deque) push(t *Task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
}

// pop removes from the back (owner end, LIFO).
func (q *deque) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n == 0 {
		return nil
	}
	t := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	return t
}

// stealBatch removes up to half of the queue from the front (thief end)
// and returns the batch. The victim's lock is held only for the move.
func (q *deque) stealBatch() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n == 0 {
		return nil
	}
	take := (n + 1) / 2
	batch := make([]*Task, take)
	copy(batch, q.items[:take])
	rest := copy(q.items, q.items[take:])
	for i := rest; i < n; i++ {
		q.items[i] = nil
	}
	q.items = q.items[:rest]
	return batch
}

func (q *deque) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
