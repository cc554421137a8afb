// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

import (
	"errors"
	"sync"
)

// ErrChanClosed is the modeled error observed when sending on or receiving
// from a closed [Chan].
var ErrChanClosed = errors.New("aio: channel closed")

// Chan is a bounded message queue usable as an effect source between tasks.
// It demonstrates the pluggable-provider contract: it never touches the
// reactor or the scheduler, only the wakers handed to it by suspending
// computations. Both endpoints are computations, so neither side ever
// blocks a worker thread.
//
// On every state change Chan wakes all parked waiters of the affected side;
// a woken computation re-checks the queue and re-parks if another task beat
// it to the slot. Spurious wakes are absorbed by the wake protocol.
type Chan[T any] struct {
	mu      sync.Mutex
	buf     []T
	cap     int
	closed  bool
	senders []Waker
	readers []Waker
}

// NewChan constructs a channel holding at most capacity buffered messages.
// Capacity must be at least 1.
func NewChan[T any](capacity int) *Chan[T] {
	if capacity < 1 {
		panic("aio: NewChan requires capacity >= 1")
	}
	return &Chan[T]{cap: capacity}
}

// Close closes the channel. Parked senders and receivers wake and observe
// [ErrChanClosed]; buffered messages are discarded.
func (c *Chan[T]) Close() {
	c.mu.Lock()
	c.closed = true
	c.buf = nil
	senders, readers := c.senders, c.readers
	c.senders, c.readers = nil, nil
	c.mu.Unlock()
	for _, w := range senders {
		w.Wake()
	}
	for _, w := range readers {
		w.Wake()
	}
}

type sendComputation[T any] struct {
	c *Chan[T]
	v T
}

func (s *sendComputation[T]) Advance(ctx *Context) Outcome[struct{}] {
	c := s.c
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Failed[struct{}](ErrChanClosed)
	}
	if len(c.buf) < c.cap {
		c.buf = append(c.buf, s.v)
		readers := c.readers
		c.readers = nil
		c.mu.Unlock()
		for _, w := range readers {
			w.Wake()
		}
		return Done(struct{}{})
	}
	c.senders = append(c.senders, ctx.Waker())
	c.mu.Unlock()
	return Pending[struct{}]()
}

// Send returns a computation that enqueues v, suspending while the buffer
// is full.
func (c *Chan[T]) Send(v T) Computation[struct{}] {
	return &sendComputation[T]{c: c, v: v}
}

type recvComputation[T any] struct {
	c *Chan[T]
}

func (r *recvComputation[T]) Advance(ctx *Context) Outcome[T] {
	c := r.c
	c.mu.Lock()
	if len(c.buf) > 0 {
		v := c.buf[0]
		c.buf = c.buf[1:]
		senders := c.senders
		c.senders = nil
		c.mu.Unlock()
		for _, w := range senders {
			w.Wake()
		}
		return Done(v)
	}
	if c.closed {
		c.mu.Unlock()
		return Failed[T](ErrChanClosed)
	}
	c.readers = append(c.readers, ctx.Waker())
	c.mu.Unlock()
	return Pending[T]()
}

// Recv returns a computation that dequeues the next message, suspending
// while the buffer is empty. Receiving from a closed, drained channel
// fails with [ErrChanClosed].
func (c *Chan[T]) Recv() Computation[T] {
	return &recvComputation[T]{c: c}
}
