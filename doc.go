// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aio executes effect-carrying computations on a multi-threaded
// work-stealing runtime with a readiness-based reactor.
//
// The core type [Computation] represents a suspendable unit of effectful
// work, advanced step-by-step by the runtime. A step either completes with
// a value, fails with a modeled error, or suspends after handing its
// [Waker] to an effect source. Control flow is fully inverted: the runtime
// polls computations, computations never block a worker thread.
//
// # Core Operations
//
// Minimal monad operations:
//
//   - [Pure]: Lift a value into a computation
//   - [Bind]: Sequence two computations
//
// Derived operations:
//
//   - [Map]: Apply a function to the result
//   - [Then]: Sequence, discarding the first result
//   - [Recover]: Handle a modeled error
//   - [FailWith]: Lift a modeled error
//   - [Yield]: Suspend once, letting other ready tasks run
//
// Bind short-circuits on failure and is associative: Bind(Bind(m, f), g)
// and Bind(m, func(a) { return Bind(f(a), g) }) are observably equivalent,
// which is the property a continuation-flattening refactor relies on.
// Every combinator is an explicit state machine — a stage tag plus owned
// locals — so nothing live across a suspension point refers to the stack of
// the step that produced it.
//
// # Runtime
//
// [New] constructs a [Runtime]: a fixed pool of worker goroutines, a global
// FIFO injector, one local deque per worker, and a [Reactor] on its own
// goroutine. Workers pop locally (LIFO), fall back to the injector (FIFO),
// then steal half a victim's deque from the far end, and finally park with
// a bounded wait.
//
//   - [Spawn]: Enqueue a top-level computation, returning a [Handle]
//   - [BlockOn]: Drive a computation to completion from synchronous code
//   - [Handle.Join]: Await a spawned task as a computation
//   - [Handle.Cancel]: Cooperative cancellation at the next suspension point
//   - [Runtime.Close]: Explicit shutdown
//
// # Wake Protocol
//
// A [Waker] is identified by (task, generation). Wake is safe from any
// goroutine, any number of times, at any point in the task's lifetime;
// concurrent wakes of one pending generation coalesce into a single
// enqueue, and a waker captured before the Nth suspension cannot wake the
// (N+1)th. A task woken during its own step is re-enqueued to the local
// queue, never advanced re-entrantly.
//
// # Reactor
//
// The [Reactor] maintains the registration table from (SourceID, Interest)
// to Waker and the timer heap, and fires ready wakers exactly once per
// registration in ascending registration order. Registration is one-shot
// and edge-triggered. [After] awaits a reactor timer; [Timeout] races a
// computation against one. On linux, [Poller] feeds epoll readiness into
// the reactor through one blocking syscall for all descriptors.
//
// # Error Channels
//
// Two disjoint channels, never conflated: modeled errors are [Failed]
// outcomes declared in the computation's result type and propagated by
// Bind; runtime faults (a panic while advancing) isolate to the faulting
// task, which fails with a [*Fault], while the worker carries on. Reactor
// and poller failures are fatal to that instance and surfaced to its owner
// via Err.
//
// # Effect Providers
//
// Any collaborator can supply computations; the runtime constrains them
// only to the Advance contract. [Chan] is a message-queue provider built on
// nothing but wakers; [AwaitReadable] and [AwaitWritable] await reactor
// sources; test doubles drive [Reactor.Ready] directly.
package aio
