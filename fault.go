// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Standard errors.
var (
	// ErrCancelled is the modeled error observed by consumers of a task
	// that was cancelled before completing.
	ErrCancelled = errors.New("aio: task cancelled")

	// ErrTimeout is the modeled error produced by [Timeout] when the timer
	// fires before the wrapped computation completes.
	ErrTimeout = errors.New("aio: timed out")

	// ErrRuntimeClosed is returned for operations on a closed [Runtime].
	ErrRuntimeClosed = errors.New("aio: runtime closed")

	// ErrReactorClosed is returned for operations on a closed [Reactor].
	ErrReactorClosed = errors.New("aio: reactor closed")
)

// Fault is a runtime fault: a defect encountered while driving a task, as
// opposed to a modeled error the computation declared in its result type.
// A panic during Advance is captured as a Fault, the task is marked failed,
// and the worker continues its dispatch loop — the fault never crosses task
// boundaries or corrupts scheduler state.
type Fault struct {
	// Value is the recovered panic value.
	Value any
	// Stack is the stack trace captured at recovery.
	Stack []byte
}

func newFault(v any) *Fault {
	return &Fault{Value: v, Stack: debug.Stack()}
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("aio: runtime fault: %v", f.Value)
}

// Unwrap exposes the panic value when it was itself an error, so that
// errors.Is and errors.As see through the fault wrapper.
func (f *Fault) Unwrap() error {
	if err, ok := f.Value.(error); ok {
		return err
	}
	return nil
}

// catchFault invokes f, converting a panic into a stepFailed result with the
// captured *Fault.
func catchFault(f func() stepKind, fail func(error)) (kind stepKind) {
	defer func() {
		if v := recover(); v != nil {
			fail(newFault(v))
			kind = stepFailed
		}
	}()
	return f()
}
