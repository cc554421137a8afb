// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aio_test

import (
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/aio"
)

// --- After ---

func TestAfterCompletes(t *testing.T) {
	rt := newRuntime(t)
	start := time.Now()
	v, err := aio.BlockOn(rt, aio.Then(aio.After(10*time.Millisecond), aio.Pure(42)))
	if err != nil || v != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", v, err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("completed after %v, want >= 10ms", elapsed)
	}
}

func TestAfterZeroCompletesImmediately(t *testing.T) {
	rt := newRuntime(t)
	if _, err := aio.BlockOn(rt, aio.After(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAfterConcurrentTimers(t *testing.T) {
	rt := newRuntime(t)
	durations := []time.Duration{
		2 * time.Millisecond,
		15 * time.Millisecond,
		5 * time.Millisecond,
		1 * time.Millisecond,
	}
	handles := make([]*aio.Handle[struct{}], len(durations))
	start := time.Now()
	for i, d := range durations {
		handles[i] = aio.Spawn(rt, aio.After(d))
	}
	for i, h := range handles {
		if _, err := awaitHandle(t, h); err != nil {
			t.Fatalf("timer %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("all timers done after %v, want >= 15ms", elapsed)
	}
}

// --- Timeout ---

func TestTimeoutExpires(t *testing.T) {
	rt := newRuntime(t)
	start := time.Now()
	slow := aio.Then(aio.After(10*time.Second), aio.Pure(1))
	_, err := aio.BlockOn(rt, aio.Timeout(slow, 10*time.Millisecond))
	if !errors.Is(err, aio.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed >= 10*time.Second {
		t.Fatal("timeout waited for the wrapped computation")
	}
}

func TestTimeoutCompletesInTime(t *testing.T) {
	rt := newRuntime(t)
	fast := aio.Then(aio.After(5*time.Millisecond), aio.Pure(7))
	v, err := aio.BlockOn(rt, aio.Timeout(fast, 5*time.Second))
	if err != nil || v != 7 {
		t.Fatalf("got (%d, %v), want (7, nil)", v, err)
	}
}

func TestTimeoutPropagatesFailure(t *testing.T) {
	rt := newRuntime(t)
	_, err := aio.BlockOn(rt, aio.Timeout(aio.FailWith[int](errBoom), time.Second))
	if !errors.Is(err, errBoom) {
		t.Fatalf("got %v, want errBoom", err)
	}
}
