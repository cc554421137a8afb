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

// --- Race ---

func TestRaceImmediateWinner(t *testing.T) {
	rt := newRuntime(t)
	m := aio.Race(aio.Pure(1), aio.Then(aio.After(10*time.Second), aio.Pure(2)))
	v, err := aio.BlockOn(rt, m)
	if err != nil || v != 1 {
		t.Fatalf("got (%d, %v), want (1, nil)", v, err)
	}
}

func TestRaceSlowVersusFast(t *testing.T) {
	rt := newRuntime(t)
	slow := aio.Then(aio.After(10*time.Second), aio.Pure(1))
	fast := aio.Then(aio.After(5*time.Millisecond), aio.Pure(2))
	start := time.Now()
	v, err := aio.BlockOn(rt, aio.Race(slow, fast))
	if err != nil || v != 2 {
		t.Fatalf("got (%d, %v), want (2, nil)", v, err)
	}
	if time.Since(start) >= 10*time.Second {
		t.Fatal("race waited for the loser")
	}
}

func TestRaceTieFavorsFirst(t *testing.T) {
	rt := newRuntime(t)
	v, err := aio.BlockOn(rt, aio.Race(aio.Pure(1), aio.Pure(2)))
	if err != nil || v != 1 {
		t.Fatalf("got (%d, %v), want (1, nil)", v, err)
	}
}

func TestRaceErrorWins(t *testing.T) {
	rt := newRuntime(t)
	slow := aio.Then(aio.After(10*time.Second), aio.Pure(1))
	if _, err := aio.BlockOn(rt, aio.Race(aio.FailWith[int](errBoom), slow)); !errors.Is(err, errBoom) {
		t.Fatalf("got %v, want errBoom", err)
	}
}

// --- All2 ---

func TestAll2BothComplete(t *testing.T) {
	rt := newRuntime(t)
	a := aio.Then(aio.After(5*time.Millisecond), aio.Pure(1))
	b := aio.Pure("x")
	p, err := aio.BlockOn(rt, aio.All2(a, b))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.First != 1 || p.Second != "x" {
		t.Fatalf("got %+v, want {1 x}", p)
	}
}

func TestAll2FirstFailureWins(t *testing.T) {
	rt := newRuntime(t)
	a := aio.Then(aio.After(10*time.Second), aio.Pure(1))
	b := aio.FailWith[string](errBoom)
	start := time.Now()
	if _, err := aio.BlockOn(rt, aio.All2(a, b)); !errors.Is(err, errBoom) {
		t.Fatalf("got %v, want errBoom", err)
	}
	if time.Since(start) >= 10*time.Second {
		t.Fatal("All2 waited for the dropped computation")
	}
}
