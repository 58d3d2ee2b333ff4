package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func waitTrigger(t *testing.T, triggered <-chan struct{}) {
	t.Helper()
	select {
	case <-triggered:
	case <-time.After(time.Second):
		t.Fatal("trigger did not fire")
	}
}

func requireNoTrigger(t *testing.T, triggered <-chan struct{}) {
	t.Helper()
	select {
	case <-triggered:
		t.Fatal("unexpected trigger")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebouncerFiresAfterQuiescence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	triggered := make(chan struct{}, 8)
	d := NewDebouncer(clock, time.Second, time.Second,
		func() bool { return false },
		func() { triggered <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	clock.BlockUntil(1)
	d.MarkDirty()
	clock.Advance(time.Second) // check tick: arms the quiescence wait

	clock.BlockUntil(2) // next check tick plus the quiescence wait
	clock.Advance(time.Second)
	waitTrigger(t, triggered)
}

func TestDebouncerSkipsWhileStillChanging(t *testing.T) {
	clock := clockwork.NewFakeClock()
	triggered := make(chan struct{}, 8)
	// long check interval keeps the loop tick out of the quiescence
	// window
	d := NewDebouncer(clock, 10*time.Second, time.Second,
		func() bool { return false },
		func() { triggered <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	clock.BlockUntil(1)
	d.MarkDirty()
	clock.Advance(10 * time.Second)

	clock.BlockUntil(2)
	d.MarkDirty() // a write lands during the quiescence wait
	clock.Advance(time.Second)
	requireNoTrigger(t, triggered)

	// the next check re-arms and, with the directory now quiet, fires
	clock.BlockUntil(1)
	clock.Advance(9 * time.Second)
	clock.BlockUntil(2)
	clock.Advance(time.Second)
	waitTrigger(t, triggered)
}

func TestDebouncerDefersWhileBusy(t *testing.T) {
	clock := clockwork.NewFakeClock()
	triggered := make(chan struct{}, 8)
	var busy atomic.Bool
	busy.Store(true)
	d := NewDebouncer(clock, time.Second, time.Second,
		busy.Load,
		func() { triggered <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	clock.BlockUntil(1)
	d.MarkDirty()
	clock.Advance(time.Second)
	requireNoTrigger(t, triggered)

	// the dirty flag survives a busy tick
	busy.Store(false)
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	clock.BlockUntil(2)
	clock.Advance(time.Second)
	waitTrigger(t, triggered)
}

func TestDebouncerIdleWithoutChanges(t *testing.T) {
	clock := clockwork.NewFakeClock()
	triggered := make(chan struct{}, 8)
	d := NewDebouncer(clock, time.Second, time.Second,
		func() bool { return false },
		func() { triggered <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}
	requireNoTrigger(t, triggered)
}

func TestDebouncerStopsOnCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDebouncer(clock, time.Second, time.Second,
		func() bool { return false }, func() {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	clock.BlockUntil(1)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NotPanics(t, d.MarkDirty)
}
