package expiry

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"statecache/internal/testutil"
)

func TestPassed(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name     string
		deadline time.Time
		want     bool
	}{
		{name: "future", deadline: now.Add(time.Second), want: false},
		{name: "exact", deadline: now, want: true},
		{name: "past", deadline: now.Add(-time.Second), want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Passed(tc.deadline, now); got != tc.want {
				t.Fatalf("Passed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLoopTicksUntilStopped(t *testing.T) {
	var ticks atomic.Int32
	loop := NewLoop(10*time.Millisecond, func(time.Time) {
		ticks.Add(1)
	})
	loop.Start()
	loop.Start()

	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() error {
		if ticks.Load() >= 3 {
			return nil
		}
		return errors.New("waiting for ticks")
	})

	loop.Stop()
	loop.Stop()
	if loop.Running() {
		t.Fatalf("expected loop to be stopped")
	}
	after := ticks.Load()
	time.Sleep(40 * time.Millisecond)
	if ticks.Load() != after {
		t.Fatalf("loop ticked after Stop: before=%d after=%d", after, ticks.Load())
	}
}

func TestLoopRestartAfterStop(t *testing.T) {
	var ticks atomic.Int32
	loop := NewLoop(5*time.Millisecond, func(time.Time) { ticks.Add(1) })
	loop.Start()
	loop.Stop()

	before := ticks.Load()
	loop.Start()
	defer loop.Stop()
	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() error {
		if ticks.Load() > before {
			return nil
		}
		return errors.New("no tick after restart")
	})
}

func TestLoopDisabledInterval(t *testing.T) {
	loop := NewLoop(0, func(time.Time) {})
	loop.Start()
	if loop.Running() {
		t.Fatalf("zero interval loop should not run")
	}
	loop.Stop()
}

func TestLoopSurvivesPanickingTick(t *testing.T) {
	var ticks atomic.Int32
	loop := NewLoop(5*time.Millisecond, func(time.Time) {
		if ticks.Add(1) == 1 {
			panic("boom")
		}
	})
	loop.Start()
	defer loop.Stop()

	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() error {
		if ticks.Load() >= 2 {
			return nil
		}
		return errors.New("loop did not survive panic")
	})
}
