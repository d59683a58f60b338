package cache

import (
	"sync/atomic"
	"time"
)

type Health int32

const (
	HealthUnconfigured Health = iota + 1
	HealthOK
	HealthDegraded
)

func (h Health) String() string {
	switch h {
	case HealthUnconfigured:
		return "unconfigured"
	case HealthOK:
		return "ok"
	case HealthDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

type Outcome int

const (
	RemoteSucceeded Outcome = iota + 1
	RemoteFailed
)

// Transition is the only place backend health changes are decided.
func Transition(current Health, outcome Outcome) Health {
	switch current {
	case HealthOK:
		if outcome == RemoteFailed {
			return HealthDegraded
		}
		return HealthOK
	case HealthDegraded:
		if outcome == RemoteSucceeded {
			return HealthOK
		}
		return HealthDegraded
	default:
		return HealthUnconfigured
	}
}

const DefaultRetryInterval = 30 * time.Second

// healthTracker holds the state of one facade. While degraded, a single call
// is let through to the remote once retryAt has passed.
type healthTracker struct {
	state         atomic.Int32
	retryAt       atomic.Int64
	probing       atomic.Bool
	retryInterval time.Duration
	onTransition  func(from Health, to Health)
}

func newHealthTracker(configured bool, retryInterval time.Duration, onTransition func(Health, Health)) *healthTracker {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	t := &healthTracker{retryInterval: retryInterval, onTransition: onTransition}
	if configured {
		t.state.Store(int32(HealthOK))
	} else {
		t.state.Store(int32(HealthUnconfigured))
	}
	return t
}

func (t *healthTracker) current() Health {
	return Health(t.state.Load())
}

// allow reports whether the remote may be tried now, and whether this call
// holds the degraded-mode probe slot.
func (t *healthTracker) allow(now time.Time) (bool, bool) {
	switch t.current() {
	case HealthOK:
		return true, false
	case HealthDegraded:
		if now.UnixNano() < t.retryAt.Load() {
			return false, false
		}
		if t.probing.CompareAndSwap(false, true) {
			return true, true
		}
		return false, false
	default:
		return false, false
	}
}

// report feeds one remote outcome through Transition. Only the caller whose
// compare-and-swap wins announces the transition, so each change is
// reported once no matter how many calls fail concurrently.
func (t *healthTracker) report(now time.Time, outcome Outcome, probe bool) {
	if probe {
		defer t.probing.Store(false)
	}
	for {
		from := t.current()
		to := Transition(from, outcome)
		if to == HealthDegraded && (from != HealthDegraded || probe) {
			t.retryAt.Store(now.Add(t.retryInterval).UnixNano())
		}
		if from == to {
			return
		}
		if t.state.CompareAndSwap(int32(from), int32(to)) {
			if t.onTransition != nil {
				t.onTransition(from, to)
			}
			return
		}
	}
}

// release frees the probe slot without recording an outcome.
func (t *healthTracker) release(probe bool) {
	if probe {
		t.probing.Store(false)
	}
}
