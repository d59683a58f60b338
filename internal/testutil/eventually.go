package testutil

import (
	"testing"
	"time"
)

// Eventually polls fn until it returns nil or timeout elapses.
func Eventually(t testing.TB, timeout time.Duration, interval time.Duration, fn func() error) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		lastErr = fn()
		if lastErr == nil {
			return
		}
		time.Sleep(interval)
	}

	if lastErr != nil {
		t.Fatalf("condition not met: %v", lastErr)
	}
	t.Fatalf("condition not met before timeout")
}

// Consistently fails the test if fn returns an error at any poll within
// duration.
func Consistently(t testing.TB, duration time.Duration, interval time.Duration, fn func() error) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if err := fn(); err != nil {
			t.Fatalf("condition broken: %v", err)
		}
		time.Sleep(interval)
	}
}
