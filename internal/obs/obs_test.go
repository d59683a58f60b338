package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEventLogWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	events := NewEventLog(&buf)
	events.Log(Event{Event: "backend_transition", From: "ok", To: "degraded"})
	events.Log(Event{Event: "malformed_payload", Key: RedactKey("session:abc")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if first.Component != "cache" {
		t.Fatalf("expected default component cache, got %q", first.Component)
	}
	if first.Timestamp == "" {
		t.Fatalf("expected timestamp")
	}
	if strings.Contains(lines[1], "session:abc") {
		t.Fatalf("raw key leaked into log: %s", lines[1])
	}
}

func TestRedactKeyStable(t *testing.T) {
	a := RedactKey("usage:42")
	b := RedactKey("usage:42")
	if a != b {
		t.Fatalf("expected stable digest")
	}
	if !strings.HasPrefix(a, "sha256:") {
		t.Fatalf("unexpected digest format %q", a)
	}
	if RedactKey("") != "" {
		t.Fatalf("empty key should stay empty")
	}
}

func TestMetricsHandlerExposesSeries(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordCacheRequest("get", "local", "hit")
	metrics.RecordBackendTransition("ok", "degraded")
	metrics.ObserveRemote("get", 5*time.Millisecond, true)
	metrics.SetLocalEntries(3)
	metrics.RecordLedgerEviction("capacity", 1)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, name := range []string{
		"statecache_cache_requests_total",
		"statecache_backend_transitions_total",
		"statecache_remote_errors_total",
		"statecache_local_entries 3",
		"statecache_ledger_evictions_total",
	} {
		if !strings.Contains(text, name) {
			t.Fatalf("expected %q in metrics output", name)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.RecordCacheRequest("get", "local", "hit")
	metrics.RecordBackendTransition("ok", "degraded")
	metrics.SetLocalEntries(1)
	metrics.RecordSweep(2)
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 503 {
		t.Fatalf("expected 503 from nil metrics handler, got %d", rec.Code)
	}
}

func TestSetupTracingNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{Enabled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupTracingWithEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{
		Enabled:  true,
		Endpoint: "http://192.0.2.1:4318",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
