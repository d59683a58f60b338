package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestStartAndShutdown(t *testing.T) {
	var stopped []string
	srv, err := Start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), "127.0.0.1:0", Options{
		Stoppers: []Stopper{
			StopFunc(func(ctx context.Context) error {
				stopped = append(stopped, "first")
				return nil
			}),
			nil,
			StopFunc(func(ctx context.Context) error {
				stopped = append(stopped, "second")
				return errors.New("boom")
			}),
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	if err := srv.Shutdown(); err == nil || err.Error() != "boom" {
		t.Fatalf("expected stopper error, got %v", err)
	}
	if len(stopped) != 2 || stopped[0] != "first" || stopped[1] != "second" {
		t.Fatalf("unexpected stop order %v", stopped)
	}
	if err := srv.Close(); err == nil {
		t.Fatalf("second shutdown should return the first result")
	}
	if len(stopped) != 2 {
		t.Fatalf("stoppers must run once, got %v", stopped)
	}

	if _, err := http.Get("http://" + srv.Addr + "/"); err == nil {
		t.Fatalf("expected listener to be closed")
	}
}

func TestStartRejectsMissingInput(t *testing.T) {
	if _, err := Start(nil, "127.0.0.1:0", Options{}); err == nil {
		t.Fatalf("expected error for nil handler")
	}
	if _, err := Start(http.NotFoundHandler(), "", Options{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
	var srv *Server
	if err := srv.Shutdown(); err != nil {
		t.Fatalf("nil server shutdown: %v", err)
	}
}
