package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"statecache/internal/cache"
	"statecache/internal/testutil"
)

func newMiniredisBackend(t *testing.T, opts Options) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	backend, err := OpenRedis("redis://"+server.Addr(), opts)
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend, server
}

func TestRedisBackendRoundTrip(t *testing.T) {
	backend, server := newMiniredisBackend(t, Options{Timeout: time.Second, KeyPrefix: "sc:"})
	ctx := context.Background()

	if err := backend.Set(ctx, "session:1", []byte(`{"user":"u1"}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !server.Exists("sc:session:1") {
		t.Fatalf("expected prefixed key in redis")
	}
	if ttl := server.TTL("sc:session:1"); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %v", ttl)
	}

	payload, found, err := backend.Get(ctx, "session:1")
	if err != nil || !found || string(payload) != `{"user":"u1"}` {
		t.Fatalf("unexpected get: payload=%q found=%v err=%v", payload, found, err)
	}

	if err := backend.Delete(ctx, "session:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, err := backend.Get(ctx, "session:1"); found || err != nil {
		t.Fatalf("expected miss after delete, found=%v err=%v", found, err)
	}
	if err := backend.Delete(ctx, "never-set"); err != nil {
		t.Fatalf("deleting a missing key should not fail: %v", err)
	}
}

func TestRedisBackendExpiry(t *testing.T) {
	backend, server := newMiniredisBackend(t, Options{Timeout: time.Second})
	ctx := context.Background()

	if err := backend.Set(ctx, "k", []byte(`1`), time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	server.FastForward(2 * time.Second)
	if _, found, err := backend.Get(ctx, "k"); found || err != nil {
		t.Fatalf("expected expired miss, found=%v err=%v", found, err)
	}
}

func TestRedisBackendUnavailable(t *testing.T) {
	backend, server := newMiniredisBackend(t, Options{Timeout: 200 * time.Millisecond})
	server.Close()

	_, _, err := backend.Get(context.Background(), "k")
	if !errors.Is(err, cache.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := backend.Set(context.Background(), "k", []byte(`1`), time.Minute); !errors.Is(err, cache.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on set, got %v", err)
	}
	if err := backend.Ping(context.Background()); !errors.Is(err, cache.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on ping, got %v", err)
	}
}

func TestFacadeOverRedisFailsOverAndRecovers(t *testing.T) {
	backend, server := newMiniredisBackend(t, Options{Timeout: 200 * time.Millisecond})
	facade := cache.NewFacade(cache.Config{Remote: backend, RetryInterval: 20 * time.Millisecond})
	facade.Start()
	defer facade.Stop()
	ctx := context.Background()

	facade.Set(ctx, "counter", 41, time.Minute)
	if value, ok := facade.Get(ctx, "counter"); !ok || value != float64(41) {
		t.Fatalf("expected remote value 41, got %v ok=%v", value, ok)
	}

	server.Close()
	facade.Set(ctx, "counter", 42, time.Minute)
	if facade.Health() != cache.HealthDegraded {
		t.Fatalf("expected degraded after redis outage, got %s", facade.Health())
	}
	if value, ok := facade.Get(ctx, "counter"); !ok || value != 42 {
		t.Fatalf("expected local value 42, got %v ok=%v", value, ok)
	}

	if err := server.Restart(); err != nil {
		t.Fatalf("restart miniredis: %v", err)
	}
	testutil.Eventually(t, 2*time.Second, 25*time.Millisecond, func() error {
		facade.Get(ctx, "counter")
		if facade.Health() != cache.HealthOK {
			return fmt.Errorf("health=%s", facade.Health())
		}
		return nil
	})
}
