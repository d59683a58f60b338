package remote

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"statecache/internal/cache"
)

type peerHarness struct {
	store   *cache.TTLStore
	server  *Server
	backend *GRPCBackend
}

func startPeer(t *testing.T) *peerHarness {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	store := cache.NewTTLStore(cache.TTLStoreConfig{})
	server := NewServer(store)
	go func() {
		_ = server.Serve(listener)
	}()

	backend, err := DialGRPC("passthrough:///bufnet", Options{
		Timeout: 500 * time.Millisecond,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return listener.DialContext(ctx)
			}),
		},
	})
	if err != nil {
		t.Fatalf("dial peer: %v", err)
	}
	t.Cleanup(func() {
		_ = backend.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return &peerHarness{store: store, server: server, backend: backend}
}

func TestGRPCBackendRoundTrip(t *testing.T) {
	peer := startPeer(t)
	ctx := context.Background()

	if err := peer.backend.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := peer.backend.Set(ctx, "answer", []byte(`42`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if peer.store.Len() != 1 {
		t.Fatalf("expected peer store to hold the entry")
	}

	payload, found, err := peer.backend.Get(ctx, "answer")
	if err != nil || !found || string(payload) != "42" {
		t.Fatalf("unexpected get payload=%q found=%v err=%v", payload, found, err)
	}

	if err := peer.backend.Delete(ctx, "answer"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, err := peer.backend.Get(ctx, "answer"); found || err != nil {
		t.Fatalf("expected miss after delete, found=%v err=%v", found, err)
	}
}

func TestGRPCBackendRejectsInvalidRequests(t *testing.T) {
	peer := startPeer(t)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{name: "zero ttl", call: func() error { return peer.backend.Set(ctx, "k", []byte(`1`), 0) }},
		{name: "empty key set", call: func() error { return peer.backend.Set(ctx, "", []byte(`1`), time.Minute) }},
		{name: "empty key get", call: func() error {
			_, _, err := peer.backend.Get(ctx, "")
			return err
		}},
		{name: "empty key delete", call: func() error { return peer.backend.Delete(ctx, "") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			if !errors.Is(err, cache.ErrRejected) {
				t.Fatalf("expected ErrRejected, got %v", err)
			}
			if errors.Is(err, cache.ErrUnavailable) {
				t.Fatalf("a refused request is not an outage: %v", err)
			}
		})
	}
	if peer.store.Len() != 0 {
		t.Fatalf("rejected sets must not store")
	}
}

func TestGRPCBackendRoundsSubMillisecondTTL(t *testing.T) {
	peer := startPeer(t)
	if err := peer.backend.Set(context.Background(), "brief", []byte(`1`), 500*time.Microsecond); err != nil {
		t.Fatalf("sub-millisecond ttl should be accepted, got %v", err)
	}
	if got := ttlMillis(500 * time.Microsecond); got != 1 {
		t.Fatalf("expected rounding up to 1ms, got %d", got)
	}
	if got := ttlMillis(1500 * time.Millisecond); got != 1500 {
		t.Fatalf("expected 1500ms, got %d", got)
	}
}

func TestGRPCBackendKeepsNonASCIIKeys(t *testing.T) {
	peer := startPeer(t)
	ctx := context.Background()
	key := "user:é\n/42 ✓"

	if err := peer.backend.Set(ctx, key, []byte(`"v"`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok := peer.store.Get(key); !ok {
		t.Fatalf("peer store should hold the exact key")
	}
	payload, found, err := peer.backend.Get(ctx, key)
	if err != nil || !found || string(payload) != `"v"` {
		t.Fatalf("unexpected get payload=%q found=%v err=%v", payload, found, err)
	}
}

func TestGRPCBackendUnavailableAfterStop(t *testing.T) {
	peer := startPeer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := peer.server.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	start := time.Now()
	_, _, err := peer.backend.Get(context.Background(), "k")
	if !errors.Is(err, cache.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("get exceeded timeout bound: %v", elapsed)
	}
}

func TestFacadeOverGRPCPeer(t *testing.T) {
	peer := startPeer(t)
	facade := cache.NewFacade(cache.Config{Remote: peer.backend, RetryInterval: time.Hour})
	facade.Start()
	defer facade.Stop()
	ctx := context.Background()

	facade.Set(ctx, "session:7", map[string]any{"turns": 2}, time.Minute)
	var got struct {
		Turns int `json:"turns"`
	}
	if !facade.GetJSON(ctx, "session:7", &got) || got.Turns != 2 {
		t.Fatalf("expected session from peer, got %+v", got)
	}
	if stats := facade.Stats(); stats.Backend != "remote" || stats.LocalEntryCount != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = peer.server.Stop(stopCtx)

	facade.Set(ctx, "session:8", "local", time.Minute)
	if stats := facade.Stats(); stats.Backend != "local" || stats.RemoteConnected || stats.LocalEntryCount != 1 {
		t.Fatalf("unexpected degraded stats %+v", stats)
	}
}

func TestFacadeOverGRPCPeerKeepsHealthOnRejectedCalls(t *testing.T) {
	peer := startPeer(t)
	facade := cache.NewFacade(cache.Config{Remote: peer.backend, RetryInterval: time.Hour})
	facade.Start()
	defer facade.Stop()
	ctx := context.Background()

	facade.Set(ctx, "k", "v", 500*time.Microsecond)
	facade.Set(ctx, "", "v", time.Minute)
	facade.Get(ctx, "")
	facade.Delete(ctx, "")

	if facade.Health() != cache.HealthOK {
		t.Fatalf("healthy peer must stay ok, got %s", facade.Health())
	}
	facade.Set(ctx, "after", "v", time.Minute)
	if _, ok := peer.store.Get("after"); !ok {
		t.Fatalf("writes should keep going to the peer")
	}
}

func TestServerStartOverTCP(t *testing.T) {
	store := cache.NewTTLStore(cache.TTLStoreConfig{})
	server := NewServer(store)
	if server.Addr() != "" {
		t.Fatalf("expected no address before start")
	}
	if err := server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})

	backend, err := DialGRPC(server.Addr(), Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer backend.Close()
	if err := backend.Ping(context.Background()); err != nil {
		t.Fatalf("ping over tcp: %v", err)
	}
	if err := backend.Set(context.Background(), "k", []byte(`1`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected entry in the served store")
	}
}
