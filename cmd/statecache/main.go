package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"statecache/internal/cache"
	"statecache/internal/config"
	"statecache/internal/inspect"
	"statecache/internal/ledger"
	"statecache/internal/obs"
	"statecache/internal/remote"
	"statecache/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	warnings, err := config.Validate(cfg)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	for _, warning := range warnings {
		log.Printf("config warning: %s", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.SetupTracing(ctx, obs.TracingConfig{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	metrics := obs.NewMetrics()
	events := obs.NewEventLog(os.Stdout)

	backend, err := remote.Open(cfg.RemoteURL, remote.Options{
		Timeout:   cfg.RemoteTimeout,
		KeyPrefix: cfg.RemoteKeyPrefix,
	})
	if err != nil {
		log.Fatalf("remote backend: %v", err)
	}
	if pinger, ok := backend.(remote.Pinger); ok {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.RemoteTimeout)
		if err := pinger.Ping(pingCtx); err != nil {
			log.Printf("remote backend %s not reachable at startup: %v", backend.Name(), err)
		}
		cancel()
	}

	facade := cache.NewFacade(cache.Config{
		SweepInterval: cfg.SweepInterval,
		Remote:        backend,
		DefaultTTL:    cfg.DefaultTTL,
		RemoteTimeout: cfg.RemoteTimeout,
		RetryInterval: cfg.RemoteRetryInterval,
		Metrics:       metrics,
		Events:        events,
	})
	facade.Start()

	fingerprints := ledger.New(ledger.Config{
		Capacity:      cfg.LedgerCapacity,
		Retention:     cfg.LedgerRetention,
		PruneInterval: cfg.LedgerPruneInterval,
		Metrics:       metrics,
	})
	fingerprints.Start()

	stoppers := []server.Stopper{
		server.StopFunc(func(context.Context) error {
			facade.Stop()
			return nil
		}),
		server.StopFunc(func(context.Context) error {
			fingerprints.Stop()
			return nil
		}),
	}

	if cfg.PeerListenAddr != "" {
		peerStore := cache.NewTTLStore(cache.TTLStoreConfig{SweepInterval: cfg.SweepInterval})
		peerStore.Start()
		peer := remote.NewServer(peerStore)
		if err := peer.Start(cfg.PeerListenAddr); err != nil {
			log.Fatalf("start peer server: %v", err)
		}
		log.Printf("peer cache listening on grpc://%s", peer.Addr())
		stoppers = append([]server.Stopper{peer, server.StopFunc(func(context.Context) error {
			peerStore.Stop()
			return nil
		})}, stoppers...)
	}

	stoppers = append(stoppers, server.StopFunc(shutdownTracing))

	httpServer, err := server.Start(server.NewHandler(server.Deps{
		Facade:  facade,
		Ledger:  fingerprints,
		Metrics: metrics,
		Inspect: inspect.Config{
			SessionCookie:     cfg.SessionCookie,
			TrustForwardedFor: cfg.TrustForwardedFor,
			Threshold:         cfg.FlagThreshold,
			Window:            cfg.FlagWindow,
			Metrics:           metrics,
		},
	}), cfg.ListenAddr, server.Options{
		GracefulTimeout: 10 * time.Second,
		Stoppers:        stoppers,
	})
	if err != nil {
		log.Fatalf("start server: %v", err)
	}
	log.Printf("listening on http://%s (backend %s)", httpServer.Addr, facade.Health())

	<-ctx.Done()
	log.Printf("shutting down")
	if err := httpServer.Shutdown(); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
