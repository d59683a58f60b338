package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr     string `env:"STATECACHE_LISTEN_ADDR" envDefault:"127.0.0.1:8080"`
	PeerListenAddr string `env:"STATECACHE_PEER_LISTEN_ADDR"`

	RemoteURL           string        `env:"STATECACHE_REMOTE_URL"`
	RemoteKeyPrefix     string        `env:"STATECACHE_REMOTE_KEY_PREFIX" envDefault:"statecache:"`
	RemoteTimeout       time.Duration `env:"STATECACHE_REMOTE_TIMEOUT" envDefault:"2s"`
	RemoteRetryInterval time.Duration `env:"STATECACHE_REMOTE_RETRY_INTERVAL" envDefault:"30s"`
	DefaultTTL          time.Duration `env:"STATECACHE_DEFAULT_TTL" envDefault:"5m"`
	SweepInterval       time.Duration `env:"STATECACHE_SWEEP_INTERVAL" envDefault:"60s"`

	LedgerCapacity      int           `env:"STATECACHE_LEDGER_CAPACITY" envDefault:"10000"`
	LedgerRetention     time.Duration `env:"STATECACHE_LEDGER_RETENTION" envDefault:"24h"`
	LedgerPruneInterval time.Duration `env:"STATECACHE_LEDGER_PRUNE_INTERVAL" envDefault:"1h"`
	FlagThreshold       int           `env:"STATECACHE_FLAG_THRESHOLD" envDefault:"0"`
	FlagWindow          time.Duration `env:"STATECACHE_FLAG_WINDOW" envDefault:"1h"`
	SessionCookie       string        `env:"STATECACHE_SESSION_COOKIE" envDefault:"sid"`
	TrustForwardedFor   bool          `env:"STATECACHE_TRUST_FORWARDED_FOR" envDefault:"false"`

	OTelEnabled     bool   `env:"STATECACHE_OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"statecache"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
