package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"statecache/internal/remote"
)

// Validate rejects configurations the server cannot start with. Settings
// that work but are likely mistakes come back as warnings.
func Validate(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	warnings := []string{}
	if err := validateListeners(cfg, &warnings); err != nil {
		return warnings, err
	}
	if err := validateRemote(cfg, &warnings); err != nil {
		return warnings, err
	}
	if err := validateDurations(cfg); err != nil {
		return warnings, err
	}
	if err := validateLedger(cfg, &warnings); err != nil {
		return warnings, err
	}
	return warnings, nil
}

func validateListeners(cfg *Config, warnings *[]string) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return errors.New("listen_addr is required")
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q: %w", cfg.ListenAddr, err)
	}
	if cfg.PeerListenAddr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.PeerListenAddr); err != nil {
		return fmt.Errorf("peer_listen_addr %q: %w", cfg.PeerListenAddr, err)
	}
	if cfg.PeerListenAddr == cfg.ListenAddr {
		return errors.New("peer_listen_addr must differ from listen_addr")
	}
	if strings.TrimSpace(cfg.RemoteURL) != "" {
		*warnings = append(*warnings, "peer server enabled while using a remote backend; peers see only this node's peer store")
	}
	return nil
}

func validateRemote(cfg *Config, warnings *[]string) error {
	if strings.TrimSpace(cfg.RemoteURL) == "" {
		return nil
	}
	if !remote.SupportedScheme(cfg.RemoteURL) {
		return fmt.Errorf("remote_url scheme not supported: %q", redactURL(cfg.RemoteURL))
	}
	if cfg.RemoteTimeout > 10*time.Second {
		*warnings = append(*warnings, "remote_timeout exceeds 10s; failover will be slow")
	}
	return nil
}

func validateDurations(cfg *Config) error {
	checks := []struct {
		name  string
		value time.Duration
	}{
		{"remote_timeout", cfg.RemoteTimeout},
		{"remote_retry_interval", cfg.RemoteRetryInterval},
		{"default_ttl", cfg.DefaultTTL},
		{"sweep_interval", cfg.SweepInterval},
		{"ledger_retention", cfg.LedgerRetention},
		{"ledger_prune_interval", cfg.LedgerPruneInterval},
		{"flag_window", cfg.FlagWindow},
	}
	for _, check := range checks {
		if check.value <= 0 {
			return fmt.Errorf("%s must be > 0", check.name)
		}
	}
	return nil
}

func validateLedger(cfg *Config, warnings *[]string) error {
	if cfg.LedgerCapacity <= 0 {
		return errors.New("ledger_capacity must be > 0")
	}
	if cfg.FlagThreshold < 0 {
		return errors.New("flag_threshold must be >= 0")
	}
	if strings.TrimSpace(cfg.SessionCookie) == "" {
		return errors.New("session_cookie is required")
	}
	if cfg.FlagWindow > cfg.LedgerRetention {
		*warnings = append(*warnings, "flag_window exceeds ledger_retention; counts are capped by retention")
	}
	if cfg.FlagThreshold > cfg.LedgerCapacity {
		*warnings = append(*warnings, "flag_threshold exceeds ledger_capacity; no origin can be rejected")
	}
	return nil
}

// redactURL drops credentials so errors can be logged.
func redactURL(raw string) string {
	if i := strings.Index(raw, "@"); i >= 0 {
		if j := strings.Index(raw, "://"); j >= 0 && j < i {
			return raw[:j+3] + "***" + raw[i:]
		}
	}
	return raw
}
