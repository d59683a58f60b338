package cache

import (
	"sort"
	"sync"
	"time"

	"statecache/internal/expiry"
)

const DefaultSweepInterval = 60 * time.Second

// TTLStore is an in-process expiring map. Every operation, the periodic
// sweep included, runs under one mutex.
type TTLStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
	sweeper *expiry.Loop
	onSweep func(removed int, remaining int)
}

type TTLStoreConfig struct {
	// SweepInterval <= 0 uses DefaultSweepInterval.
	SweepInterval time.Duration
	OnSweep       func(removed int, remaining int)
}

func NewTTLStore(cfg TTLStoreConfig) *TTLStore {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &TTLStore{
		entries: make(map[string]Entry),
		now:     time.Now,
		onSweep: cfg.OnSweep,
	}
	s.sweeper = expiry.NewLoop(interval, func(time.Time) {
		s.Sweep()
	})
	return s
}

// Start launches the background sweep.
func (s *TTLStore) Start() {
	if s == nil {
		return
	}
	s.sweeper.Start()
}

func (s *TTLStore) Stop() {
	if s == nil {
		return
	}
	s.sweeper.Stop()
}

func (s *TTLStore) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if entry.Expired(s.now()) {
		delete(s.entries, key)
		return nil, false
	}
	return entry.Value, true
}

func (s *TTLStore) Set(key string, value any, ttl time.Duration) error {
	if s == nil {
		return ErrStoreNotInitialized
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	s.mu.Lock()
	now := s.now()
	s.entries[key] = Entry{Value: value, ExpiresAt: now.Add(ttl), StoredAt: now}
	s.mu.Unlock()
	return nil
}

func (s *TTLStore) Delete(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Sweep removes every expired entry and returns how many were dropped.
func (s *TTLStore) Sweep() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if s.onSweep != nil {
		s.onSweep(removed, remaining)
	}
	return removed
}

// Len counts held entries, including expired ones the sweep has not reached.
func (s *TTLStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the unexpired keys in sorted order.
func (s *TTLStore) Keys() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	now := s.now()
	keys := make([]string, 0, len(s.entries))
	for key, entry := range s.entries {
		if !entry.Expired(now) {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}
