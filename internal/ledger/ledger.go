// Package ledger keeps a bounded, expiring record of recent client
// fingerprints and answers per-origin rate questions over it.
//
// The ledger is an anomaly buffer, not an identity store, and records are
// lossy. Capacity eviction drops the oldest record without notice, and
// every record is pruned once it outlives the retention window.
package ledger

import (
	"sort"
	"sync"
	"time"

	"statecache/internal/expiry"
	"statecache/internal/obs"
)

const (
	DefaultCapacity      = 10000
	DefaultRetention     = 24 * time.Hour
	DefaultPruneInterval = time.Hour
)

type Record struct {
	SessionID        string    `json:"session_id"`
	OriginIP         string    `json:"origin_ip"`
	UserAgentSummary string    `json:"user_agent_summary"`
	ScreenSignature  string    `json:"screen_signature"`
	Timezone         string    `json:"timezone"`
	Locale           string    `json:"locale"`
	CreatedAt        time.Time `json:"created_at"`
}

type OriginCount struct {
	Origin string `json:"origin"`
	Count  int    `json:"count"`
}

type Config struct {
	Capacity      int
	Retention     time.Duration
	PruneInterval time.Duration
	Metrics       *obs.Metrics
}

type Ledger struct {
	mu        sync.Mutex
	records   map[string]Record
	capacity  int
	retention time.Duration
	metrics   *obs.Metrics
	pruner    *expiry.Loop
	now       func() time.Time
}

func New(cfg Config) *Ledger {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	interval := cfg.PruneInterval
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	l := &Ledger{
		records:   make(map[string]Record, capacity),
		capacity:  capacity,
		retention: retention,
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
	l.pruner = expiry.NewLoop(interval, func(time.Time) {
		l.Prune()
	})
	return l
}

func (l *Ledger) Start() {
	l.pruner.Start()
}

func (l *Ledger) Stop() {
	l.pruner.Stop()
}

func (l *Ledger) Capacity() int {
	return l.capacity
}

// Record upserts rec by session id. Records without a session id are
// dropped. A zero CreatedAt is stamped with the current time.
func (l *Ledger) Record(rec Record) {
	if rec.SessionID == "" {
		return
	}

	l.mu.Lock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	evicted := 0
	if _, exists := l.records[rec.SessionID]; !exists && len(l.records) >= l.capacity {
		l.evictOldestLocked()
		evicted = 1
	}
	l.records[rec.SessionID] = rec
	size := len(l.records)
	l.mu.Unlock()

	l.metrics.RecordLedgerEviction("capacity", evicted)
	l.metrics.SetLedgerRecords(size)
}

// evictOldestLocked drops the record with the smallest CreatedAt. Ties go to
// the lexically smallest session id so eviction is deterministic.
func (l *Ledger) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, rec := range l.records {
		if oldestID == "" || rec.CreatedAt.Before(oldest) || (rec.CreatedAt.Equal(oldest) && id < oldestID) {
			oldestID = id
			oldest = rec.CreatedAt
		}
	}
	if oldestID != "" {
		delete(l.records, oldestID)
	}
}

// Prune removes records older than the retention window.
func (l *Ledger) Prune() int {
	l.mu.Lock()
	now := l.now()
	removed := 0
	for id, rec := range l.records {
		if l.expiredLocked(rec, now) {
			delete(l.records, id)
			removed++
		}
	}
	size := len(l.records)
	l.mu.Unlock()

	l.metrics.RecordLedgerEviction("retention", removed)
	l.metrics.SetLedgerRecords(size)
	return removed
}

func (l *Ledger) expiredLocked(rec Record, now time.Time) bool {
	return expiry.Passed(rec.CreatedAt.Add(l.retention), now)
}

// CountRecent counts live records from origin created within the trailing
// window.
func (l *Ledger) CountRecent(origin string, window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)
	count := 0
	for _, rec := range l.records {
		if rec.OriginIP == origin && l.liveInWindowLocked(rec, now, cutoff) {
			count++
		}
	}
	return count
}

// Flagged lists every origin whose recent count exceeds threshold, highest
// count first.
func (l *Ledger) Flagged(threshold int, window time.Duration) []OriginCount {
	l.mu.Lock()
	now := l.now()
	cutoff := now.Add(-window)
	counts := make(map[string]int)
	for _, rec := range l.records {
		if l.liveInWindowLocked(rec, now, cutoff) {
			counts[rec.OriginIP]++
		}
	}
	l.mu.Unlock()

	flagged := make([]OriginCount, 0)
	for origin, count := range counts {
		if count > threshold {
			flagged = append(flagged, OriginCount{Origin: origin, Count: count})
		}
	}
	sort.Slice(flagged, func(i, j int) bool {
		if flagged[i].Count != flagged[j].Count {
			return flagged[i].Count > flagged[j].Count
		}
		return flagged[i].Origin < flagged[j].Origin
	})
	l.metrics.SetFlaggedOrigins(len(flagged))
	return flagged
}

func (l *Ledger) liveInWindowLocked(rec Record, now time.Time, cutoff time.Time) bool {
	if l.expiredLocked(rec, now) {
		return false
	}
	return !rec.CreatedAt.Before(cutoff)
}

func (l *Ledger) Lookup(sessionID string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[sessionID]
	if !ok || l.expiredLocked(rec, l.now()) {
		return Record{}, false
	}
	return rec, true
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
