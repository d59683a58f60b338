package cache

import (
	"context"
	"errors"
	"time"

	"statecache/internal/expiry"
)

var (
	// ErrUnavailable marks every remote backend failure: connection errors,
	// timeouts and server-side faults. A miss is never ErrUnavailable.
	ErrUnavailable = errors.New("cache backend unavailable")
	// ErrRejected means the backend answered but refused this one request.
	// The backend stays healthy.
	ErrRejected            = errors.New("cache backend rejected request")
	ErrInvalidTTL          = errors.New("cache ttl must be positive")
	ErrStoreNotInitialized = errors.New("cache store not initialized")
)

type Entry struct {
	Value     any
	ExpiresAt time.Time
	StoredAt  time.Time
}

func (e Entry) Expired(now time.Time) bool {
	return expiry.Passed(e.ExpiresAt, now)
}

// Backend is the network boundary to an optional external cache. Payloads
// are already serialized; a miss is (nil, false, nil).
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Name() string
	Close() error
}
