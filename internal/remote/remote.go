// Package remote holds the network adapters the cache facade can use as its
// preferred backend, and the gRPC service that lets one node act as another
// node's remote.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"google.golang.org/grpc"

	"statecache/internal/cache"
)

const DefaultTimeout = 2 * time.Second

var ErrUnsupportedScheme = errors.New("unsupported remote scheme")

type Options struct {
	// Timeout bounds dialing and every single operation.
	Timeout time.Duration
	// KeyPrefix namespaces keys on shared servers.
	KeyPrefix   string
	DialOptions []grpc.DialOption
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Open builds the backend named by rawURL. An empty URL means no remote is
// configured and returns a nil Backend.
func Open(rawURL string, opts Options) (cache.Backend, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	switch parsed.Scheme {
	case "redis", "rediss":
		backend, err := OpenRedis(rawURL, opts)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "grpc":
		if parsed.Host == "" {
			return nil, errors.New("grpc remote url requires host:port")
		}
		backend, err := DialGRPC(parsed.Host, opts)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
}

// SupportedScheme reports whether Open understands rawURL's scheme.
func SupportedScheme(rawURL string) bool {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "redis", "rediss", "grpc":
		return true
	default:
		return false
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", cache.ErrUnavailable, op, err)
}

func rejected(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", cache.ErrRejected, op, err)
}

// Pinger is implemented by backends that can check reachability up front.
type Pinger interface {
	Ping(ctx context.Context) error
}
