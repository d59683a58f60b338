package remote

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// GRPCBackend talks to a peer node's Server.
type GRPCBackend struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// DialGRPC creates a lazily connecting client; it does not block on the
// peer being up.
func DialGRPC(target string, opts Options) (*GRPCBackend, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	dialOpts = append(dialOpts, opts.DialOptions...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial grpc peer: %w", err)
	}
	return &GRPCBackend{conn: conn, timeout: opts.timeout()}, nil
}

func (g *GRPCBackend) Name() string {
	return "grpc"
}

func (g *GRPCBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out := new(wrapperspb.BytesValue)
	err := g.conn.Invoke(ctx, getMethod, wrapperspb.String(key), out)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("grpc get", err)
	}
	return out.GetValue(), true, nil
}

func (g *GRPCBackend) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ctx = metadata.AppendToOutgoingContext(ctx,
		keyHeader, key,
		ttlHeader, strconv.FormatInt(ttlMillis(ttl), 10),
	)
	if err := g.conn.Invoke(ctx, setMethod, wrapperspb.Bytes(payload), new(emptypb.Empty)); err != nil {
		return classify("grpc set", err)
	}
	return nil
}

func (g *GRPCBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.conn.Invoke(ctx, deleteMethod, wrapperspb.String(key), new(emptypb.Empty)); err != nil {
		return classify("grpc delete", err)
	}
	return nil
}

// Ping asks the peer's health service whether the cache is serving.
func (g *GRPCBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(g.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return unavailable("grpc ping", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return unavailable("grpc ping", fmt.Errorf("peer status %s", resp.GetStatus()))
	}
	return nil
}

func (g *GRPCBackend) Close() error {
	return g.conn.Close()
}

// ttlMillis rounds a positive sub-millisecond TTL up to 1ms instead of
// truncating it to zero.
func ttlMillis(ttl time.Duration) int64 {
	if ttl > 0 && ttl < time.Millisecond {
		return 1
	}
	return ttl.Milliseconds()
}

// classify separates requests the peer refused from peer outages.
func classify(op string, err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.DataLoss:
		return rejected(op, err)
	default:
		return unavailable(op, err)
	}
}
