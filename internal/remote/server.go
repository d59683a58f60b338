package remote

import (
	"context"
	"errors"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"statecache/internal/cache"
)

// Server exposes a node's TTLStore to peers over gRPC.
type Server struct {
	store  *cache.TTLStore
	grpc   *grpc.Server
	health *health.Server

	mu   sync.Mutex
	addr string
}

func NewServer(store *cache.TTLStore, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := &Server{
		store:  store,
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	s.grpc.RegisterService(&cacheServiceDesc, &peerService{store: store})
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Start listens on addr and serves in the background. Addr reports the bound
// address, which differs from addr when addr uses port 0.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	go func() {
		_ = s.Serve(ln)
	}()
	return nil
}

func (s *Server) Serve(ln net.Listener) error {
	err := s.grpc.Serve(ln)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop drains in-flight calls until ctx ends, then closes hard.
func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		return ctx.Err()
	}
}

type peerService struct {
	store *cache.TTLStore
}

func (p *peerService) Get(_ context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	key := in.GetValue()
	if key == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}
	value, ok := p.store.Get(key)
	if !ok {
		return nil, status.Error(codes.NotFound, "key not found")
	}
	payload, ok := value.([]byte)
	if !ok {
		return nil, status.Error(codes.DataLoss, "stored value is not a payload")
	}
	return wrapperspb.Bytes(payload), nil
}

func (p *peerService) Set(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	key := firstValue(md, keyHeader)
	if key == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}
	ttlMS, err := strconv.ParseInt(firstValue(md, ttlHeader), 10, 64)
	if err != nil || ttlMS <= 0 || ttlMS > math.MaxInt64/int64(time.Millisecond) {
		return nil, status.Error(codes.InvalidArgument, "ttl must be a positive number of milliseconds")
	}
	if err := p.store.Set(key, in.GetValue(), time.Duration(ttlMS)*time.Millisecond); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &emptypb.Empty{}, nil
}

func firstValue(md metadata.MD, name string) string {
	if values := md.Get(name); len(values) > 0 {
		return values[0]
	}
	return ""
}

func (p *peerService) Delete(_ context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}
	p.store.Delete(in.GetValue())
	return &emptypb.Empty{}, nil
}
