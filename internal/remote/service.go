package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The peer cache service is described by hand over protobuf well-known
// types, so no generated code is needed:
//
//	service Cache {
//	  rpc Get(google.protobuf.StringValue) returns (google.protobuf.BytesValue);
//	  rpc Set(google.protobuf.BytesValue) returns (google.protobuf.Empty);
//	  rpc Delete(google.protobuf.StringValue) returns (google.protobuf.Empty);
//	}
//
// Set sends the payload as the message and the key and TTL as request
// metadata (keyHeader, ttlHeader). A miss on Get is codes.NotFound. Requests
// the peer refuses fail with codes.InvalidArgument.
const (
	ServiceName = "statecache.v1.Cache"

	getMethod    = "/" + ServiceName + "/Get"
	setMethod    = "/" + ServiceName + "/Set"
	deleteMethod = "/" + ServiceName + "/Delete"

	// Binary header so any key survives the trip.
	keyHeader = "statecache-key-bin"
	ttlHeader = "statecache-ttl-ms"
)

type cacheService interface {
	Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Set(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Delete(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

var cacheServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*cacheService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Set", Handler: setHandler},
		{MethodName: "Delete", Handler: deleteHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "statecache/v1/cache.proto",
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(cacheService).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(cacheService).Get(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func setHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(cacheService).Set(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: setMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(cacheService).Set(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func deleteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(cacheService).Delete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deleteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(cacheService).Delete(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}
