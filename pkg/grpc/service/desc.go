package service

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "treekv.TreeService"

// Method names, as they appear after the service name in a full method path.
const (
	MethodGet    = "Get"
	MethodPut    = "Put"
	MethodDelete = "Delete"
	MethodFirst  = "First"
	MethodLast   = "Last"
	MethodNext   = "Next"
	MethodPrev   = "Prev"
	MethodSync   = "Sync"
	MethodStats  = "Stats"
	MethodScan   = "Scan"
)

// FullMethod returns "/treekv.TreeService/<name>".
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// TreeService is the server side of the service. Messages are protobuf
// well-known types: keys travel as BytesValue, entries as BytesValue
// holding the block entry encoding, scan requests and statistics as Struct.
type TreeService interface {
	Get(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Put(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Delete(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	First(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	Last(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	Next(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Prev(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Sync(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Scan(*structpb.Struct, ScanStream) error
}

// ScanStream is the server stream of a Scan call.
type ScanStream interface {
	Send(*wrapperspb.BytesValue) error
	Context() context.Context
}

type scanServerStream struct {
	grpc.ServerStream
}

func (s *scanServerStream) Send(m *wrapperspb.BytesValue) error {
	return s.ServerStream.SendMsg(m)
}

// ServiceDesc describes TreeService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TreeService)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGet, newBytes,
			func(s TreeService, ctx context.Context, in *wrapperspb.BytesValue) (proto.Message, error) {
				return s.Get(ctx, in)
			}),
		unary(MethodPut, newBytes,
			func(s TreeService, ctx context.Context, in *wrapperspb.BytesValue) (proto.Message, error) {
				return s.Put(ctx, in)
			}),
		unary(MethodDelete, newBytes,
			func(s TreeService, ctx context.Context, in *wrapperspb.BytesValue) (proto.Message, error) {
				return s.Delete(ctx, in)
			}),
		unary(MethodFirst, newEmpty,
			func(s TreeService, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
				return s.First(ctx, in)
			}),
		unary(MethodLast, newEmpty,
			func(s TreeService, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
				return s.Last(ctx, in)
			}),
		unary(MethodNext, newBytes,
			func(s TreeService, ctx context.Context, in *wrapperspb.BytesValue) (proto.Message, error) {
				return s.Next(ctx, in)
			}),
		unary(MethodPrev, newBytes,
			func(s TreeService, ctx context.Context, in *wrapperspb.BytesValue) (proto.Message, error) {
				return s.Prev(ctx, in)
			}),
		unary(MethodSync, newEmpty,
			func(s TreeService, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
				return s.Sync(ctx, in)
			}),
		unary(MethodStats, newEmpty,
			func(s TreeService, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
				return s.Stats(ctx, in)
			}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodScan,
			Handler:       scanHandler,
			ServerStreams: true,
		},
	},
}

// RegisterTreeService registers srv with s.
func RegisterTreeService(s grpc.ServiceRegistrar, srv TreeService) {
	s.RegisterService(&ServiceDesc, srv)
}

func newBytes() *wrapperspb.BytesValue { return new(wrapperspb.BytesValue) }
func newEmpty() *emptypb.Empty          { return new(emptypb.Empty) }

func unary[Req proto.Message](
	name string,
	newReq func() Req,
	call func(TreeService, context.Context, Req) (proto.Message, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(TreeService)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(Req))
			})
		},
	}
}

func scanHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TreeService).Scan(in, &scanServerStream{stream})
}
