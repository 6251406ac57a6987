package service

import (
	"context"

	"github.com/KevoDB/treekv/pkg/engine"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// TreeServiceClient is the client stub of TreeService. It encodes requests,
// decodes entries and maps status codes back to engine errors.
type TreeServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewTreeServiceClient creates a stub on cc.
func NewTreeServiceClient(cc grpc.ClientConnInterface) *TreeServiceClient {
	return &TreeServiceClient{cc: cc}
}

func (c *TreeServiceClient) entry(ctx context.Context, method string, in any, opts []grpc.CallOption) (*engine.Entry, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, fromStatus(err)
	}
	return decodeEntry(out)
}

// Get returns the live entry for key.
func (c *TreeServiceClient) Get(ctx context.Context, key []byte, opts ...grpc.CallOption) (*engine.Entry, error) {
	return c.entry(ctx, MethodGet, wrapperspb.Bytes(key), opts)
}

// Put stores value under key.
func (c *TreeServiceClient) Put(ctx context.Context, key, value []byte, opts ...grpc.CallOption) (*engine.Entry, error) {
	return c.entry(ctx, MethodPut, putRequest(key, value), opts)
}

// Delete removes key.
func (c *TreeServiceClient) Delete(ctx context.Context, key []byte, opts ...grpc.CallOption) (*engine.Entry, error) {
	return c.entry(ctx, MethodDelete, wrapperspb.Bytes(key), opts)
}

// First returns the lowest live entry.
func (c *TreeServiceClient) First(ctx context.Context, opts ...grpc.CallOption) (*engine.Entry, error) {
	return c.entry(ctx, MethodFirst, new(emptypb.Empty), opts)
}

// Last returns the highest live entry.
func (c *TreeServiceClient) Last(ctx context.Context, opts ...grpc.CallOption) (*engine.Entry, error) {
	return c.entry(ctx, MethodLast, new(emptypb.Empty), opts)
}

// Next returns the first live entry after key.
func (c *TreeServiceClient) Next(ctx context.Context, key []byte, opts ...grpc.CallOption) (*engine.Entry, error) {
	return c.entry(ctx, MethodNext, wrapperspb.Bytes(key), opts)
}

// Prev returns the last live entry before key.
func (c *TreeServiceClient) Prev(ctx context.Context, key []byte, opts ...grpc.CallOption) (*engine.Entry, error) {
	return c.entry(ctx, MethodPrev, wrapperspb.Bytes(key), opts)
}

// Sync asks the server to flush its engine.
func (c *TreeServiceClient) Sync(ctx context.Context, opts ...grpc.CallOption) error {
	return fromStatus(c.cc.Invoke(ctx, FullMethod(MethodSync), new(emptypb.Empty), new(emptypb.Empty), opts...))
}

// Stats returns the server statistics as nested maps.
func (c *TreeServiceClient) Stats(ctx context.Context, opts ...grpc.CallOption) (map[string]interface{}, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(MethodStats), new(emptypb.Empty), out, opts...); err != nil {
		return nil, fromStatus(err)
	}
	return out.AsMap(), nil
}

// Scan opens a server stream of the entries r selects.
func (c *TreeServiceClient) Scan(ctx context.Context, r ScanRequest, opts ...grpc.CallOption) (*ScanClient, error) {
	req, err := r.toStruct()
	if err != nil {
		return nil, err
	}
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod(MethodScan), opts...)
	if err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}
	return &ScanClient{stream: stream}, nil
}

// ScanClient receives the entries of one Scan call.
type ScanClient struct {
	stream grpc.ClientStream
}

// Recv returns the next entry, or io.EOF after the last one.
func (s *ScanClient) Recv() (*engine.Entry, error) {
	out := new(wrapperspb.BytesValue)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, fromStatus(err)
	}
	return decodeEntry(out)
}
