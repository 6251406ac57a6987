// Package service exposes an engine over gRPC.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/engine"
	"github.com/KevoDB/treekv/pkg/stats"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Engine is the part of the engine the service calls.
type Engine interface {
	Put(key, value []byte) (*engine.Entry, error)
	Delete(key []byte) (*engine.Entry, error)
	Get(key []byte) (*engine.Entry, error)
	First() (*engine.Entry, error)
	Last() (*engine.Entry, error)
	Next(key []byte) (*engine.Entry, error)
	Prev(key []byte) (*engine.Entry, error)
	Iterator(opts engine.IterOptions) (*engine.Iterator, error)
	Sync() error
	Stats() stats.Snapshot
	OperationStats() map[string]interface{}
}

// TreeServiceServer implements TreeService on top of an Engine.
type TreeServiceServer struct {
	engine  Engine
	logger  log.Logger
	metrics ServiceMetrics
	maxScan int
}

// ServerOption configures a TreeServiceServer.
type ServerOption func(*TreeServiceServer)

// WithLogger sets the logger.
func WithLogger(l log.Logger) ServerOption {
	return func(s *TreeServiceServer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the scan metrics sink.
func WithMetrics(m ServiceMetrics) ServerOption {
	return func(s *TreeServiceServer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMaxScan caps the entries one Scan call may stream. Requests with a
// larger or no limit are cut to it.
func WithMaxScan(n int) ServerOption {
	return func(s *TreeServiceServer) {
		if n > 0 {
			s.maxScan = n
		}
	}
}

// NewTreeServiceServer creates a server backed by eng.
func NewTreeServiceServer(eng Engine, opts ...ServerOption) *TreeServiceServer {
	s := &TreeServiceServer{
		engine:  eng,
		logger:  log.GetDefaultLogger().WithField("component", "service"),
		metrics: NewServiceMetrics(nil),
		maxScan: 100000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TreeServiceServer) reply(e *engine.Entry, err error) (*wrapperspb.BytesValue, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeEntry(e), nil
}

// Get returns the live entry for a key.
func (s *TreeServiceServer) Get(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return s.reply(s.engine.Get(req.GetValue()))
}

// Put stores the key and value of an encoded entry and returns the stored entry.
func (s *TreeServiceServer) Put(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	in, err := decodeEntry(req)
	if err != nil {
		return nil, toStatus(err)
	}
	if in.Deleted {
		return nil, toStatus(fmt.Errorf("%w: use Delete to remove %q", engine.ErrInvalidValue, in.Key))
	}
	return s.reply(s.engine.Put(in.Key, in.Value))
}

// Delete writes a tombstone for a key and returns it.
func (s *TreeServiceServer) Delete(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return s.reply(s.engine.Delete(req.GetValue()))
}

// First returns the lowest live entry.
func (s *TreeServiceServer) First(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return s.reply(s.engine.First())
}

// Last returns the highest live entry.
func (s *TreeServiceServer) Last(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return s.reply(s.engine.Last())
}

// Next returns the first live entry after a key.
func (s *TreeServiceServer) Next(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return s.reply(s.engine.Next(req.GetValue()))
}

// Prev returns the last live entry before a key.
func (s *TreeServiceServer) Prev(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return s.reply(s.engine.Prev(req.GetValue()))
}

// Sync flushes data files and the recovery log.
func (s *TreeServiceServer) Sync(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.engine.Sync(); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Stats returns the engine snapshot under "engine" and the operation
// statistics under "operations".
func (s *TreeServiceServer) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	raw, err := json.Marshal(map[string]interface{}{
		"engine":     s.engine.Stats().Map(),
		"operations": s.engine.OperationStats(),
	})
	if err != nil {
		return nil, toStatus(fmt.Errorf("failed to encode stats: %w", err))
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, toStatus(fmt.Errorf("failed to convert stats: %w", err))
	}
	return out, nil
}

// Scan streams the live entries a ScanRequest selects.
func (s *TreeServiceServer) Scan(req *structpb.Struct, stream ScanStream) error {
	r, err := scanRequestFromStruct(req)
	if err != nil {
		return toStatus(err)
	}
	opts := engine.IterOptions{Start: r.Start, End: r.End, Reverse: r.Reverse}
	if r.Prefix != nil && r.Start == nil && !r.Reverse {
		opts.Start = r.Prefix
	}
	limit := r.Limit
	if limit <= 0 || limit > s.maxScan {
		limit = s.maxScan
	}

	it, err := s.engine.Iterator(opts)
	if err != nil {
		return toStatus(err)
	}
	defer it.Close()

	ctx := stream.Context()
	var sent int64
	for int(sent) < limit && it.Next() {
		if err := ctx.Err(); err != nil {
			return toStatus(err)
		}
		e := it.Entry()
		if r.Prefix != nil && !bytes.HasPrefix(e.Key, r.Prefix) {
			// Prefixed keys are contiguous under byte order.
			c := bytes.Compare(e.Key, r.Prefix)
			if (!r.Reverse && c > 0) || (r.Reverse && c < 0) {
				break
			}
			continue
		}
		if err := stream.Send(encodeEntry(e)); err != nil {
			s.logger.Warn("Scan stream send failed after %d entries: %v", sent, err)
			return err
		}
		sent++
	}
	if err := it.Err(); err != nil {
		return toStatus(err)
	}
	s.metrics.RecordScan(ctx, sent, r.Reverse)
	return nil
}
