package client

import (
	"context"
	"fmt"
	"io"

	"github.com/KevoDB/treekv/pkg/engine"
	"github.com/KevoDB/treekv/pkg/grpc/service"
)

// ScanOptions configures a scan operation
type ScanOptions struct {
	// Prefix limits the scan to keys with this prefix
	Prefix []byte
	// StartKey sets the starting point for the scan (inclusive)
	StartKey []byte
	// EndKey sets the ending point for the scan (exclusive)
	EndKey []byte
	// Reverse scans from StartKey downward
	Reverse bool
	// Limit sets the maximum number of entries to return
	Limit int
}

// Scanner iterates the entries of a scan.
type Scanner interface {
	// Next advances the scanner to the next entry
	Next() bool
	// Key returns the current key
	Key() []byte
	// Value returns the current value
	Value() []byte
	// Entry returns the current entry
	Entry() *engine.Entry
	// Error returns any error that occurred during iteration
	Error() error
	// Close releases resources associated with the scanner
	Close() error
}

type scanIterator struct {
	stream     *service.ScanClient
	current    *engine.Entry
	err        error
	closed     bool
	cancelFunc context.CancelFunc
}

// Scan opens a scanner. The stream is not retried once opened.
func (c *Client) Scan(ctx context.Context, options ScanOptions) (Scanner, error) {
	s, err := c.service()
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	var stream *service.ScanClient
	err = withRetry(streamCtx, c.options.Retry, func(ctx context.Context) error {
		var err error
		stream, err = s.Scan(ctx, service.ScanRequest{
			Start:   options.StartKey,
			End:     options.EndKey,
			Prefix:  options.Prefix,
			Reverse: options.Reverse,
			Limit:   options.Limit,
		})
		return err
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open scan: %w", err)
	}
	return &scanIterator{stream: stream, cancelFunc: cancel}, nil
}

func (s *scanIterator) Next() bool {
	s.current = nil
	if s.closed || s.err != nil {
		return false
	}
	e, err := s.stream.Recv()
	if err != nil {
		if err != io.EOF {
			s.err = fmt.Errorf("error receiving scan response: %w", err)
		}
		return false
	}
	s.current = e
	return true
}

func (s *scanIterator) Key() []byte {
	if s.current == nil {
		return nil
	}
	return s.current.Key
}

func (s *scanIterator) Value() []byte {
	if s.current == nil {
		return nil
	}
	return s.current.Value
}

func (s *scanIterator) Entry() *engine.Entry { return s.current }

func (s *scanIterator) Error() error { return s.err }

func (s *scanIterator) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.current = nil
	s.cancelFunc()
	return nil
}
