// Package client is a Go client for a treekv server.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevoDB/treekv/pkg/engine"
	"github.com/KevoDB/treekv/pkg/grpc/service"
	"github.com/KevoDB/treekv/pkg/grpc/transport"
	"google.golang.org/grpc"
)

var (
	// ErrNotConnected is returned by calls made before Connect or after Close
	ErrNotConnected = errors.New("not connected to server")
	// ErrNoEndpoint is returned by NewClient without an endpoint
	ErrNoEndpoint = errors.New("endpoint is required")
)

// ClientOptions configures a Client
type ClientOptions struct {
	// Connection options
	Endpoint       string        // Server address
	ConnectTimeout time.Duration // Timeout for connection attempts
	RequestTimeout time.Duration // Default timeout for requests

	// Security options; TLS is used when TLSEnabled is set
	TLSEnabled bool
	CertFile   string
	KeyFile    string
	CAFile     string

	Retry RetryPolicy

	// Performance options
	Compression    transport.Compression
	MaxMessageSize int

	// DialOptions are appended to the options built from the fields above.
	DialOptions []grpc.DialOption
}

// DefaultClientOptions returns sensible default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Endpoint:       "localhost:50051",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
		Retry:          DefaultRetryPolicy(),
		MaxMessageSize: 16 * 1024 * 1024,
	}
}

func (o ClientOptions) transportOptions() transport.TransportOptions {
	opts := transport.TransportOptions{
		Timeout:        o.ConnectTimeout,
		Compression:    o.Compression,
		MaxMessageSize: o.MaxMessageSize,
	}
	if o.TLSEnabled {
		opts.TLS = &transport.TLSConfig{CertFile: o.CertFile, KeyFile: o.KeyFile, CAFile: o.CAFile}
	}
	return opts
}

// Client is a connection to a treekv server. It is safe for concurrent use.
type Client struct {
	options ClientOptions

	mu   sync.RWMutex
	conn *grpc.ClientConn
	stub *service.TreeServiceClient
}

// NewClient creates a client. Connect must be called before use.
func NewClient(options ClientOptions) (*Client, error) {
	if options.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	return &Client{options: options}, nil
}

// Connect establishes a connection to the server
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	conn, err := transport.Dial(ctx, c.options.Endpoint, c.options.transportOptions(), c.options.DialOptions...)
	if err != nil {
		return err
	}
	c.conn = conn
	c.stub = service.NewTreeServiceClient(conn)
	return nil
}

// Close closes the connection to the server
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.stub = nil, nil
	return err
}

// IsConnected returns whether Connect succeeded and Close has not been called
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

func (c *Client) service() (*service.TreeServiceClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stub == nil {
		return nil, ErrNotConnected
	}
	return c.stub, nil
}

// call runs fn with the request timeout applied and retries it on
// transient failures.
func (c *Client) call(ctx context.Context, fn func(ctx context.Context, s *service.TreeServiceClient) error) error {
	s, err := c.service()
	if err != nil {
		return err
	}
	return withRetry(ctx, c.options.Retry, func(ctx context.Context) error {
		if c.options.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.options.RequestTimeout)
			defer cancel()
		}
		return fn(ctx, s)
	})
}

func (c *Client) entry(ctx context.Context, fn func(ctx context.Context, s *service.TreeServiceClient) (*engine.Entry, error)) (*engine.Entry, error) {
	var out *engine.Entry
	err := c.call(ctx, func(ctx context.Context, s *service.TreeServiceClient) error {
		var err error
		out, err = fn(ctx, s)
		return err
	})
	return out, err
}

// Get retrieves a value by key. A missing key is reported by found, not
// by an error.
func (c *Client) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	e, err := c.GetEntry(ctx, key)
	if errors.Is(err, engine.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

// GetEntry returns the live entry for key, or engine.ErrKeyNotFound.
func (c *Client) GetEntry(ctx context.Context, key []byte) (*engine.Entry, error) {
	return c.entry(ctx, func(ctx context.Context, s *service.TreeServiceClient) (*engine.Entry, error) {
		return s.Get(ctx, key)
	})
}

// Put stores value under key. With sync set the server flushes before
// Put returns.
func (c *Client) Put(ctx context.Context, key, value []byte, sync bool) (*engine.Entry, error) {
	e, err := c.entry(ctx, func(ctx context.Context, s *service.TreeServiceClient) (*engine.Entry, error) {
		return s.Put(ctx, key, value)
	})
	if err != nil || !sync {
		return e, err
	}
	return e, c.Sync(ctx)
}

// Delete removes key. With sync set the server flushes before Delete
// returns.
func (c *Client) Delete(ctx context.Context, key []byte, sync bool) (*engine.Entry, error) {
	e, err := c.entry(ctx, func(ctx context.Context, s *service.TreeServiceClient) (*engine.Entry, error) {
		return s.Delete(ctx, key)
	})
	if err != nil || !sync {
		return e, err
	}
	return e, c.Sync(ctx)
}

// First returns the lowest live entry.
func (c *Client) First(ctx context.Context) (*engine.Entry, error) {
	return c.entry(ctx, func(ctx context.Context, s *service.TreeServiceClient) (*engine.Entry, error) {
		return s.First(ctx)
	})
}

// Last returns the highest live entry.
func (c *Client) Last(ctx context.Context) (*engine.Entry, error) {
	return c.entry(ctx, func(ctx context.Context, s *service.TreeServiceClient) (*engine.Entry, error) {
		return s.Last(ctx)
	})
}

// Next returns the first live entry after key.
func (c *Client) Next(ctx context.Context, key []byte) (*engine.Entry, error) {
	return c.entry(ctx, func(ctx context.Context, s *service.TreeServiceClient) (*engine.Entry, error) {
		return s.Next(ctx, key)
	})
}

// Prev returns the last live entry before key.
func (c *Client) Prev(ctx context.Context, key []byte) (*engine.Entry, error) {
	return c.entry(ctx, func(ctx context.Context, s *service.TreeServiceClient) (*engine.Entry, error) {
		return s.Prev(ctx, key)
	})
}

// Sync flushes the server's data files and recovery log.
func (c *Client) Sync(ctx context.Context) error {
	return c.call(ctx, func(ctx context.Context, s *service.TreeServiceClient) error {
		return s.Sync(ctx)
	})
}

// GetStats returns the server statistics.
func (c *Client) GetStats(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.call(ctx, func(ctx context.Context, s *service.TreeServiceClient) error {
		var err error
		out, err = s.Stats(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return out, nil
}
