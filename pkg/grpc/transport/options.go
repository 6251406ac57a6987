package transport

import (
	"fmt"
	"time"

	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"
)

// Compression names a message compressor registered with gRPC.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = gzip.Name
)

// TransportOptions configures both ends of a connection.
type TransportOptions struct {
	// Timeout bounds connection establishment on the client.
	Timeout        time.Duration
	Compression    Compression
	MaxMessageSize int
	// TLS is nil for plaintext.
	TLS *TLSConfig
}

// DefaultTransportOptions returns plaintext options with a 5 second
// connect timeout and 16MB messages.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		Timeout:        5 * time.Second,
		MaxMessageSize: 16 * 1024 * 1024,
	}
}

func (o TransportOptions) validate() error {
	switch o.Compression {
	case CompressionNone, CompressionGzip:
	default:
		return fmt.Errorf("unsupported compression %q", o.Compression)
	}
	if o.MaxMessageSize < 0 {
		return fmt.Errorf("invalid max message size %d", o.MaxMessageSize)
	}
	return nil
}

var (
	serverKeepalive = keepalive.ServerParameters{
		MaxConnectionIdle:     60 * time.Second,
		MaxConnectionAge:      5 * time.Minute,
		MaxConnectionAgeGrace: 5 * time.Second,
		Time:                  15 * time.Second,
		Timeout:               5 * time.Second,
	}

	serverEnforcement = keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	clientKeepalive = keepalive.ClientParameters{
		Time:                15 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
)
