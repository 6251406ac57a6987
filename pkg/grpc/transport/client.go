package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// DialOptions returns the gRPC dial options for options.
func DialOptions(options TransportOptions) ([]grpc.DialOption, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}

	opts := []grpc.DialOption{grpc.WithKeepaliveParams(clientKeepalive)}

	if options.TLS != nil {
		tlsConfig, err := options.TLS.ClientConfig()
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	var callOpts []grpc.CallOption
	if options.MaxMessageSize > 0 {
		callOpts = append(callOpts,
			grpc.MaxCallRecvMsgSize(options.MaxMessageSize),
			grpc.MaxCallSendMsgSize(options.MaxMessageSize),
		)
	}
	if options.Compression != CompressionNone {
		callOpts = append(callOpts, grpc.UseCompressor(string(options.Compression)))
	}
	if len(callOpts) > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(callOpts...))
	}
	return opts, nil
}

// Dial connects to endpoint and waits, up to options.Timeout, for the
// connection to become ready. Extra options are appended after the ones
// built from options.
func Dial(ctx context.Context, endpoint string, options TransportOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts, err := DialOptions(options)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(endpoint, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", endpoint, err)
	}

	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return conn, nil
		}
		if !conn.WaitForStateChange(ctx, state) {
			conn.Close()
			return nil, fmt.Errorf("failed to connect to %s: %w (last state %s)", endpoint, ctx.Err(), state)
		}
	}
}
