// Package transport runs the tree service over TCP and dials it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/grpc/service"
	"github.com/KevoDB/treekv/pkg/telemetry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// ErrServerStarted is returned by a second Start.
var ErrServerStarted = errors.New("server already started")

// GRPCServer serves one engine.
type GRPCServer struct {
	address  string
	options  TransportOptions
	engine   service.Engine
	logger   log.Logger
	metrics  service.ServiceMetrics
	server   *grpc.Server
	listener net.Listener
	mu       sync.Mutex
	started  bool
	done     chan error
}

// NewGRPCServer creates a server for eng that will listen on address.
// A nil tel disables request metrics.
func NewGRPCServer(address string, eng service.Engine, options TransportOptions, tel telemetry.Telemetry) (*GRPCServer, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}
	return &GRPCServer{
		address: address,
		options: options,
		engine:  eng,
		logger:  log.GetDefaultLogger().WithField("component", "grpc"),
		metrics: service.NewServiceMetrics(tel),
	}, nil
}

// SetLogger replaces the server logger. It must be called before Start.
func (s *GRPCServer) SetLogger(l log.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = l
}

func (s *GRPCServer) serverOptions() ([]grpc.ServerOption, error) {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(serverKeepalive),
		grpc.KeepaliveEnforcementPolicy(serverEnforcement),
		grpc.ChainUnaryInterceptor(service.UnaryServerInterceptor(s.metrics)),
		grpc.ChainStreamInterceptor(service.StreamServerInterceptor(s.metrics)),
	}
	if s.options.MaxMessageSize > 0 {
		opts = append(opts,
			grpc.MaxRecvMsgSize(s.options.MaxMessageSize),
			grpc.MaxSendMsgSize(s.options.MaxMessageSize),
		)
	}
	if s.options.TLS != nil {
		tlsConfig, err := s.options.TLS.ServerConfig()
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	return opts, nil
}

// Start listens and serves in the background.
func (s *GRPCServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrServerStarted
	}

	opts, err := s.serverOptions()
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	s.server = grpc.NewServer(opts...)
	service.RegisterTreeService(s.server, service.NewTreeServiceServer(s.engine,
		service.WithLogger(s.logger),
		service.WithMetrics(s.metrics),
	))
	s.listener = listener
	s.done = make(chan error, 1)
	s.started = true

	srv, done := s.server, s.done
	go func() {
		done <- srv.Serve(listener)
	}()
	s.logger.Info("Serving on %s (tls=%v)", listener.Addr(), s.options.TLS != nil)
	return nil
}

// Serve starts the server if needed and blocks until it stops.
func (s *GRPCServer) Serve() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		if err := s.Start(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	err := <-done
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Addr returns the listening address, or nil before Start.
func (s *GRPCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight calls, forcing the stop when ctx ends first.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.logger.Warn("Graceful stop interrupted: %v", ctx.Err())
		s.server.Stop()
	}

	s.started = false
	s.listener = nil
	return s.metrics.Close()
}
