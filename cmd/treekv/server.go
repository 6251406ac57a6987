package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/engine"
	"github.com/KevoDB/treekv/pkg/grpc/transport"
	"github.com/KevoDB/treekv/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

// transportOptions builds the server transport settings from the flags.
func transportOptions(cfg Config) transport.TransportOptions {
	opts := transport.DefaultTransportOptions()
	if cfg.TLSEnabled {
		opts.TLS = &transport.TLSConfig{
			CertFile: cfg.TLSCertFile,
			KeyFile:  cfg.TLSKeyFile,
			CAFile:   cfg.TLSCAFile,
		}
	}
	return opts
}

// runServer opens the database and serves it until SIGINT or SIGTERM.
func runServer(cfg Config, tel telemetry.Telemetry, engineOpts []engine.Option) error {
	logger := log.GetDefaultLogger().WithField("component", "server")

	eng, err := engine.Open(cfg.DBPath, append(engineOpts, engine.WithLogger(logger))...)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.DBPath, err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("Failed to close database: %v", err)
		}
	}()

	server, err := transport.NewGRPCServer(cfg.ListenAddr, eng, transportOptions(cfg), tel)
	if err != nil {
		return err
	}
	server.SetLogger(logger)
	if err := server.Start(); err != nil {
		return fmt.Errorf("error starting server: %w", err)
	}
	fmt.Printf("treekv server started on %s\n", server.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\nReceived signal, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("Error stopping server: %v", err)
	}
	if err := eng.Sync(); err != nil {
		logger.Warn("Final sync failed: %v", err)
	}
	fmt.Println("Shutdown complete")
	return nil
}
