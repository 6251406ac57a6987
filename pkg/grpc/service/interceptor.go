package service

import (
	"context"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor records every unary call in m.
func UnaryServerInterceptor(m ServiceMetrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.RecordRequest(ctx, path.Base(info.FullMethod), time.Since(start), status.Code(err))
		return resp, err
	}
}

// StreamServerInterceptor records every streaming call in m.
func StreamServerInterceptor(m ServiceMetrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		m.RecordRequest(ss.Context(), path.Base(info.FullMethod), time.Since(start), status.Code(err))
		return err
	}
}
