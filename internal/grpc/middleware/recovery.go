package middleware

import (
	"context"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// UnaryRecoveryInterceptor returns a unary server interceptor that recovers from panics.
func UnaryRecoveryInterceptor(logger observability.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithContext(ctx).Error("panic recovered in gRPC handler",
					observability.String("method", info.FullMethod),
					observability.Any("panic", r),
					observability.String("stack", string(debug.Stack())),
				)
				err = status.Error(codes.Internal, "Internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// StreamRecoveryInterceptor returns a stream server interceptor that recovers from panics.
func StreamRecoveryInterceptor(logger observability.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithContext(stream.Context()).Error("panic recovered in gRPC stream handler",
					observability.String("method", info.FullMethod),
					observability.Any("panic", r),
					observability.String("stack", string(debug.Stack())),
				)
				err = status.Error(codes.Internal, "Internal server error")
			}
		}()

		return handler(srv, stream)
	}
}
