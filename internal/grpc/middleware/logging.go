package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// UnaryLoggingInterceptor logs each completed call and counts it by
// method and status code.
func UnaryLoggingInterceptor(logger observability.Logger, metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, logger, metrics, info.FullMethod, start, err)
		return resp, err
	}
}

// StreamLoggingInterceptor is the stream form of UnaryLoggingInterceptor.
func StreamLoggingInterceptor(logger observability.Logger, metrics *observability.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv any,
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, stream)
		logCall(stream.Context(), logger, metrics, info.FullMethod, start, err)
		return err
	}
}

func logCall(
	ctx context.Context,
	logger observability.Logger,
	metrics *observability.Metrics,
	method string,
	start time.Time,
	err error,
) {
	code := status.Code(err)
	metrics.RecordGRPCRequest(method, code.String())

	fields := []observability.Field{
		observability.String("method", method),
		observability.String("code", code.String()),
		observability.Duration("latency", time.Since(start)),
	}

	l := logger.WithContext(ctx)
	switch code {
	case codes.OK:
		l.Info("grpc call completed", fields...)
	case codes.Internal, codes.Unavailable, codes.Unknown, codes.DataLoss:
		l.Error("grpc call completed", append(fields, observability.Error(err))...)
	default:
		l.Warn("grpc call completed", fields...)
	}
}
