package middleware

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// RequestIDKey is the metadata key for the correlation id.
const RequestIDKey = "x-request-id"

// UnaryRequestIDInterceptor adopts or generates the correlation id and
// returns it in the response header metadata.
func UnaryRequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, id := ensureRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDKey, id))
		return handler(ctx, req)
	}
}

// StreamRequestIDInterceptor is the stream form of UnaryRequestIDInterceptor.
func StreamRequestIDInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		stream grpc.ServerStream,
		_ *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, id := ensureRequestID(stream.Context())
		_ = stream.SetHeader(metadata.Pairs(RequestIDKey, id))
		return handler(srv, WrapServerStream(stream, ctx))
	}
}

// ensureRequestID places a usable correlation id on the context. Caller
// ids rejected by observability.ValidRequestID are replaced with a new
// UUID.
func ensureRequestID(ctx context.Context) (context.Context, string) {
	id := strings.TrimSpace(firstValue(ctx, RequestIDKey))
	if !observability.ValidRequestID(id) {
		id = uuid.NewString()
	}
	return observability.ContextWithRequestID(ctx, id), id
}

// firstValue returns the first incoming metadata value for key.
func firstValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
