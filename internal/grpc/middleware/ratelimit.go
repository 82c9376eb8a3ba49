package middleware

import (
	"context"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/vyrodovalexey/apiguard/internal/apierror"
	"github.com/vyrodovalexey/apiguard/internal/auth"
	"github.com/vyrodovalexey/apiguard/internal/observability"
	"github.com/vyrodovalexey/apiguard/internal/ratelimit"
)

// UnaryRateLimitInterceptor withdraws one token per call, keyed by the
// principal or the peer address. Throttled calls fail with
// ResourceExhausted carrying RetryInfo; a limiter error fails with
// Unavailable.
func UnaryRateLimitInterceptor(limiter ratelimit.Limiter, logger observability.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if err := admit(ctx, limiter, logger, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamRateLimitInterceptor is the stream form of UnaryRateLimitInterceptor.
// A stream costs one token regardless of how many messages it carries.
func StreamRateLimitInterceptor(limiter ratelimit.Limiter, logger observability.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := admit(stream.Context(), limiter, logger, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, stream)
	}
}

func admit(ctx context.Context, limiter ratelimit.Limiter, logger observability.Logger, method string) error {
	if isPublicMethod(method) {
		return nil
	}

	subject := ""
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		subject = p.Subject
	}
	key := ratelimit.Key(subject, peerAddr(ctx))

	result, err := limiter.Allow(ctx, key)
	if err != nil {
		logger.WithContext(ctx).Error("rate limit check failed",
			observability.String("key", key),
			observability.String("method", method),
			observability.Error(err),
		)
		return status.Error(apierror.Unavailable.GRPCCode(), apierror.Unavailable.Message())
	}
	if result.Allowed {
		return nil
	}

	retry := result.RetryAfterSeconds()
	logger.WithContext(ctx).Warn("rate limit exceeded",
		observability.String("key", key),
		observability.String("method", method),
		observability.Int("retry_after_seconds", retry),
	)
	return throttled(retry)
}

// throttled builds the ResourceExhausted status with a RetryInfo detail.
func throttled(retryAfterSeconds int) error {
	st := status.New(apierror.RateLimited.GRPCCode(), apierror.RateLimited.Message())
	detailed, err := st.WithDetails(&errdetails.RetryInfo{
		RetryDelay: durationpb.New(time.Duration(retryAfterSeconds) * time.Second),
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}
