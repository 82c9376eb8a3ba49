package middleware

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/apiguard/internal/apierror"
	"github.com/vyrodovalexey/apiguard/internal/auth"
)

// HealthMethodPrefix marks the health service, which is always public.
const HealthMethodPrefix = "/grpc.health.v1.Health/"

// UnaryAuthInterceptor runs the dual-authentication decision using the
// authorization and API key metadata. Rejections are Unauthenticated with
// a generic message.
func UnaryAuthInterceptor(engine *auth.Engine) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authorize(ctx, engine, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor is the stream form of UnaryAuthInterceptor.
func StreamAuthInterceptor(engine *auth.Engine) grpc.StreamServerInterceptor {
	return func(
		srv any,
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authorize(stream.Context(), engine, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, WrapServerStream(stream, ctx))
	}
}

func authorize(ctx context.Context, engine *auth.Engine, method string) (context.Context, error) {
	if isPublicMethod(method) {
		return ctx, nil
	}

	decision := engine.Decide(ctx, auth.Credentials{
		Method:        http.MethodPost,
		Path:          method,
		Authorization: firstValue(ctx, "authorization"),
		APIKey:        firstValue(ctx, strings.ToLower(engine.KeyHeader())),
	})

	switch decision.Outcome {
	case auth.OutcomeAuthenticated:
		return auth.ContextWithPrincipal(ctx, decision.Principal), nil
	case auth.OutcomeBypassed:
		return ctx, nil
	default:
		return ctx, status.Error(apierror.Unauthorized.GRPCCode(), "Unauthorized")
	}
}

func isPublicMethod(method string) bool {
	return strings.HasPrefix(method, HealthMethodPrefix)
}
