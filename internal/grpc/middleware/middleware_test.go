package middleware

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

func TestEnsureRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
		adopt    bool
	}{
		{"adopts caller id", "caller-1", true},
		{"trims whitespace", "  caller-2  ", true},
		{"absent", "", false},
		{"oversized", strings.Repeat("x", observability.MaxRequestIDLength+1), false},
		{"control chars", "bad\x00id", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			if tt.incoming != "" {
				ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(RequestIDKey, tt.incoming))
			}

			ctx, id := ensureRequestID(ctx)
			assert.Equal(t, id, observability.RequestIDFromContext(ctx))
			if tt.adopt {
				assert.Equal(t, strings.TrimSpace(tt.incoming), id)
				return
			}
			_, err := uuid.Parse(id)
			assert.NoError(t, err)
		})
	}
}

func TestThrottled(t *testing.T) {
	t.Parallel()

	st, ok := status.FromError(throttled(42))
	require.True(t, ok)
	assert.Equal(t, codes.ResourceExhausted, st.Code())
	assert.Equal(t, "Rate limit exceeded", st.Message())

	require.Len(t, st.Details(), 1)
	retry, ok := st.Details()[0].(*errdetails.RetryInfo)
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, retry.GetRetryDelay().AsDuration())
}

func TestIsPublicMethod(t *testing.T) {
	t.Parallel()

	assert.True(t, isPublicMethod("/grpc.health.v1.Health/Check"))
	assert.True(t, isPublicMethod("/grpc.health.v1.Health/Watch"))
	assert.False(t, isPublicMethod("/rag.Query/Ask"))
	assert.False(t, isPublicMethod("/grpc.health.v1.HealthX/Check"))
}

func TestUnaryRecoveryInterceptor(t *testing.T) {
	t.Parallel()

	interceptor := UnaryRecoveryInterceptor(observability.NopLogger())
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"},
		func(context.Context, any) (any, error) { panic("boom") })

	assert.Equal(t, codes.Internal, status.Code(err))
}
