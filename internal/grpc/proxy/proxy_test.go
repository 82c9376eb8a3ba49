package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

func TestCodec_Frame(t *testing.T) {
	t.Parallel()

	var c Codec
	assert.Equal(t, "proto", c.Name())

	data, err := c.Marshal(NewFrame([]byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	f := &Frame{}
	require.NoError(t, c.Unmarshal(data, f))
	assert.Equal(t, []byte{1, 2, 3}, f.Payload())

	// The frame owns its bytes.
	data[0] = 9
	assert.Equal(t, byte(1), f.Payload()[0])
}

func TestCodec_ProtoFallback(t *testing.T) {
	t.Parallel()

	var c Codec
	data, err := c.Marshal(durationpb.New(90 * time.Second))
	require.NoError(t, err)

	out := &durationpb.Duration{}
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, 90*time.Second, out.AsDuration())
}

func TestCodec_UnsupportedType(t *testing.T) {
	t.Parallel()

	var c Codec
	_, err := c.Marshal("plain string")
	assert.Error(t, err)
	assert.Error(t, c.Unmarshal([]byte("x"), new(int)))
}

func TestOutgoingContext(t *testing.T) {
	t.Parallel()

	in := metadata.MD{
		":authority":    {"gateway"},
		"authorization": {"Bearer abc"},
		"x-request-id":  {"caller-id"},
	}
	ctx := metadata.NewIncomingContext(context.Background(), in)
	ctx = observability.ContextWithRequestID(ctx, "adopted-id")

	out, ok := metadata.FromOutgoingContext(outgoingContext(ctx))
	require.True(t, ok)
	assert.Empty(t, out.Get(":authority"))
	assert.Equal(t, []string{"Bearer abc"}, out.Get("authorization"))
	assert.Equal(t, []string{"adopted-id"}, out.Get("x-request-id"))
}

func TestNew_RequiresTarget(t *testing.T) {
	t.Parallel()

	_, err := New("")
	assert.Error(t, err)

	p, err := New("passthrough:///localhost:9")
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
