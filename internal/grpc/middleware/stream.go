package middleware

import (
	"context"

	"google.golang.org/grpc"
)

// contextStream wraps grpc.ServerStream to replace its context.
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (s *contextStream) Context() context.Context {
	return s.ctx
}

// WrapServerStream wraps a server stream with a new context.
func WrapServerStream(stream grpc.ServerStream, ctx context.Context) grpc.ServerStream {
	return &contextStream{ServerStream: stream, ctx: ctx}
}
