// Package proxy forwards gRPC calls for services the gateway does not
// implement to one upstream, without decoding the messages.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

const requestIDKey = "x-request-id"

// Proxy is a transparent stream proxy to one upstream connection.
type Proxy struct {
	conn   *grpc.ClientConn
	logger observability.Logger
}

// Option is a functional option for configuring the proxy.
type Option func(*proxyOptions)

type proxyOptions struct {
	logger   observability.Logger
	dialOpts []grpc.DialOption
}

// WithLogger sets the logger for the proxy.
func WithLogger(logger observability.Logger) Option {
	return func(o *proxyOptions) {
		o.logger = logger
	}
}

// WithDialOptions appends dial options for the upstream connection.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *proxyOptions) {
		o.dialOpts = append(o.dialOpts, opts...)
	}
}

// New creates a proxy to target. The connection is established lazily.
func New(target string, opts ...Option) (*Proxy, error) {
	if target == "" {
		return nil, errors.New("grpc upstream target is required")
	}

	o := proxyOptions{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}, o.dialOpts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc upstream client: %w", err)
	}

	return &Proxy{conn: conn, logger: o.logger}, nil
}

// Close closes the upstream connection.
func (p *Proxy) Close() error {
	return p.conn.Close()
}

// StreamHandler returns the handler for grpc.UnknownServiceHandler.
func (p *Proxy) StreamHandler() grpc.StreamHandler {
	return p.handleStream
}

// handleStream proxies all call shapes: unary, server, client and bidi.
func (p *Proxy) handleStream(_ any, serverStream grpc.ServerStream) error {
	ctx := serverStream.Context()

	fullMethod, ok := grpc.MethodFromServerStream(serverStream)
	if !ok {
		return status.Error(codes.Internal, "failed to get method from context")
	}

	outCtx, cancel := context.WithCancel(outgoingContext(ctx))
	defer cancel()

	desc := &grpc.StreamDesc{
		StreamName:    fullMethod,
		ServerStreams: true,
		ClientStreams: true,
	}
	clientStream, err := p.conn.NewStream(outCtx, desc, fullMethod)
	if err != nil {
		p.logger.WithContext(ctx).Error("failed to open upstream stream",
			observability.String("method", fullMethod),
			observability.Error(err),
		)
		return err
	}

	return p.proxyStreams(serverStream, clientStream)
}

// proxyStreams pumps frames in both directions until the upstream
// finishes or either side fails.
func (p *Proxy) proxyStreams(serverStream grpc.ServerStream, clientStream grpc.ClientStream) error {
	toUpstream := make(chan error, 1)
	toClient := make(chan error, 1)

	go func() {
		toUpstream <- forwardServerToClient(serverStream, clientStream)
	}()
	go func() {
		toClient <- forwardClientToServer(clientStream, serverStream)
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-toUpstream:
			if err != nil {
				return status.Errorf(codes.Internal, "failed proxying request: %v", err)
			}
		case err := <-toClient:
			serverStream.SetTrailer(clientStream.Trailer())
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}

// forwardServerToClient sends caller frames upstream and half-closes on EOF.
func forwardServerToClient(serverStream grpc.ServerStream, clientStream grpc.ClientStream) error {
	for {
		frame := &Frame{}
		if err := serverStream.RecvMsg(frame); err != nil {
			if errors.Is(err, io.EOF) {
				return clientStream.CloseSend()
			}
			return err
		}
		if err := clientStream.SendMsg(frame); err != nil {
			return err
		}
	}
}

// forwardClientToServer relays upstream headers and frames to the caller.
// It returns io.EOF when the upstream finished cleanly, or the upstream's
// status error.
func forwardClientToServer(clientStream grpc.ClientStream, serverStream grpc.ServerStream) error {
	md, err := clientStream.Header()
	if err != nil {
		return err
	}
	if err := serverStream.SendHeader(md); err != nil {
		return err
	}

	for {
		frame := &Frame{}
		if err := clientStream.RecvMsg(frame); err != nil {
			return err
		}
		if err := serverStream.SendMsg(frame); err != nil {
			return err
		}
	}
}

// outgoingContext copies the caller's metadata onto the upstream call,
// dropping transport pseudo-headers.
func outgoingContext(ctx context.Context) context.Context {
	in, _ := metadata.FromIncomingContext(ctx)
	out := metadata.MD{}
	for k, v := range in {
		if strings.HasPrefix(k, ":") {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	if id := observability.RequestIDFromContext(ctx); id != "" {
		out.Set(requestIDKey, id)
	}
	return metadata.NewOutgoingContext(ctx, out)
}
