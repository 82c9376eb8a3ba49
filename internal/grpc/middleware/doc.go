// Package middleware provides the gRPC server interceptors that apply the
// gateway's correlation, authentication and rate-limit decisions to calls.
//
// Every interceptor comes in a unary and a stream form. Calls for services
// the gateway proxies are streams, so the stream forms guard the upstream;
// the unary forms guard locally registered services such as health.
package middleware
