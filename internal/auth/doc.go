// Package auth implements the dual-authentication decision.
//
// A request is authenticated only when a Bearer token and a static API key
// both validate. Both checks always run, whatever the outcome of the first,
// so that rejections are logged with both signals. Callers only learn that
// the request was rejected, never which half failed.
//
// The Engine is independent of any HTTP or gRPC framework: transports
// translate their request into Credentials and act on the returned
// Decision. An authenticated Principal travels in the request context.
package auth
