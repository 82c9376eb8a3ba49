// Package proxy forwards admitted requests to the upstream service.
//
// The upstream is a single base URL. Requests are rewritten onto it with
// httputil.ReverseProxy, so hop-by-hop headers are removed and the
// X-Forwarded-* headers are set. An optional circuit breaker stops calling
// an upstream that keeps failing.
//
// # Failure mapping
//
// Upstream responses, including 4xx and 5xx, pass through unchanged. The
// proxy answers on its own only when:
//
//   - the upstream cannot be reached or times out (502 BAD_GATEWAY)
//   - the circuit breaker is open (503 SERVICE_UNAVAILABLE)
package proxy
