// Package middleware provides the gin handlers that make up the gateway
// pipeline: correlation ids, response hardening, CORS, access logging,
// tracing, dual authentication, path denial, and rate limiting.
//
// Handlers that reject a request write their body through the apierror
// package and abort the chain, so every short-circuit response has the
// same shape.
package middleware
