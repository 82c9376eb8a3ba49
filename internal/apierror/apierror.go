// Package apierror defines the gateway's own failure kinds and the single
// formatter that renders them for HTTP and gRPC callers.
//
// Every response the gateway produces itself, as opposed to one relayed
// from the upstream, has the body
//
//	{"status":401,"code":"UNAUTHORIZED","message":"Authentication required"}
//
// with "retryAfterSeconds" added for RateLimited.
package apierror

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
)

// Kind enumerates the failures the gateway reports on its own behalf.
type Kind int

const (
	// Internal is the zero value so an unclassified failure never leaks
	// as success.
	Internal Kind = iota
	Unauthorized
	Forbidden
	RateLimited
	BadGateway
	Unavailable
)

type kindInfo struct {
	status  int
	code    string
	message string
	grpc    codes.Code
}

var kinds = map[Kind]kindInfo{
	Unauthorized: {http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", codes.Unauthenticated},
	Forbidden:    {http.StatusForbidden, "FORBIDDEN", "Access denied", codes.PermissionDenied},
	RateLimited:  {http.StatusTooManyRequests, "RATE_LIMIT", "Rate limit exceeded", codes.ResourceExhausted},
	BadGateway:   {http.StatusBadGateway, "BAD_GATEWAY", "Upstream request failed", codes.Unavailable},
	Unavailable:  {http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable", codes.Unavailable},
	Internal:     {http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", codes.Internal},
}

func (k Kind) info() kindInfo {
	if i, ok := kinds[k]; ok {
		return i
	}
	return kinds[Internal]
}

// Status returns the HTTP status for the kind.
func (k Kind) Status() int { return k.info().status }

// Code returns the stable machine-readable code.
func (k Kind) Code() string { return k.info().code }

// Message returns the default client-facing message.
func (k Kind) Message() string { return k.info().message }

// GRPCCode returns the gRPC status code for the kind.
func (k Kind) GRPCCode() codes.Code { return k.info().grpc }

// String implements fmt.Stringer.
func (k Kind) String() string { return k.Code() }

// Body is the JSON error document.
type Body struct {
	Status            int    `json:"status"`
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds *int   `json:"retryAfterSeconds,omitempty"`
}

// NewBody returns the body for kind with its default message.
func NewBody(kind Kind) Body {
	return Body{
		Status:  kind.Status(),
		Code:    kind.Code(),
		Message: kind.Message(),
	}
}

// Throttled returns the RateLimited body carrying the retry delay.
func Throttled(retryAfterSeconds int) Body {
	b := NewBody(RateLimited)
	b.RetryAfterSeconds = &retryAfterSeconds
	return b
}

// Abort writes kind's body on a gin context and stops the handler chain.
func Abort(c *gin.Context, kind Kind) {
	c.AbortWithStatusJSON(kind.Status(), NewBody(kind))
}

// AbortThrottled writes the 429 body plus the Retry-After and
// X-RateLimit-Remaining headers and stops the handler chain.
func AbortThrottled(c *gin.Context, retryAfterSeconds int) {
	c.Header(HeaderRetryAfter, strconv.Itoa(retryAfterSeconds))
	c.Header(HeaderRateLimitRemaining, "0")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, Throttled(retryAfterSeconds))
}

// Write renders kind's body on a plain ResponseWriter. It is used where
// no gin context exists, such as the reverse proxy error handler.
func Write(w http.ResponseWriter, kind Kind) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(kind.Status())
	_ = json.NewEncoder(w).Encode(NewBody(kind))
}

// Response headers set by the gateway.
const (
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
)
