package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/tanpham/xrpc/codec"
)

// RateLimitMiddleware builds a token-bucket limiter shared across every
// call it wraps, rejecting a call outright once the bucket is empty
// rather than queueing it.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) {
			if !limiter.Allow() {
				failCall(call, codec.StatusRateLimited, "rate limit exceeded")
				return
			}
			next(ctx, call)
		}
	}
}
