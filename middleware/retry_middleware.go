package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/tanpham/xrpc/xlog"
)

// RetryMiddleware retries the inner handler chain with exponential
// backoff when the failure looks transient (timeout, connection
// refused); any other error is returned immediately.
func RetryMiddleware(log xlog.Logger, maxRetries int, baseDelay time.Duration) Middleware {
	log = xlog.Or(log)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) {
			next(ctx, call)
			for i := 0; i < maxRetries; i++ {
				if call.Resp == nil || call.Resp.Error == nil {
					return
				}
				if !isRetryable(call.Resp.Error.Message) {
					return
				}
				log.Warnf("middleware: retry %d for %s.%s after error: %s",
					i+1, call.Req.ServiceName, call.Req.MethodName, call.Resp.Error.Message)
				time.Sleep(baseDelay * time.Duration(1<<i))
				next(ctx, call)
			}
		}
	}
}

func isRetryable(msg string) bool {
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused")
}
