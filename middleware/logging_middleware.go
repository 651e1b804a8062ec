package middleware

import (
	"context"
	"time"

	"github.com/tanpham/xrpc/xlog"
)

// LoggingMiddleware logs the method name and duration of every call it
// wraps, and the error text on failure.
func LoggingMiddleware(log xlog.Logger) Middleware {
	log = xlog.Or(log)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) {
			start := time.Now()
			next(ctx, call)
			duration := time.Since(start)

			log.Infof("middleware: %s.%s took %s", call.Req.ServiceName, call.Req.MethodName, duration)
			if call.Resp != nil && call.Resp.Error != nil {
				log.Errorf("middleware: %s.%s error: %s", call.Req.ServiceName, call.Req.MethodName, call.Resp.Error.Message)
			}
		}
	}
}
