package middleware

import (
	"context"
	"time"

	"github.com/tanpham/xrpc/codec"
)

// TimeoutMiddleware bounds how long the inner handler chain may run.
// If timeout elapses first, the call fails with StatusTimeout; the
// inner goroutine is abandoned rather than killed, since Go has no way
// to preempt it — a caller relying on cancellation should also honor
// ctx inside the service method.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan struct{})
			go func() {
				next(ctx, call)
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				failCall(call, codec.StatusTimeout, "request timed out")
			}
		}
	}
}
