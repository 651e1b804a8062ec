// Package middleware wraps the server dispatcher's per-request handling
// in cross-cutting behavior (logging, rate limiting, timeouts, retries),
// composed the same way the teacher's HTTP-flavored middleware chain was:
// a HandlerFunc pipeline, closed over by Middleware constructors, joined
// by Chain.
package middleware

import (
	"context"

	"github.com/tanpham/xrpc/codec"
)

// Call is one request/response pair flowing through the dispatcher.
// Middleware may read Req and rewrite Resp; the innermost HandlerFunc is
// the one that actually invokes the target service method.
type Call struct {
	Req      *codec.RpcHeader
	ReqBody  []byte
	Resp     *codec.RpcHeader
	RespBody []byte
}

// HandlerFunc processes one Call, filling in its Resp/RespBody.
type HandlerFunc func(ctx context.Context, call *Call)

// Middleware wraps a HandlerFunc with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, applied outermost-first: the
// first middleware in the list sees the request before any other and
// the response after every other.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

func failCall(call *Call, code uint32, message string) {
	call.Resp = &codec.RpcHeader{
		ServiceName: call.Req.ServiceName,
		MethodName:  call.Req.MethodName,
		RequestID:   call.Req.RequestID,
		Status:      code,
		Error:       &codec.RpcError{Code: code, Message: message},
	}
}
