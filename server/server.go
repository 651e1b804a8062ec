// Package server implements the RPC server side of spec.md §4.F: accept
// connections, decode each frame, locate the target service/method,
// invoke it, encode the result (or error) back, all wrapped in a
// configurable middleware chain.
//
// Request processing pipeline:
//
//	Accept conn → transport.Server (frames) → onFrame
//	  → codec.Decode → middleware chain → businessHandler (reflect.Call) → codec.Encode
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/tanpham/xrpc/codec"
	"github.com/tanpham/xrpc/middleware"
	"github.com/tanpham/xrpc/registry"
	"github.com/tanpham/xrpc/transport"
	"github.com/tanpham/xrpc/xlog"
)

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	log xlog.Logger

	mu         sync.Mutex
	serviceMap map[string]*service

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	transport *transport.Server
	reg       *registry.Client

	advertiseAddr string
}

// NewServer creates a new RPC server with an empty service map.
func NewServer(log xlog.Logger) *Server {
	log = xlog.Or(log)
	return &Server{
		log:        log,
		serviceMap: make(map[string]*service),
		transport:  transport.NewServer(log),
	}
}

// Register registers a service receiver (e.g. &UserService{}) with the
// server. The struct's exported methods matching the (args, reply) error
// signature become callable remotely.
func (svr *Server) Register(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	svr.serviceMap[svc.name] = svc
	svr.mu.Unlock()
	return nil
}

// Use registers a middleware. Middlewares run in the order they are
// added: Use(A); Use(B) produces A(B(businessHandler)).
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

func (svr *Server) methodNames(svc *service) []string {
	names := make([]string, 0, len(svc.method))
	for name := range svc.method {
		names = append(names, name)
	}
	return names
}

// Serve builds the middleware chain, starts accepting connections on
// ip:port, and — if reg is non-nil — registers every service under
// advertiseAddr as an ephemeral node so clients can discover this
// instance. advertiseAddr differs from the listen address because
// "0.0.0.0:8080" isn't a routable dial target for other processes.
func (svr *Server) Serve(ip string, port int, advertiseAddr string, reg *registry.Client) error {
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)
	svr.reg = reg
	svr.advertiseAddr = advertiseAddr

	if reg != nil {
		svr.mu.Lock()
		services := make([]*service, 0, len(svr.serviceMap))
		for _, svc := range svr.serviceMap {
			services = append(services, svc)
		}
		svr.mu.Unlock()

		for _, svc := range services {
			path := fmt.Sprintf("/%s/%s", svc.name, advertiseAddr)
			data := "methods=" + strings.Join(svr.methodNames(svc), ",")
			if err := reg.Register(context.Background(), path, data, true); err != nil {
				return fmt.Errorf("server: register %s: %w", svc.name, err)
			}
		}
	}

	return svr.transport.Start(ip, port, svr.onFrame)
}

// onFrame decodes one request frame, runs it through the handler chain,
// and encodes the response frame — the seam between byte-oriented
// transport and the service-dispatch business logic.
func (svr *Server) onFrame(request []byte) []byte {
	header, payload, err := codec.Decode(request)
	if err != nil {
		errHeader := &codec.RpcHeader{
			Status: ErrDecodeRequest,
			Error:  &codec.RpcError{Code: ErrDecodeRequest, Message: "malformed request: " + err.Error()},
		}
		body := codec.Bytes(nil)
		return codec.Encode(errHeader, &body)
	}

	call := &middleware.Call{Req: header, ReqBody: payload}
	svr.dispatch(call)

	if call.Resp == nil {
		call.Resp = &codec.RpcHeader{
			ServiceName: header.ServiceName,
			MethodName:  header.MethodName,
			RequestID:   header.RequestID,
			Status:      codec.StatusOK,
		}
	} else {
		call.Resp.RequestID = header.RequestID
	}

	body := codec.Bytes(call.RespBody)
	return codec.Encode(call.Resp, &body)
}

// dispatch runs the middleware chain for one call, recovering from any
// panic raised by user code so a single bad handler cannot take down the
// accept loop's connection goroutine. A recovered panic is reported as
// ErrInternal, matching the handling of any other unexpected failure.
func (svr *Server) dispatch(call *middleware.Call) {
	defer func() {
		if r := recover(); r != nil {
			svr.log.Errorf("server: handler for %s.%s panicked: %v", call.Req.ServiceName, call.Req.MethodName, r)
			failCall(call, ErrInternal, fmt.Sprintf("internal error: %v", r))
		}
	}()
	svr.handler(context.Background(), call)
}

// businessHandler locates the target service/method by reflection,
// unmarshals the request body into the method's argument type, invokes
// it, and marshals the reply — the innermost link of the middleware
// chain, generalized from the teacher's identically-shaped dispatcher.
func (svr *Server) businessHandler(ctx context.Context, call *middleware.Call) {
	svr.mu.Lock()
	svc, ok := svr.serviceMap[call.Req.ServiceName]
	svr.mu.Unlock()
	if !ok {
		failCall(call, ErrServiceNotFound, fmt.Sprintf("unknown service %q", call.Req.ServiceName))
		return
	}

	method, ok := svc.method[call.Req.MethodName]
	if !ok {
		failCall(call, ErrMethodNotFound, fmt.Sprintf("unknown method %s.%s", call.Req.ServiceName, call.Req.MethodName))
		return
	}

	argv := reflect.New(method.ArgType)
	if len(call.ReqBody) > 0 {
		if err := json.Unmarshal(call.ReqBody, argv.Interface()); err != nil {
			failCall(call, ErrParseRequest, "unmarshal args: "+err.Error())
			return
		}
	}

	replyv := reflect.New(method.ReplyType)
	if err := svc.Call(method, argv, replyv); err != nil {
		failCall(call, ErrUserHandlerFailed, err.Error())
		return
	}

	replyBytes, err := json.Marshal(replyv.Interface())
	if err != nil {
		failCall(call, ErrInternal, "marshal reply: "+err.Error())
		return
	}

	call.Resp = &codec.RpcHeader{
		ServiceName: call.Req.ServiceName,
		MethodName:  call.Req.MethodName,
		Status:      codec.StatusOK,
	}
	call.RespBody = replyBytes
}

func failCall(call *middleware.Call, code uint32, msg string) {
	call.Resp = &codec.RpcHeader{
		ServiceName: call.Req.ServiceName,
		MethodName:  call.Req.MethodName,
		Status:      code,
		Error:       &codec.RpcError{Code: code, Message: msg},
	}
}

// Shutdown deregisters every service (so clients stop routing new calls
// here first), then stops accepting connections and waits (bounded by
// timeout) for in-flight requests to finish.
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.reg != nil {
		svr.mu.Lock()
		services := make([]*service, 0, len(svr.serviceMap))
		for _, svc := range svr.serviceMap {
			services = append(services, svc)
		}
		svr.mu.Unlock()

		for _, svc := range services {
			path := fmt.Sprintf("/%s/%s", svc.name, svr.advertiseAddr)
			if err := svr.reg.Delete(context.Background(), path); err != nil {
				svr.log.Warnf("server: deregister %s failed: %v", svc.name, err)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return svr.transport.Stop(ctx)
}
