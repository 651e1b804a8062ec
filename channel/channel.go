// Package channel is the client-side call engine of spec.md §4.E: given
// a "Service.Method" name, it discovers an instance via the registry,
// picks one via a load-balancing strategy, borrows a pooled connection,
// encodes the request, dispatches it, decodes the response, and signals
// the caller's controller on failure or cancellation.
//
// This generalizes the teacher's client.Client, which did the same job
// against a single hardcoded codec and a ZooKeeper-free registry.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tanpham/xrpc/codec"
	"github.com/tanpham/xrpc/controller"
	"github.com/tanpham/xrpc/loadbalance"
	"github.com/tanpham/xrpc/registry"
	"github.com/tanpham/xrpc/transport"
	"github.com/tanpham/xrpc/xlog"
)

// Client-side sentinel errors. Their text is part of the wire contract
// with callers inspecting controller.ErrorText() after a failed call, so
// it is not wrapped or prefixed like other channel errors.
var (
	ErrServiceInstanceNotFound = errors.New("Service instance not found")
	ErrCancelledBeforeSend     = errors.New("Request was canceled before sending")
	ErrCancelled               = errors.New("Request was canceled")
)

// Channel is safe for concurrent use by multiple goroutines; a program
// typically opens one per remote service (or one shared across all of
// them, since pools are keyed per address).
type Channel struct {
	reg      *registry.Client
	balancer loadbalance.Balancer
	log      xlog.Logger
	poolSize int
	nextID   uint64

	mu    sync.Mutex
	pools map[string]*transport.ConnPool
}

// New builds a Channel that discovers instances through reg and spreads
// calls across them via balancer.
func New(reg *registry.Client, balancer loadbalance.Balancer, poolSize int, log xlog.Logger) *Channel {
	return &Channel{
		reg:      reg,
		balancer: balancer,
		log:      xlog.Or(log),
		poolSize: poolSize,
		pools:    make(map[string]*transport.ConnPool),
	}
}

func splitServiceMethod(serviceMethod string) (service, method string, err error) {
	parts := strings.SplitN(serviceMethod, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("channel: invalid serviceMethod %q, want \"Service.Method\"", serviceMethod)
	}
	return parts[0], parts[1], nil
}

func (c *Channel) poolFor(addr string) *transport.ConnPool {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[addr]
	if !ok {
		pool = transport.NewConnPool(addr, c.poolSize, func(ctx context.Context) (*transport.ClientConn, error) {
			return transport.Connect(ctx, addr, c.log)
		})
		c.pools[addr] = pool
	}
	return pool
}

func (c *Channel) pickInstance(ctx context.Context, service, method string) (registry.Instance, error) {
	instances, err := c.reg.FindInstancesByMethod(ctx, service, method)
	if err != nil {
		return registry.Instance{}, err
	}
	if len(instances) == 0 {
		return registry.Instance{}, ErrServiceInstanceNotFound
	}

	inst, err := c.balancer.Pick(instances)
	if err != nil {
		return registry.Instance{}, err
	}
	return *inst, nil
}

func instanceAddr(inst registry.Instance) string {
	idx := strings.LastIndex(inst.Path, "/")
	if idx < 0 {
		return inst.Path
	}
	return inst.Path[idx+1:]
}

// Call performs one synchronous RPC: encode args, send, block for the
// response, decode into reply. ctrl (may be nil) is armed for
// cancellation before the send and reports failure to the caller if the
// call fails for any reason.
func (c *Channel) Call(ctx context.Context, serviceMethod string, args, reply codec.Message, ctrl *controller.Controller) error {
	service, method, err := splitServiceMethod(serviceMethod)
	if err != nil {
		return c.fail(ctrl, err)
	}

	inst, err := c.pickInstance(ctx, service, method)
	if err != nil {
		return c.fail(ctrl, err)
	}

	if ctrl != nil && ctrl.IsCancelled() {
		return c.fail(ctrl, ErrCancelledBeforeSend)
	}

	addr := instanceAddr(inst)

	pool := c.poolFor(addr)
	conn, err := pool.Get(ctx)
	if err != nil {
		return c.fail(ctrl, fmt.Errorf("channel: get connection to %s: %w", addr, err))
	}

	header := &codec.RpcHeader{
		ServiceName: service,
		MethodName:  method,
		RequestID:   atomic.AddUint64(&c.nextID, 1),
		Compressed:  true, // opt in; codec.Encode only compresses when it helps
	}
	req := codec.Encode(header, args)

	if ctrl != nil {
		ctrl.NotifyOnCancel(func() {
			pool.Discard(conn)
		})
	}

	respFrame, err := conn.SendAndWait(ctx, req)

	// conn's disposition (Put or Discard below) is now decided; disarm the
	// cancel slot first so a StartCancel racing with this response cannot
	// fire the stale Discard(conn) closure against a connection some other
	// call may already be holding.
	if ctrl != nil {
		ctrl.NotifyOnCancel(nil)
	}

	if err != nil {
		pool.Discard(conn)
		return c.fail(ctrl, fmt.Errorf("channel: call %s: %w", serviceMethod, err))
	}
	pool.Put(conn)

	if ctrl != nil && ctrl.IsCancelled() {
		return c.fail(ctrl, ErrCancelled)
	}

	respHeader, payload, err := codec.Decode(respFrame)
	if err != nil {
		return c.fail(ctrl, fmt.Errorf("channel: decode response for %s: %w", serviceMethod, err))
	}
	if respHeader.Error != nil {
		err := fmt.Errorf("channel: %s: server error %d: %s", serviceMethod, respHeader.Error.Code, respHeader.Error.Message)
		return c.fail(ctrl, err)
	}

	if reply != nil {
		if err := reply.Unmarshal(payload); err != nil {
			return c.fail(ctrl, fmt.Errorf("channel: unmarshal reply for %s: %w", serviceMethod, err))
		}
	}
	return nil
}

func (c *Channel) fail(ctrl *controller.Controller, err error) error {
	if ctrl != nil {
		ctrl.SetFailed(err.Error())
	}
	return err
}

// Done is delivered to a CallAsync completion callback.
type Done struct {
	Reply codec.Message
	Err   error
}

// CallAsync is the non-blocking counterpart to Call: it returns as soon
// as the request is written, and done runs on the connection's read-loop
// goroutine once the response arrives (or the call fails).
func (c *Channel) CallAsync(ctx context.Context, serviceMethod string, args, reply codec.Message, ctrl *controller.Controller, done func(Done)) error {
	service, method, err := splitServiceMethod(serviceMethod)
	if err != nil {
		return c.fail(ctrl, err)
	}

	inst, err := c.pickInstance(ctx, service, method)
	if err != nil {
		return c.fail(ctrl, err)
	}

	// notify calls done if the caller supplied one; done is optional
	// throughout CallAsync, mirrored consistently across every exit path.
	notify := func(d Done) {
		if done != nil {
			done(d)
		}
	}

	if ctrl != nil && ctrl.IsCancelled() {
		c.fail(ctrl, ErrCancelledBeforeSend)
		notify(Done{Err: ErrCancelledBeforeSend})
		return ErrCancelledBeforeSend
	}

	addr := instanceAddr(inst)

	pool := c.poolFor(addr)
	conn, err := pool.Get(ctx)
	if err != nil {
		return c.fail(ctrl, fmt.Errorf("channel: get connection to %s: %w", addr, err))
	}

	header := &codec.RpcHeader{
		ServiceName: service,
		MethodName:  method,
		RequestID:   atomic.AddUint64(&c.nextID, 1),
		Compressed:  true,
	}
	req := codec.Encode(header, args)

	if ctrl != nil {
		ctrl.NotifyOnCancel(func() {
			pool.Discard(conn)
		})
	}

	err = conn.SendAsync(req, func(respFrame []byte, ok bool) {
		// conn's disposition (Put or Discard below) is now decided; disarm
		// the cancel slot first so a StartCancel racing with this response
		// cannot fire the stale Discard(conn) closure against a connection
		// some other call may already be holding.
		if ctrl != nil {
			ctrl.NotifyOnCancel(nil)
		}

		if !ok {
			pool.Discard(conn)
			err := fmt.Errorf("channel: async call %s: connection failed", serviceMethod)
			c.fail(ctrl, err)
			notify(Done{Err: err})
			return
		}
		pool.Put(conn)

		if ctrl != nil && ctrl.IsCancelled() {
			c.fail(ctrl, ErrCancelled)
			notify(Done{Err: ErrCancelled})
			return
		}

		respHeader, payload, decErr := codec.Decode(respFrame)
		if decErr != nil {
			decErr = fmt.Errorf("channel: decode response for %s: %w", serviceMethod, decErr)
			c.fail(ctrl, decErr)
			notify(Done{Err: decErr})
			return
		}
		if respHeader.Error != nil {
			callErr := fmt.Errorf("channel: %s: server error %d: %s", serviceMethod, respHeader.Error.Code, respHeader.Error.Message)
			c.fail(ctrl, callErr)
			notify(Done{Err: callErr})
			return
		}
		if reply != nil {
			if uErr := reply.Unmarshal(payload); uErr != nil {
				uErr = fmt.Errorf("channel: unmarshal reply for %s: %w", serviceMethod, uErr)
				c.fail(ctrl, uErr)
				notify(Done{Err: uErr})
				return
			}
		}
		notify(Done{Reply: reply})
	})
	if err != nil {
		pool.Discard(conn)
		return c.fail(ctrl, fmt.Errorf("channel: send async %s: %w", serviceMethod, err))
	}
	return nil
}

// Close releases every pooled connection this channel has opened.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, pool := range c.pools {
		if err := pool.Close(); err != nil {
			return fmt.Errorf("channel: close pool %s: %w", addr, err)
		}
	}
	return nil
}
