// Package transport implements the async byte transport of spec.md §4.C:
// a TCP accept loop on the server side, and a client connection offering
// both a blocking send_and_wait call and a fire-and-forget send_async
// call with a completion callback.
//
// It is byte-oriented — it does not know about RpcHeader or method
// dispatch — but it does own the accumulate-until-complete-frame step
// spec.md §4.C requires, using codec.FrameLen to find frame boundaries
// without otherwise interpreting them.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/tanpham/xrpc/codec"
	"github.com/tanpham/xrpc/xlog"
)

// ClientConn is a single TCP connection to one server instance. Writes
// are serialized by a mutex, exactly like the teacher's
// ClientConn.sending lock; this implementation documents (per
// spec.md §9's Open Question) that it keeps at most one in-flight
// request per connection rather than multiplexing by request ID — a
// second SendAndWait started while one is in progress on the same
// connection fails with an error, and the owner (channel.Channel) keeps
// calls apart by checking each connection out of a pool for one call at
// a time.
type ClientConn struct {
	conn net.Conn
	log  xlog.Logger

	writeMu sync.Mutex // serializes the whole write, one frame at a time
	inLoop  int32       // set while a SendAndWait is in progress; an overlapping one fails

	mu      sync.Mutex // guards the fields below
	pending chan pendingResp
	asyncCb func(resp []byte, ok bool) // set by SendAsync, consumed once by readLoop
	closed  bool
	closeCh chan struct{}
}

type pendingResp struct {
	data []byte
	ok   bool
}

// Connect dials addr and starts the connection's read loop.
func Connect(ctx context.Context, addr string, log xlog.Logger) (*ClientConn, error) {
	log = xlog.Or(log)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	c := &ClientConn{
		conn:    conn,
		log:     log,
		pending: make(chan pendingResp, 1),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// readLoop is the connection's dedicated I/O-worker goroutine: it
// accumulates bytes until one complete frame is available (per
// spec.md §4.C) and either delivers it to a pending SendAndWait caller
// or fires the registered SendAsync completion.
func (c *ClientConn) readLoop() {
	r := bufio.NewReader(c.conn)
	var buf []byte

	fail := func(err error) {
		c.log.Warnf("transport: connection to %s broken: %v", c.conn.RemoteAddr(), err)
		c.mu.Lock()
		cb := c.asyncCb
		c.asyncCb = nil
		c.mu.Unlock()
		if cb != nil {
			cb(nil, false)
			return
		}
		select {
		case c.pending <- pendingResp{ok: false}:
		default:
		}
	}

	for {
		n, ok, err := codec.FrameLen(buf)
		if err != nil {
			fail(err)
			return
		}
		if !ok {
			chunk := make([]byte, 4096)
			m, err := r.Read(chunk)
			if m > 0 {
				buf = append(buf, chunk[:m]...)
			}
			if err != nil {
				fail(err)
				return
			}
			continue
		}

		frame := append([]byte(nil), buf[:n]...)
		buf = buf[n:]

		c.mu.Lock()
		cb := c.asyncCb
		c.asyncCb = nil
		c.mu.Unlock()

		if cb != nil {
			cb(frame, true)
			continue
		}
		select {
		case c.pending <- pendingResp{data: frame, ok: true}:
		case <-c.closeCh:
			return
		}
	}
}

// SendAndWait writes data as one frame, then blocks the calling
// goroutine until a full response frame is read or the connection
// breaks. It must not be called from the connection's own read-loop
// goroutine.
func (c *ClientConn) SendAndWait(ctx context.Context, data []byte) ([]byte, error) {
	if !atomic.CompareAndSwapInt32(&c.inLoop, 0, 1) {
		return nil, fmt.Errorf("transport: SendAndWait already in progress on this connection")
	}
	defer atomic.StoreInt32(&c.inLoop, 0)

	if err := c.write(data); err != nil {
		return nil, err
	}

	select {
	case resp := <-c.pending:
		if !resp.ok {
			return nil, fmt.Errorf("transport: no response received from %s", c.conn.RemoteAddr())
		}
		return resp.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, fmt.Errorf("transport: connection closed")
	}
}

// SendAsync writes data as one frame and returns immediately. done runs
// on this connection's read-loop goroutine once the response frame
// arrives, or once the connection fails.
func (c *ClientConn) SendAsync(data []byte, done func(resp []byte, ok bool)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transport: connection closed")
	}
	c.asyncCb = done
	c.mu.Unlock()

	if err := c.write(data); err != nil {
		c.mu.Lock()
		c.asyncCb = nil
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *ClientConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(data)
	if err != nil {
		return fmt.Errorf("transport: write to %s: %w", c.conn.RemoteAddr(), err)
	}
	return nil
}

// Close tears down the connection, unblocking any in-flight
// SendAndWait/SendAsync callers with a failure.
func (c *ClientConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.closeCh)
	return c.conn.Close()
}
