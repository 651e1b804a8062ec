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

// OnFrame is invoked once per complete request frame received on any
// accepted connection; its return value is written back as the response
// frame on that same connection.
type OnFrame func(request []byte) []byte

// Server runs the accept loop and one read loop per accepted connection.
// Each reply is written back by the read loop of the connection its
// request arrived on; the conns table tracks every accepted connection
// so Stop can close them all. handleConn is generalized from the
// teacher's Server.handleConn (which dispatches at the RPCMessage level)
// down to raw frame bytes.
type Server struct {
	log xlog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// NewServer builds a Server; call Start to begin accepting connections.
func NewServer(log xlog.Logger) *Server {
	return &Server{
		log:   xlog.Or(log),
		conns: make(map[net.Conn]struct{}),
	}
}

// Start binds ip:port and runs the accept loop until the listener is
// closed by Stop. Each accepted connection gets its own read-loop
// goroutine; onFrame runs synchronously in that goroutine, which keeps
// per-connection response ordering (the documented, spec-permitted
// choice for the ordering Open Question in spec.md §9).
func (s *Server) Start(ip string, port int, onFrame OnFrame) error {
	addr := fmt.Sprintf("%s:%d", ip, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Infof("transport: server listening on %s", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			s.log.Errorf("transport: accept error: %v", err)
			continue
		}

		s.mu.Lock()
		if s.shutdown.Load() {
			// Stop already swept the table; close this late arrival here
			// instead of leaving it served after Stop returned.
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConn(conn, onFrame)
	}
}

func (s *Server) handleConn(conn net.Conn, onFrame OnFrame) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	var writeMu sync.Mutex
	r := bufio.NewReader(conn)
	var buf []byte

	for {
		n, ok, err := codec.FrameLen(buf)
		if err != nil {
			s.log.Warnf("transport: framing error from %s: %v", conn.RemoteAddr(), err)
			return
		}
		if !ok {
			chunk := make([]byte, 4096)
			m, err := r.Read(chunk)
			if m > 0 {
				buf = append(buf, chunk[:m]...)
			}
			if err != nil {
				return // peer closed or read error; connection done
			}
			continue
		}

		frame := append([]byte(nil), buf[:n]...)
		buf = buf[n:]

		resp := onFrame(frame)

		writeMu.Lock()
		_, werr := conn.Write(resp)
		writeMu.Unlock()
		if werr != nil {
			s.log.Warnf("transport: write to %s failed: %v", conn.RemoteAddr(), werr)
			return
		}
	}
}

// Stop closes the listener and every tracked connection, then waits
// (bounded by ctx) for in-flight handleConn goroutines to return.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdown.Store(true)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transport: stop timed out waiting for connections to close")
	}
}
