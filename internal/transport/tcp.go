package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brennhill/mcp-runtime/internal/framing"
)

const acceptPollInterval = 500 * time.Millisecond

// TCPServer accepts length-prefixed JSON connections per internal/framing.
// One accept thread blocks on Accept with a short deadline so it can
// notice shutdown; one handler goroutine per connection runs the framing
// read loop.
type TCPServer struct {
	addr   string
	limits Limits

	listener  *net.TCPListener
	table     *connTable
	shutdown  atomic.Int32 // 0 running, 1 stopping/stopped
	wg        sync.WaitGroup
	onMessage MessageCallback
	onError   ErrorCallback
}

// NewTCPServer constructs a TCP server bound to addr (host:port) once
// Start is called.
func NewTCPServer(addr string, limits Limits) *TCPServer {
	return &TCPServer{addr: addr, limits: limits, table: newConnTable(limits.MaxClients)}
}

// Start binds the listener and launches the accept loop in the background.
func (s *TCPServer) Start(onMessage MessageCallback, onError ErrorCallback) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: tcp listen %s: %w", s.addr, err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return fmt.Errorf("transport: expected *net.TCPListener, got %T", ln)
	}
	s.listener = tcpLn
	s.onMessage = onMessage
	s.onError = onError
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()
	for {
		_ = s.listener.SetDeadline(time.Now().Add(acceptPollInterval))
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shutdown.Load() != 0 {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			continue
		}
		c := newTCPConn(conn, s.limits)
		id, admitted := s.table.admit(c)
		if !admitted {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConn(id, c)
	}
}

func (s *TCPServer) handleConn(id uint64, c *tcpConn) {
	defer s.wg.Done()
	defer s.table.remove(id)
	defer func() { _ = c.Close() }()

	for {
		if s.shutdown.Load() != 0 {
			return
		}
		if s.limits.IdleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(s.limits.IdleTimeout))
		} else {
			_ = c.conn.SetReadDeadline(time.Now().Add(acceptPollInterval))
		}
		payload, err := framing.ReadTCPMessage(c.conn, s.limits.maxMessageSize())
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if s.limits.IdleTimeout > 0 {
					if s.onError != nil {
						s.onError(c, fmt.Errorf("transport: idle timeout: %w", err))
					}
					return
				}
				continue
			}
			if s.onError != nil {
				s.onError(c, err)
			}
			return
		}
		c.touch()
		resp, ok := s.onMessage(c, payload)
		if ok && resp != nil {
			if err := c.Send(resp); err != nil {
				if s.onError != nil {
					s.onError(c, err)
				}
				return
			}
		}
	}
}

// Stop closes the listener and every live connection, then waits (with a
// bounded timeout) for handler goroutines to exit.
func (s *TCPServer) Stop() {
	if !s.shutdown.CompareAndSwap(0, 1) {
		return
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, c := range s.table.snapshot() {
		_ = c.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

// Destroy is equivalent to Stop; it exists to satisfy ServerTransport.
func (s *TCPServer) Destroy() { s.Stop() }

// Addr returns the listener's actual bound address, useful when addr was
// given as "host:0".
func (s *TCPServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// RejectedConnections returns the count of connections refused because the
// table was at max_clients capacity.
func (s *TCPServer) RejectedConnections() int64 { return s.table.rejectedCount() }

type tcpConn struct {
	conn   net.Conn
	limits Limits
	mu     sync.Mutex
}

func newTCPConn(conn net.Conn, limits Limits) *tcpConn {
	return &tcpConn{conn: conn, limits: limits}
}

func (c *tcpConn) touch() {
	if c.limits.IdleTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.limits.IdleTimeout))
	}
}

// Send writes a single length-prefixed frame. The handler goroutine is the
// sole writer for a TCP connection, so no send-side lock is required by
// the protocol itself; the mutex here only protects against a concurrent
// Close racing a write.
func (c *tcpConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	return framing.WriteTCPMessage(c.conn, payload)
}

// SendV frames and writes each buffer as its own message.
func (c *tcpConn) SendV(buffers [][]byte) error {
	for _, b := range buffers {
		if err := c.Send(b); err != nil {
			return err
		}
	}
	return nil
}

// Receive performs a single blocking framed read with the given timeout,
// for synchronous client use outside the read-loop goroutine.
func (c *tcpConn) Receive(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	}
	payload, err := framing.ReadTCPMessage(c.conn, c.limits.maxMessageSize())
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	return payload, nil
}

func (c *tcpConn) ClientIP() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}

func (c *tcpConn) Kind() Kind { return KindTCP }

func (c *tcpConn) Close() error {
	return c.conn.Close()
}
