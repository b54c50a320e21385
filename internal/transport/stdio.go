package transport

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brennhill/mcp-runtime/internal/bridge"
)

// StdioServer is the single-connection transport used when the process
// itself is the MCP endpoint (messages on stdin, responses on stdout).
// Framing accepts either a raw JSON line or Content-Length-framed bodies,
// matching whichever convention the peer uses per message.
type StdioServer struct {
	limits   Limits
	reader   *bufio.Reader
	writer   io.Writer
	shutdown atomic.Bool
	done     chan struct{}
	conn     *stdioConn
}

// NewStdioServer constructs a server reading from in and writing to out
// (typically os.Stdin / os.Stdout).
func NewStdioServer(in io.Reader, out io.Writer, limits Limits) *StdioServer {
	return &StdioServer{
		limits: limits,
		reader: bufio.NewReader(in),
		writer: out,
		done:   make(chan struct{}),
	}
}

func (s *StdioServer) Start(onMessage MessageCallback, onError ErrorCallback) error {
	s.conn = &stdioConn{w: s.writer}
	go s.readLoop(onMessage, onError)
	return nil
}

func (s *StdioServer) readLoop(onMessage MessageCallback, onError ErrorCallback) {
	defer close(s.done)
	for {
		if s.shutdown.Load() {
			return
		}
		payload, err := bridge.ReadStdioMessage(s.reader, s.limits.maxMessageSize())
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if onError != nil {
				onError(s.conn, err)
			}
			return
		}
		resp, ok := onMessage(s.conn, payload)
		if ok && resp != nil {
			if err := s.conn.Send(resp); err != nil {
				if onError != nil {
					onError(s.conn, err)
				}
				return
			}
		}
	}
}

func (s *StdioServer) Stop() {
	s.shutdown.Store(true)
	select {
	case <-s.done:
	case <-time.After(500 * time.Millisecond):
	}
}

func (s *StdioServer) Destroy() { s.Stop() }

type stdioConn struct {
	w  io.Writer
	mu sync.Mutex
}

func (c *stdioConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	_, err := c.w.Write([]byte("\n"))
	return err
}

func (c *stdioConn) SendV(buffers [][]byte) error {
	for _, b := range buffers {
		if err := c.Send(b); err != nil {
			return err
		}
	}
	return nil
}

func (c *stdioConn) Receive(time.Duration) ([]byte, error) {
	return nil, errors.New("transport: synchronous receive unsupported on stdio")
}

func (c *stdioConn) ClientIP() string { return "127.0.0.1" }

func (c *stdioConn) Kind() Kind { return KindStdio }

func (c *stdioConn) Close() error { return nil }

// StdioClientTransport adapts the current process's stdin/stdout into a
// ClientTransport, for clients launched as a subprocess by an MCP host.
type StdioClientTransport struct {
	limits Limits
}

// NewStdioClientTransport constructs a stdio client transport over the
// process's own stdin/stdout.
func NewStdioClientTransport(limits Limits) *StdioClientTransport {
	return &StdioClientTransport{limits: limits}
}

func (t *StdioClientTransport) Connect() (Conn, error) {
	return &stdioClientConn{reader: bufio.NewReader(os.Stdin), writer: os.Stdout, limits: t.limits}, nil
}

func (t *StdioClientTransport) Destroy() {}

type stdioClientConn struct {
	reader *bufio.Reader
	writer io.Writer
	limits Limits
	mu     sync.Mutex
}

func (c *stdioClientConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.writer.Write(payload); err != nil {
		return err
	}
	_, err := c.writer.Write([]byte("\n"))
	return err
}

func (c *stdioClientConn) SendV(buffers [][]byte) error {
	for _, b := range buffers {
		if err := c.Send(b); err != nil {
			return err
		}
	}
	return nil
}

func (c *stdioClientConn) Receive(time.Duration) ([]byte, error) {
	return bridge.ReadStdioMessage(c.reader, c.limits.maxMessageSize())
}

func (c *stdioClientConn) ClientIP() string { return "127.0.0.1" }

func (c *stdioClientConn) Kind() Kind { return KindStdio }

func (c *stdioClientConn) Close() error { return nil }
