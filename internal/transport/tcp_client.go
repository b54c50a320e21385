package transport

import (
	"fmt"
	"net"
	"time"
)

// TCPClientTransport dials a single outbound length-prefixed connection.
type TCPClientTransport struct {
	addr   string
	limits Limits
	dialer net.Dialer
}

// NewTCPClientTransport constructs a client transport targeting addr
// (host:port).
func NewTCPClientTransport(addr string, limits Limits) *TCPClientTransport {
	return &TCPClientTransport{addr: addr, limits: limits, dialer: net.Dialer{Timeout: 10 * time.Second}}
}

func (t *TCPClientTransport) Connect() (Conn, error) {
	conn, err := t.dialer.Dial("tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", t.addr, err)
	}
	return newTCPConn(conn, t.limits), nil
}

func (t *TCPClientTransport) Destroy() {}
