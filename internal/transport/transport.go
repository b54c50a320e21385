// Package transport implements the wire-level transports a server can
// accept connections on, and the matching client-side dial helpers: a
// length-prefixed TCP socket, Streamable HTTP with Server-Sent Events,
// WebSocket, and stdio. Each transport frames/deframes one message at a
// time and hands it to the dispatch core through a uniform callback; the
// core never sees transport-specific bytes.
package transport

import (
	"errors"
	"time"
)

// Kind discriminates the transport protocol a connection was accepted on.
type Kind int

const (
	KindStdio Kind = iota
	KindTCP
	KindHTTP
	KindHTTPStreamable
	KindWebSocket
)

func (k Kind) String() string {
	switch k {
	case KindStdio:
		return "stdio"
	case KindTCP:
		return "tcp"
	case KindHTTP:
		return "http"
	case KindHTTPStreamable:
		return "http-streamable"
	case KindWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by Conn operations performed after Close.
var ErrClosed = errors.New("transport: connection closed")

// ErrWouldBlock is returned by Receive when no message arrives before the
// requested timeout.
var ErrWouldBlock = errors.New("transport: receive timed out")

// ErrTooManyClients is returned when an accepted connection cannot be
// admitted because the connection table is full.
var ErrTooManyClients = errors.New("transport: connection table full")

// Conn is the capability set every transport connection exposes,
// regardless of which wire protocol backs it: framed send, scatter-gather
// send, a blocking receive for synchronous callers, the peer's address,
// and teardown.
type Conn interface {
	Send(payload []byte) error
	SendV(buffers [][]byte) error
	Receive(timeout time.Duration) ([]byte, error)
	ClientIP() string
	Kind() Kind
	Close() error
}

// MessageCallback is invoked once per framed message a connection
// receives. Returning a non-nil response with ok=true causes the
// transport to frame and send it back on the same connection; ok=false
// means the worker owns the reply (or there is none, e.g. a notification).
type MessageCallback func(conn Conn, payload []byte) (response []byte, ok bool)

// ErrorCallback is invoked when a connection's read loop ends abnormally
// (framing violation, I/O error, peer reset). It is never called for a
// clean, caller-initiated Close.
type ErrorCallback func(conn Conn, err error)

// ServerTransport is a listening transport: it accepts connections,
// invoking onMessage for every frame and onError when a connection dies.
type ServerTransport interface {
	Start(onMessage MessageCallback, onError ErrorCallback) error
	Stop()
	Destroy()
}

// ClientTransport dials a single outbound connection.
type ClientTransport interface {
	Connect() (Conn, error)
	Destroy()
}

// Limits bounds a transport's resource usage. A zero MaxClients or
// IdleTimeout disables that bound; a zero MaxMessageSize uses
// DefaultMaxMessageSize.
type Limits struct {
	MaxMessageSize int
	MaxClients     int
	IdleTimeout    time.Duration
}

// DefaultMaxMessageSize is applied when Limits.MaxMessageSize is zero.
const DefaultMaxMessageSize = 1 << 20

func (l Limits) maxMessageSize() int {
	if l.MaxMessageSize <= 0 {
		return DefaultMaxMessageSize
	}
	return l.MaxMessageSize
}
