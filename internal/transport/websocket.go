package transport

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// WSServer serves the WebSocket transport: a standard HTTP upgrade at a
// configurable path, one JSON-RPC message per text frame. Binary frames
// are rejected and close the connection, per the wire contract.
type WSServer struct {
	addr   string
	path   string
	limits Limits

	upgrader  websocket.Upgrader
	httpSrv   *http.Server
	listener  net.Listener
	table     *connTable
	onMessage MessageCallback
	onError   ErrorCallback
}

// NewWSServer constructs a WebSocket server. path defaults to "/ws".
func NewWSServer(addr, path string, limits Limits, checkOrigin func(r *http.Request) bool) *WSServer {
	if path == "" {
		path = "/ws"
	}
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WSServer{
		addr:   addr,
		path:   path,
		limits: limits,
		table:  newConnTable(limits.MaxClients),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
	}
}

func (s *WSServer) Start(onMessage MessageCallback, onError ErrorCallback) error {
	s.onMessage = onMessage
	s.onError = onError

	router := mux.NewRouter()
	router.HandleFunc(s.path, s.handleUpgrade)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: ws listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{Handler: router}
	go func() { _ = s.httpSrv.Serve(ln) }()
	return nil
}

// Addr returns the listener's actual bound address.
func (s *WSServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newWSConn(conn, s.limits)
	id, admitted := s.table.admit(c)
	if !admitted {
		_ = c.Close()
		return
	}
	defer s.table.remove(id)
	s.readLoop(c)
}

func (s *WSServer) readLoop(c *wsConn) {
	defer func() { _ = c.Close() }()
	for {
		if s.limits.IdleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(s.limits.IdleTimeout))
		}
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if s.onError != nil {
				s.onError(c, err)
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			if s.onError != nil {
				s.onError(c, fmt.Errorf("transport: binary frame rejected"))
			}
			return
		}
		if msgType == websocket.CloseMessage {
			return
		}
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

func (s *WSServer) Stop() {
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
	for _, c := range s.table.snapshot() {
		_ = c.Close()
	}
}

func (s *WSServer) Destroy() { s.Stop() }

type wsConn struct {
	conn   *websocket.Conn
	limits Limits
	mu     sync.Mutex
}

func newWSConn(conn *websocket.Conn, limits Limits) *wsConn {
	return &wsConn{conn: conn, limits: limits}
}

func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) SendV(buffers [][]byte) error {
	for _, b := range buffers {
		if err := c.Send(b); err != nil {
			return err
		}
	}
	return nil
}

func (c *wsConn) Receive(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	}
	msgType, payload, err := c.conn.ReadMessage()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	if msgType == websocket.BinaryMessage {
		return nil, fmt.Errorf("transport: binary frame rejected")
	}
	return payload, nil
}

func (c *wsConn) ClientIP() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}

func (c *wsConn) Kind() Kind { return KindWebSocket }

func (c *wsConn) Close() error { return c.conn.Close() }

// WSClientTransport dials a single outbound WebSocket connection.
type WSClientTransport struct {
	url    string
	limits Limits
}

// NewWSClientTransport constructs a client transport for url
// (e.g. "ws://host:port/ws").
func NewWSClientTransport(url string, limits Limits) *WSClientTransport {
	return &WSClientTransport{url: url, limits: limits}
}

func (t *WSClientTransport) Connect() (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: ws dial %s: %w", t.url, err)
	}
	return newWSConn(conn, t.limits), nil
}

func (t *WSClientTransport) Destroy() {}
