package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/brennhill/mcp-runtime/internal/framing"
	"github.com/brennhill/mcp-runtime/internal/session"
)

// DefaultHeartbeatInterval is how often an open SSE stream emits a
// ":heartbeat" comment absent other traffic.
const DefaultHeartbeatInterval = 30 * time.Second

// HTTPStreamableConfig configures the Streamable HTTP transport.
type HTTPStreamableConfig struct {
	Path              string // default "/mcp"
	AllowedOrigins    []string
	EnableCORS        bool
	EnableSessions    bool
	SessionTimeout    time.Duration
	MaxEventsPerSess  int
	HeartbeatInterval time.Duration
	Limits            Limits

	// EnableLegacy additionally serves the pre-Streamable-HTTP endpoints
	// (GET /tools, POST /call_tool, GET /events) that older MCP clients
	// speak instead of the unified /mcp endpoint.
	EnableLegacy bool
}

// HTTPStreamableServer implements the Streamable HTTP transport (MCP
// 2025-03-26): a single endpoint serving POST, GET, DELETE and OPTIONS,
// with an optional per-session SSE event log.
type HTTPStreamableServer struct {
	addr string
	cfg  HTTPStreamableConfig

	sessions *session.Store
	httpSrv  *http.Server
	listener net.Listener

	sseMu    sync.Mutex
	sseConns map[string]*httpSSEConn

	onMessage MessageCallback
	onError   ErrorCallback
}

// NewHTTPStreamableServer constructs the server. If cfg.EnableSessions is
// true, a session.Store is created with the configured TTL and ring size.
func NewHTTPStreamableServer(addr string, cfg HTTPStreamableConfig) *HTTPStreamableServer {
	if cfg.Path == "" {
		cfg.Path = "/mcp"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	s := &HTTPStreamableServer{addr: addr, cfg: cfg, sseConns: make(map[string]*httpSSEConn)}
	if cfg.EnableSessions {
		s.sessions = session.NewStore(cfg.MaxEventsPerSess, cfg.SessionTimeout)
	}
	return s
}

func (s *HTTPStreamableServer) Start(onMessage MessageCallback, onError ErrorCallback) error {
	s.onMessage = onMessage
	s.onError = onError

	router := mux.NewRouter()
	router.HandleFunc(s.cfg.Path, s.handle).Methods("POST", "GET", "DELETE", "OPTIONS")
	if s.cfg.EnableLegacy {
		router.HandleFunc("/tools", s.handleLegacyTools).Methods("GET")
		router.HandleFunc("/call_tool", s.handleLegacyCallTool).Methods("POST")
		router.HandleFunc("/events", s.handleLegacyEvents).Methods("GET")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: http listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{Handler: router}
	go func() { _ = s.httpSrv.Serve(ln) }()
	return nil
}

// Addr returns the listener's actual bound address.
func (s *HTTPStreamableServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *HTTPStreamableServer) Stop() {
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
}

func (s *HTTPStreamableServer) Destroy() { s.Stop() }

func (s *HTTPStreamableServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.cfg.EnableCORS {
		s.writeCORSHeaders(w, r)
	}
	if !s.originAllowed(r) {
		http.Error(w, "origin denied", http.StatusForbidden)
		return
	}

	switch r.Method {
	case "OPTIONS":
		w.WriteHeader(http.StatusNoContent)
	case "POST":
		s.handlePost(w, r)
	case "GET":
		s.handleGet(w, r)
	case "DELETE":
		s.handleDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *HTTPStreamableServer) originAllowed(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, pattern := range s.cfg.AllowedOrigins {
		if ok, _ := path.Match(pattern, origin); ok {
			return true
		}
	}
	return false
}

func (s *HTTPStreamableServer) writeCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Mcp-Session-Id, Last-Event-Id, Authorization")
}

const maxPeekSize = 4096

func (s *HTTPStreamableServer) handlePost(w http.ResponseWriter, r *http.Request) {
	maxSize := int64(s.cfg.Limits.maxMessageSize())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSize+1))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > maxSize {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if s.sessions != nil {
		if sessionID == "" && looksLikeInitialize(body) {
			sessionID = s.sessions.Create()
		} else if sessionID != "" {
			if err := s.sessions.Touch(sessionID); err != nil {
				http.Error(w, "session gone", http.StatusNotFound)
				return
			}
		}
	}

	conn := newHTTPUnaryConn(r, sessionID)
	resp, ok := s.onMessage(conn, body)
	if !ok {
		select {
		case resp = <-conn.ch:
		case <-r.Context().Done():
			return
		}
	}

	if sessionID != "" {
		w.Header().Set("Mcp-Session-Id", sessionID)
	}
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

// looksLikeInitialize does a best-effort peek at the method field without
// committing to a full parse.
func looksLikeInitialize(body []byte) bool {
	n := len(body)
	if n > maxPeekSize {
		n = maxPeekSize
	}
	var peek struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(body[:n], &peek); err != nil {
		return false
	}
	return peek.Method == "initialize"
}

func (s *HTTPStreamableServer) handleGet(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	if !strings.Contains(accept, "text/event-stream") {
		http.Error(w, "GET requires Accept: text/event-stream", http.StatusNotAcceptable)
		return
	}
	if s.sessions == nil {
		http.Error(w, "sessions disabled", http.StatusNotFound)
		return
	}
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		sessionID = s.sessions.Create()
	}
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		http.Error(w, "session gone", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Mcp-Session-Id", sessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	bw := bufio.NewWriter(&flushWriter{w: w, f: flusher})

	if lastStr := r.Header.Get("Last-Event-Id"); lastStr != "" {
		lastID := parseEventID(lastStr)
		events, err := sess.Replay(lastID)
		if err != nil {
			_ = framing.WriteSSEEvent(bw, framing.SSEEvent{Event: "error", Data: `{"gap":true}`})
			return
		}
		for _, ev := range events {
			_ = framing.WriteSSEEvent(bw, framing.SSEEvent{
				ID:    fmt.Sprintf("%d", ev.ID),
				Event: "message",
				Data:  ev.Payload,
			})
		}
	}

	conn := newHTTPSSEConn(sess, bw)
	s.registerSSE(sessionID, conn)
	defer s.unregisterSSE(sessionID)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := framing.WriteSSEHeartbeat(bw); err != nil {
				return
			}
		}
	}
}

func (s *HTTPStreamableServer) registerSSE(sessionID string, c *httpSSEConn) {
	s.sseMu.Lock()
	s.sseConns[sessionID] = c
	s.sseMu.Unlock()
}

func (s *HTTPStreamableServer) unregisterSSE(sessionID string) {
	s.sseMu.Lock()
	delete(s.sseConns, sessionID)
	s.sseMu.Unlock()
}

// Broadcast pushes payload as a server-initiated SSE event to every
// currently open GET stream. Used for notifications that have no
// originating request (e.g. resource-updated pushes).
func (s *HTTPStreamableServer) Broadcast(payload []byte) {
	s.sseMu.Lock()
	conns := make([]*httpSSEConn, 0, len(s.sseConns))
	for _, c := range s.sseConns {
		conns = append(conns, c)
	}
	s.sseMu.Unlock()
	for _, c := range conns {
		_ = c.Send(payload)
	}
}

func parseEventID(s string) int64 {
	var id int64
	_, _ = fmt.Sscanf(s, "%d", &id)
	return id
}

// legacyRPC builds a synthetic JSON-RPC 2.0 request for method/params,
// drives it through onMessage exactly like the unary /mcp POST path, and
// returns the decoded response envelope.
func (s *HTTPStreamableServer) legacyRPC(r *http.Request, method string, params json.RawMessage) (*legacyEnvelope, error) {
	req := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      int             `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	conn := newHTTPUnaryConn(r, "")
	resp, ok := s.onMessage(conn, body)
	if !ok {
		select {
		case resp = <-conn.ch:
		case <-r.Context().Done():
			return nil, r.Context().Err()
		}
	}
	var env legacyEnvelope
	if err := json.Unmarshal(resp, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

type legacyEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// handleLegacyTools serves GET /tools: the pre-Streamable-HTTP equivalent
// of an MCP list_tools call, unwrapped from the JSON-RPC envelope.
func (s *HTTPStreamableServer) handleLegacyTools(w http.ResponseWriter, r *http.Request) {
	env, err := s.legacyRPC(r, "list_tools", nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if env.Error != nil {
		http.Error(w, env.Error.Message, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(env.Result)
}

// handleLegacyCallTool serves POST /call_tool: body is {"name", "arguments"}
// directly, rather than a JSON-RPC envelope wrapping a call_tool request.
func (s *HTTPStreamableServer) handleLegacyCallTool(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.cfg.Limits.maxMessageSize())+1))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	env, err := s.legacyRPC(r, "call_tool", body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if env.Error != nil {
		http.Error(w, env.Error.Message, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(env.Result)
}

var legacyConnSeq atomic.Int64

// handleLegacyEvents serves GET /events: a session-less SSE stream that
// receives the same server-initiated broadcasts as the Streamable-HTTP
// GET endpoint, without resumption (no Last-Event-Id support).
func (s *HTTPStreamableServer) handleLegacyEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	bw := bufio.NewWriter(&flushWriter{w: w, f: flusher})
	key := fmt.Sprintf("legacy-%d", legacyConnSeq.Add(1))
	s.registerSSE(key, newHTTPSSEConn(nil, bw))
	defer s.unregisterSSE(key)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := framing.WriteSSEHeartbeat(bw); err != nil {
				return
			}
		}
	}
}

func (s *HTTPStreamableServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "sessions disabled", http.StatusNotFound)
		return
	}
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	s.sessions.Destroy(sessionID)
	w.WriteHeader(http.StatusOK)
}

// flushWriter adapts an http.ResponseWriter+Flusher pair into an io.Writer
// that flushes after every write, so bufio.Writer's writes become
// immediately visible SSE bytes on the wire.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}

// httpUnaryConn represents one POST request/response exchange. Send
// delivers the worker's response to the blocked handler goroutine.
type httpUnaryConn struct {
	r         *http.Request
	sessionID string
	ch        chan []byte
	sent      atomic.Bool
}

func newHTTPUnaryConn(r *http.Request, sessionID string) *httpUnaryConn {
	return &httpUnaryConn{r: r, sessionID: sessionID, ch: make(chan []byte, 1)}
}

func (c *httpUnaryConn) Send(payload []byte) error {
	if !c.sent.CompareAndSwap(false, true) {
		return errors.New("transport: response already sent")
	}
	c.ch <- payload
	return nil
}

func (c *httpUnaryConn) SendV(buffers [][]byte) error {
	var total []byte
	for _, b := range buffers {
		total = append(total, b...)
	}
	return c.Send(total)
}

func (c *httpUnaryConn) Receive(time.Duration) ([]byte, error) {
	return nil, errors.New("transport: synchronous receive unsupported on streamable HTTP")
}

func (c *httpUnaryConn) ClientIP() string {
	host, _, err := net.SplitHostPort(c.r.RemoteAddr)
	if err != nil {
		return c.r.RemoteAddr
	}
	return host
}

func (c *httpUnaryConn) Kind() Kind { return KindHTTPStreamable }

func (c *httpUnaryConn) Close() error { return nil }

// SessionID returns the session bound to this request, or "" if none.
func (c *httpUnaryConn) SessionID() string { return c.sessionID }

// httpSSEConn represents one open GET SSE stream bound to a session. sess
// is nil for a legacy /events connection, which has no event log to append
// to or resume from.
type httpSSEConn struct {
	sess *session.Session
	bw   *bufio.Writer
}

func newHTTPSSEConn(sess *session.Session, bw *bufio.Writer) *httpSSEConn {
	return &httpSSEConn{sess: sess, bw: bw}
}

func (c *httpSSEConn) Send(payload []byte) error {
	if c.sess == nil {
		return framing.WriteSSEEvent(c.bw, framing.SSEEvent{Event: "message", Data: string(payload)})
	}
	id := c.sess.AppendEvent(string(payload))
	return framing.WriteSSEEvent(c.bw, framing.SSEEvent{
		ID:    fmt.Sprintf("%d", id),
		Event: "message",
		Data:  string(payload),
	})
}

func (c *httpSSEConn) SendV(buffers [][]byte) error {
	for _, b := range buffers {
		if err := c.Send(b); err != nil {
			return err
		}
	}
	return nil
}

func (c *httpSSEConn) Receive(time.Duration) ([]byte, error) {
	return nil, errors.New("transport: synchronous receive unsupported on an SSE stream")
}

func (c *httpSSEConn) ClientIP() string { return "" }

func (c *httpSSEConn) Kind() Kind { return KindHTTPStreamable }

func (c *httpSSEConn) Close() error { return nil }
