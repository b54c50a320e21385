// client.go — the client-side request demultiplexer: a single receive
// thread that fans responses back out to whichever goroutine is blocked
// waiting on that request's id.
package client

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brennhill/mcp-runtime/internal/mcp"
	"github.com/brennhill/mcp-runtime/internal/transport"
)

// ErrTimeout is returned by Call when the per-request timeout elapses
// before a response arrives. The request is not canceled server-side; a
// late response is silently discarded by the pending table.
var ErrTimeout = errors.New("client: request timed out")

// ErrDisconnected is returned by Call and Notify once the connection has
// failed and every pending request has been transitioned to error.
var ErrDisconnected = errors.New("client: not connected")

// receivePollInterval bounds how long the receive loop's Receive call can
// block, so Close takes effect within roughly that bound.
const receivePollInterval = 500 * time.Millisecond

// Client dials one outbound connection and demultiplexes responses to
// concurrent callers by request id.
type Client struct {
	conn    transport.Conn
	pending *pendingTable
	nextID  atomic.Uint64

	timeouts TimeoutPolicy

	onNotification func(method string, params json.RawMessage)
	onError        func(error)

	connected atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithNotificationHandler installs a callback for inbound notifications
// (messages with a method but no id).
func WithNotificationHandler(h func(method string, params json.RawMessage)) Option {
	return func(c *Client) { c.onNotification = h }
}

// WithErrorHandler installs a callback invoked once when the connection
// drops (read error or framing failure).
func WithErrorHandler(h func(error)) Option {
	return func(c *Client) { c.onError = h }
}

// WithTimeoutPolicy overrides the default per-method/per-tool timeout
// policy used when a caller does not pass an explicit timeout to Call.
func WithTimeoutPolicy(p TimeoutPolicy) Option {
	return func(c *Client) { c.timeouts = p }
}

// Dial connects through t and starts the receive loop.
func Dial(t transport.ClientTransport, opts ...Option) (*Client, error) {
	conn, err := t.Connect()
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:     conn,
		pending:  newPendingTable(),
		timeouts: DefaultTimeoutPolicy(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.connected.Store(true)
	c.wg.Add(1)
	go c.receiveLoop()
	return c, nil
}

type wireEnvelope struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id,omitempty"`
	Method  string            `json:"method,omitempty"`
	Params  json.RawMessage   `json:"params,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Error   *mcp.JSONRPCError `json:"error,omitempty"`
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		payload, err := c.conn.Receive(receivePollInterval)
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				continue
			}
			c.disconnect(err)
			return
		}
		c.route(payload)
	}
}

func (c *Client) route(payload []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return // malformed frame from the peer; nothing to route it to
	}

	if len(env.ID) == 0 {
		if env.Method != "" && c.onNotification != nil {
			c.onNotification(env.Method, env.Params)
		}
		return
	}

	id, ok := parseID(env.ID)
	if !ok {
		return
	}
	outcome := Outcome{Result: env.Result}
	if env.Error != nil {
		outcome.IsError = true
		outcome.ErrorCode = env.Error.Code
		outcome.ErrorMessage = env.Error.Message
	}
	c.pending.deliver(id, outcome)
}

func parseID(raw json.RawMessage) (uint64, bool) {
	var id uint64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return id, true
}

func (c *Client) disconnect(err error) {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}
	c.pending.failAll(mcp.RPCInternalError, "client: connection lost: "+err.Error())
	if c.onError != nil {
		c.onError(err)
	}
}

type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type wireNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Call sends a request and blocks until its response arrives, the
// connection drops, or timeout elapses. timeout <= 0 selects the
// client's configured TimeoutPolicy for this method/tool.
func (c *Client) Call(method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if !c.connected.Load() {
		return nil, ErrDisconnected
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = c.timeouts.Resolve(method, paramsJSON)
	}

	id := c.nextID.Add(1)
	if err := c.pending.register(id); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(wireRequest{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON})
	if err != nil {
		c.pending.remove(id) // drop the registered-but-never-sent entry
		return nil, err
	}
	if err := c.conn.Send(payload); err != nil {
		c.pending.remove(id)
		return nil, err
	}

	status, outcome := c.pending.wait(id, timeout)
	switch status {
	case StatusCompleted:
		return outcome.Result, nil
	case StatusError:
		return nil, &mcp.RPCError{Kind: mcp.KindInternal, Message: outcome.ErrorMessage}
	case StatusTimeout:
		return nil, ErrTimeout
	default:
		return nil, ErrDisconnected
	}
}

// Notify sends a one-way notification; no response is expected and Notify
// does not block on one.
func (c *Client) Notify(method string, params any) error {
	if !c.connected.Load() {
		return ErrDisconnected
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(wireNotification{JSONRPC: "2.0", Method: method, Params: paramsJSON})
	if err != nil {
		return err
	}
	return c.conn.Send(payload)
}

// Pending reports how many requests are currently awaiting a response.
func (c *Client) Pending() int { return c.pending.len() }

// Connected reports whether the connection is still believed healthy.
func (c *Client) Connected() bool { return c.connected.Load() }

// Close stops the receive loop and closes the underlying connection.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	err := c.conn.Close()
	c.wg.Wait()
	if c.connected.CompareAndSwap(true, false) {
		c.pending.failAll(mcp.RPCInternalError, "client: closed")
	}
	return err
}
