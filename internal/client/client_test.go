package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/brennhill/mcp-runtime/internal/transport"
)

type wireReq struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func startEchoServer(t *testing.T) *transport.TCPServer {
	t.Helper()
	srv := transport.NewTCPServer("127.0.0.1:0", transport.Limits{})
	err := srv.Start(func(conn transport.Conn, payload []byte) ([]byte, bool) {
		var req wireReq
		if err := json.Unmarshal(payload, &req); err != nil || len(req.ID) == 0 {
			return nil, true // notification or garbage: no response
		}
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      json.RawMessage(req.ID),
			"result":  json.RawMessage(req.Params),
		}
		out, _ := json.Marshal(resp)
		return out, true
	}, nil)
	if err != nil {
		t.Fatalf("start echo server: %v", err)
	}
	t.Cleanup(srv.Destroy)
	return srv
}

func dial(t *testing.T, addr string, opts ...Option) *Client {
	t.Helper()
	ct := transport.NewTCPClientTransport(addr, transport.Limits{})
	c, err := Dial(ct, opts...)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCallRoundTrip(t *testing.T) {
	t.Parallel()
	srv := startEchoServer(t)
	time.Sleep(20 * time.Millisecond)
	c := dial(t, srv.Addr())

	result, err := c.Call("ping", map[string]any{"x": 1}, time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got["x"] != float64(1) {
		t.Fatalf("unexpected echoed result: %+v", got)
	}
}

func TestCallTimeoutWhenServerDropsMessage(t *testing.T) {
	t.Parallel()
	srv := transport.NewTCPServer("127.0.0.1:0", transport.Limits{})
	if err := srv.Start(func(conn transport.Conn, payload []byte) ([]byte, bool) {
		return nil, true // accept but never respond
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Destroy)
	time.Sleep(20 * time.Millisecond)
	c := dial(t, srv.Addr())

	_, err := c.Call("ping", map[string]any{}, 100*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("expected the timed-out entry to be removed, got %d pending", c.Pending())
	}
}

func TestNotifyDoesNotRegisterAPendingEntry(t *testing.T) {
	t.Parallel()
	srv := startEchoServer(t)
	time.Sleep(20 * time.Millisecond)
	c := dial(t, srv.Addr())

	if err := c.Notify("log", map[string]any{"msg": "hi"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if c.Pending() != 0 {
		t.Fatalf("expected no pending entries after Notify, got %d", c.Pending())
	}
}

func TestDisconnectFailsPendingCalls(t *testing.T) {
	t.Parallel()
	srv := transport.NewTCPServer("127.0.0.1:0", transport.Limits{})
	if err := srv.Start(func(conn transport.Conn, payload []byte) ([]byte, bool) {
		return nil, true // never respond; we will kill the server instead
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	c := dial(t, srv.Addr())

	done := make(chan error, 1)
	go func() {
		_, err := c.Call("ping", map[string]any{}, 5*time.Second)
		done <- err
	}()
	time.Sleep(30 * time.Millisecond)
	srv.Destroy() // closes every live connection, forcing a read error

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected an error once the connection dropped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not unblock after the connection dropped")
	}
	if c.Connected() {
		t.Fatalf("expected client to report disconnected")
	}
}

func TestNotificationHandlerInvoked(t *testing.T) {
	t.Parallel()
	srv := transport.NewTCPServer("127.0.0.1:0", transport.Limits{})
	if err := srv.Start(func(conn transport.Conn, payload []byte) ([]byte, bool) {
		_ = conn.Send([]byte(`{"jsonrpc":"2.0","method":"pushed","params":{"n":7}}`))
		return nil, true
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Destroy)
	time.Sleep(20 * time.Millisecond)

	received := make(chan string, 1)
	c := dial(t, srv.Addr(), WithNotificationHandler(func(method string, params json.RawMessage) {
		received <- method
	}))
	if err := c.Notify("kickoff", map[string]any{}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case m := <-received:
		if m != "pushed" {
			t.Fatalf("unexpected notification method: %s", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pushed notification")
	}
}
