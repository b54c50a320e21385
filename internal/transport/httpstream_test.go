package transport

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestHTTPStreamablePostRoundTrip(t *testing.T) {
	t.Parallel()
	srv := NewHTTPStreamableServer("127.0.0.1:0", HTTPStreamableConfig{})
	if err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		return append([]byte(nil), payload...), true
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Destroy()
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Post("http://"+srv.Addr()+"/mcp", "application/json", strings.NewReader(`{"x":1}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"x":1}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestHTTPStreamableInitializeAssignsSession(t *testing.T) {
	t.Parallel()
	srv := NewHTTPStreamableServer("127.0.0.1:0", HTTPStreamableConfig{
		EnableSessions:   true,
		SessionTimeout:   time.Minute,
		MaxEventsPerSess: 16,
	})
	if err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		return []byte(`{"result":{}}`), true
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Destroy()
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Post("http://"+srv.Addr()+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Mcp-Session-Id") == "" {
		t.Fatalf("expected Mcp-Session-Id header to be set on initialize")
	}
}

func TestHTTPStreamableOriginDenied(t *testing.T) {
	t.Parallel()
	srv := NewHTTPStreamableServer("127.0.0.1:0", HTTPStreamableConfig{
		AllowedOrigins: []string{"https://allowed.example"},
	})
	if err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		return []byte(`{}`), true
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Destroy()
	time.Sleep(20 * time.Millisecond)

	req, _ := http.NewRequest("POST", "http://"+srv.Addr()+"/mcp", strings.NewReader(`{}`))
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestHTTPStreamableDeleteDestroysSession(t *testing.T) {
	t.Parallel()
	srv := NewHTTPStreamableServer("127.0.0.1:0", HTTPStreamableConfig{
		EnableSessions:   true,
		SessionTimeout:   time.Minute,
		MaxEventsPerSess: 16,
	})
	if err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		return []byte(`{}`), true
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Destroy()
	time.Sleep(20 * time.Millisecond)

	id := srv.sessions.Create()
	req, _ := http.NewRequest("DELETE", "http://"+srv.Addr()+"/mcp", nil)
	req.Header.Set("Mcp-Session-Id", id)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if _, ok := srv.sessions.Get(id); ok {
		t.Fatalf("expected session to be destroyed")
	}
}

func TestHTTPStreamableGetReplaysFromLastEventID(t *testing.T) {
	t.Parallel()
	srv := NewHTTPStreamableServer("127.0.0.1:0", HTTPStreamableConfig{
		EnableSessions:    true,
		SessionTimeout:    time.Minute,
		MaxEventsPerSess:  16,
		HeartbeatInterval: time.Hour,
	})
	if err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		return nil, false
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Destroy()
	time.Sleep(20 * time.Millisecond)

	id := srv.sessions.Create()
	sess, _ := srv.sessions.Get(id)
	sess.AppendEvent("one")
	sess.AppendEvent("two")
	sess.AppendEvent("three")

	req, _ := http.NewRequest("GET", "http://"+srv.Addr()+"/mcp", nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", id)
	req.Header.Set("Last-Event-Id", "1")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	var lines []string
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(lines) < 6 {
		line, err := reader.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if err != nil {
			break
		}
	}
	joined := strings.Join(lines, "")
	if !strings.Contains(joined, "data: two") || !strings.Contains(joined, "data: three") {
		t.Fatalf("expected replay of events two and three, got %q", joined)
	}
	if strings.Contains(joined, "data: one") {
		t.Fatalf("did not expect event one to be replayed, got %q", joined)
	}
}

func TestHTTPStreamableLegacyToolsEndpoint(t *testing.T) {
	t.Parallel()
	srv := NewHTTPStreamableServer("127.0.0.1:0", HTTPStreamableConfig{EnableLegacy: true})
	if err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		return []byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"ping"}]}}`), true
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Destroy()
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/tools")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"ping"`) {
		t.Fatalf("expected unwrapped tools result, got %s", body)
	}
}

func TestHTTPStreamableLegacyRoutesAbsentByDefault(t *testing.T) {
	t.Parallel()
	srv := NewHTTPStreamableServer("127.0.0.1:0", HTTPStreamableConfig{})
	if err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		return []byte(`{}`), true
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Destroy()
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/tools")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 when legacy routes are disabled, got %d", resp.StatusCode)
	}
}

func TestHTTPStreamableLegacyCallToolEndpoint(t *testing.T) {
	t.Parallel()
	srv := NewHTTPStreamableServer("127.0.0.1:0", HTTPStreamableConfig{EnableLegacy: true})
	if err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		return []byte(`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"pong"}],"isError":false}}`), true
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Destroy()
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Post("http://"+srv.Addr()+"/call_tool", "application/json",
		strings.NewReader(`{"name":"ping","arguments":{}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "pong") {
		t.Fatalf("expected unwrapped call_tool result, got %s", body)
	}
}
