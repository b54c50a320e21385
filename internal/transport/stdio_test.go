package transport

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestStdioServerInvokesCallbackAndWritesResponse(t *testing.T) {
	t.Parallel()
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	var out bytes.Buffer

	received := make(chan []byte, 1)
	srv := NewStdioServer(in, &out, Limits{})
	if err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		received <- payload
		return []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`), true
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != `{"jsonrpc":"2.0","id":1,"method":"ping"}` {
			t.Fatalf("unexpected payload: %s", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
	}

	srv.Stop()
	if !bytes.Contains(out.Bytes(), []byte(`"result":{}`)) {
		t.Fatalf("expected response written to stdout, got %q", out.String())
	}
}

func TestStdioServerStopsCleanlyOnEOF(t *testing.T) {
	t.Parallel()
	in := io.NopCloser(bytes.NewReader(nil))
	var out bytes.Buffer
	srv := NewStdioServer(in, &out, Limits{})
	errCh := make(chan error, 1)
	if err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		return nil, false
	}, func(conn Conn, err error) { errCh <- err }); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv.Stop()
	select {
	case <-errCh:
		t.Fatalf("EOF should not be reported through the error callback")
	default:
	}
}
