package transport

import (
	"testing"
	"time"
)

func TestTCPServerEchoesMessage(t *testing.T) {
	t.Parallel()
	srv := NewTCPServer("127.0.0.1:0", Limits{})
	err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		echoed := append([]byte(nil), payload...)
		return echoed, true
	}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Destroy()

	client := NewTCPClientTransport(srv.Addr(), Limits{})
	conn, err := client.Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	if err := conn.Send([]byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	resp, err := conn.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(resp) != `{"hello":"world"}` {
		t.Fatalf("unexpected echo: %s", resp)
	}
}

func TestTCPServerRejectsConnectionsOverMaxClients(t *testing.T) {
	t.Parallel()
	srv := NewTCPServer("127.0.0.1:0", Limits{MaxClients: 1})
	if err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		return nil, false
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Destroy()

	client := NewTCPClientTransport(srv.Addr(), Limits{})
	first, err := client.Connect()
	if err != nil {
		t.Fatalf("connect 1: %v", err)
	}
	defer first.Close()

	second, err := client.Connect()
	if err != nil {
		t.Fatalf("connect 2: %v", err)
	}
	defer second.Close()

	// The second connection is admitted at the TCP layer then immediately
	// closed by the server because the table is full; writing to it
	// should eventually fail.
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		if lastErr = second.Send([]byte(`{"a":1}`)); lastErr != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if lastErr == nil {
		t.Fatalf("expected the rejected connection to eventually fail writes")
	}
}

func TestTCPClientReceiveTimesOutWithoutData(t *testing.T) {
	t.Parallel()
	srv := NewTCPServer("127.0.0.1:0", Limits{})
	if err := srv.Start(func(conn Conn, payload []byte) ([]byte, bool) {
		return nil, false
	}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Destroy()

	client := NewTCPClientTransport(srv.Addr(), Limits{})
	conn, err := client.Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	_, err = conn.Receive(100 * time.Millisecond)
	if err != ErrWouldBlock {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}
