package framing

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestWriteSSEEventFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := WriteSSEEvent(w, SSEEvent{ID: "5", Data: `{"a":1}`}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "id: 5\n") {
		t.Fatalf("expected id line first, got %q", out)
	}
	if !strings.Contains(out, `data: {"a":1}`) {
		t.Fatalf("expected data line, got %q", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Fatalf("expected terminating blank line, got %q", out)
	}
}

func TestWriteSSEEventMultilineData(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	_ = WriteSSEEvent(w, SSEEvent{Data: "line1\nline2"})
	out := buf.String()
	if strings.Count(out, "data: ") != 2 {
		t.Fatalf("expected one data: line per input line, got %q", out)
	}
}

func TestWriteSSEHeartbeat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	_ = WriteSSEHeartbeat(w)
	if buf.String() != ":heartbeat\n\n" {
		t.Fatalf("unexpected heartbeat format: %q", buf.String())
	}
}
