// sse.go — Server-Sent Events line framing for the Streamable HTTP transport.
package framing

import (
	"bufio"
	"fmt"
	"strings"
)

// SSEEvent is one Server-Sent Events message.
type SSEEvent struct {
	ID    string // becomes the `id:` line; empty omits it
	Event string // becomes the `event:` line; empty omits it
	Data  string // may itself contain newlines, split into multiple `data:` lines
}

// WriteSSEEvent renders ev per the SSE wire format, terminated by a blank
// line, and writes it to w in one call so a partial event can never be
// observed by a concurrent reader.
func WriteSSEEvent(w *bufio.Writer, ev SSEEvent) error {
	var b strings.Builder
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Event)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	if _, err := w.WriteString(b.String()); err != nil {
		return err
	}
	return w.Flush()
}

// WriteSSEHeartbeat emits a comment line used to keep an idle SSE stream
// alive through intermediaries that time out quiet connections.
func WriteSSEHeartbeat(w *bufio.Writer) error {
	if _, err := w.WriteString(":heartbeat\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
