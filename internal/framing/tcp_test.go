package framing

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	framed := EncodeTCPMessage(payload)
	got, err := ReadTCPMessage(bytes.NewReader(framed), DefaultMaxMessageSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestReadRejectsZeroLength(t *testing.T) {
	t.Parallel()
	_, err := ReadTCPMessage(bytes.NewReader([]byte{0, 0, 0, 0}), DefaultMaxMessageSize)
	if err != ErrZeroLength {
		t.Fatalf("expected ErrZeroLength, got %v", err)
	}
}

func TestReadRejectsOversizeLength(t *testing.T) {
	t.Parallel()
	framed := EncodeTCPMessage(make([]byte, 10))
	_, err := ReadTCPMessage(bytes.NewReader(framed), 5)
	if err == nil {
		t.Fatalf("expected oversize error")
	}
}

func TestReadBoundaryMinimumLength(t *testing.T) {
	t.Parallel()
	framed := EncodeTCPMessage([]byte{'x'})
	got, err := ReadTCPMessage(bytes.NewReader(framed), DefaultMaxMessageSize)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected single-byte payload, err=%v got=%v", err, got)
	}
}

func TestReadBoundaryAtExactMax(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 16)
	framed := EncodeTCPMessage(payload)
	if _, err := ReadTCPMessage(bytes.NewReader(framed), 16); err != nil {
		t.Fatalf("expected exact-max payload to be accepted: %v", err)
	}
}

func TestReadBoundaryOneOverMax(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 17)
	framed := EncodeTCPMessage(payload)
	if _, err := ReadTCPMessage(bytes.NewReader(framed), 16); err == nil {
		t.Fatalf("expected one-over-max payload to be rejected")
	}
}

func TestReadPropagatesShortReadAsError(t *testing.T) {
	t.Parallel()
	framed := EncodeTCPMessage([]byte("hello"))
	truncated := framed[:len(framed)-2]
	_, err := ReadTCPMessage(bytes.NewReader(truncated), DefaultMaxMessageSize)
	if err == nil {
		t.Fatalf("expected an error for a truncated frame")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		t.Fatalf("expected an EOF-family error, got %v", err)
	}
}
