// tcp.go — length-prefixed message framing for the raw TCP transport.
// Wire format: a 4-byte big-endian length L followed by L bytes of JSON,
// L in [1, MaxMessageSize]. A zero or oversize length is a framing
// violation and the caller must close the connection.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxMessageSize is the default cap on a single message's payload.
const DefaultMaxMessageSize = 1 << 20 // 1 MiB

// ErrFrameTooLarge indicates a declared length exceeded the configured max.
var ErrFrameTooLarge = errors.New("framing: message exceeds max size")

// ErrZeroLength indicates a declared length of zero, which is never valid.
var ErrZeroLength = errors.New("framing: zero-length frame")

// ReadTCPMessage reads one length-prefixed JSON payload from r. Framing
// violations (zero or oversize length) are returned as errors; callers
// must treat them as fatal to the connection.
func ReadTCPMessage(r io.Reader, maxMessageSize int) ([]byte, error) {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, ErrZeroLength
	}
	if length > uint32(maxMessageSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxMessageSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteTCPMessage writes payload to w as a length-prefixed frame.
func WriteTCPMessage(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrZeroLength
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// EncodeTCPMessage returns the full framed byte sequence (prefix + payload)
// for payload, for callers that need it as a single buffer (e.g. sendv).
func EncodeTCPMessage(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out
}
