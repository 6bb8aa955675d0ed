// Package wsutil holds the WebSocket frame helpers the event stream needs
// beyond what gobwas/ws provides: well-formed close frames in both
// directions and teardown error classification.
package wsutil

import (
	"bytes"
	"crypto/rand"
	"net"
	"time"
	"unicode/utf8"

	"github.com/gobwas/ws"
)

const (
	// MaxControlPayload is the RFC 6455 §5.5 limit for control frame payloads.
	MaxControlPayload = 125

	// ReasonMessageTooLarge is the close reason for oversized client frames.
	ReasonMessageTooLarge = "message too large" //nolint:gosec // not a credential

	// closeWriteTimeout bounds the close frame write. The peer may already
	// be gone; a close frame is best effort.
	closeWriteTimeout = 5 * time.Second
)

// closePayload builds the close frame payload: 2-byte status code plus an
// optional UTF-8 reason, truncated to fit the control frame limit without
// splitting a multi-byte codepoint (RFC 6455 requires valid UTF-8 reasons).
func closePayload(code ws.StatusCode, reason string) []byte {
	reasonBytes := []byte(reason)
	if len(reasonBytes) > MaxControlPayload-2 {
		reasonBytes = reasonBytes[:MaxControlPayload-2]
		for len(reasonBytes) > 0 && !utf8.Valid(reasonBytes) {
			reasonBytes = reasonBytes[:len(reasonBytes)-1]
		}
	}
	payload := make([]byte, 2+len(reasonBytes))
	payload[0] = byte(code >> 8) //nolint:gosec // StatusCode is uint16, high byte extraction is safe
	payload[1] = byte(code & 0xFF)
	copy(payload[2:], reasonBytes)
	return payload
}

// WriteCloseFrame sends an unmasked (server-to-client) close frame. The
// frame is assembled in one buffer so conn.Write is a single call; the hub's
// broadcast path and a connection's read loop may both close the same conn,
// and a single write keeps each frame's bytes contiguous.
func WriteCloseFrame(conn net.Conn, code ws.StatusCode, reason string) {
	payload := closePayload(code, reason)

	var buf bytes.Buffer
	_ = ws.WriteHeader(&buf, ws.Header{
		Fin:    true,
		OpCode: ws.OpClose,
		Length: int64(len(payload)),
	})
	buf.Write(payload)

	_ = conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
	_, _ = conn.Write(buf.Bytes())
}

// WriteClientCloseFrame sends a masked close frame (client-to-server per
// RFC 6455). Event stream consumers use this to end their subscription.
func WriteClientCloseFrame(conn net.Conn, code ws.StatusCode, reason string) {
	payload := closePayload(code, reason)

	var mask [4]byte
	_, _ = rand.Read(mask[:])
	ws.Cipher(payload, mask, 0)

	var buf bytes.Buffer
	_ = ws.WriteHeader(&buf, ws.Header{
		Fin:    true,
		OpCode: ws.OpClose,
		Masked: true,
		Mask:   mask,
		Length: int64(len(payload)),
	})
	buf.Write(payload)

	_ = conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
	_, _ = conn.Write(buf.Bytes())
}
