package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/repovet/repovet/internal/emit"
	rvwsutil "github.com/repovet/repovet/internal/wsutil"
)

// maxClientFrame bounds payloads read from event stream clients. Subscribers
// only ever send control frames; anything larger is a protocol violation.
const maxClientFrame = 4096

// frameWriteTimeout bounds one broadcast write. A consumer that cannot keep
// up is dropped rather than allowed to stall scan workers.
const frameWriteTimeout = 5 * time.Second

// eventFrame is the JSON payload broadcast to event stream clients. The
// shape matches the webhook sink payload so consumers can share a decoder.
type eventFrame struct {
	Severity  string         `json:"severity"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Instance  string         `json:"repovet_instance"`
	Fields    map[string]any `json:"fields"`
}

// Hub broadcasts emitted events to connected WebSocket clients. It
// implements emit.Sink, so it rides the same fan-out as the webhook, syslog,
// and OTLP sinks.
type Hub struct {
	mu      sync.Mutex
	clients map[*eventClient]struct{}
	closed  bool
}

// eventClient is one connected event stream subscriber.
type eventClient struct {
	conn net.Conn

	// writeMu serializes frames: broadcasts and pong replies share the conn.
	writeMu sync.Mutex
}

func newHub() *Hub {
	return &Hub{clients: make(map[*eventClient]struct{})}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// add registers a connection and returns its client handle, or nil when the
// hub has already shut down.
func (h *Hub) add(conn net.Conn) *eventClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	c := &eventClient{conn: conn}
	h.clients[c] = struct{}{}
	return c
}

// remove drops a client and closes its connection. Safe to call twice.
func (h *Hub) remove(c *eventClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// snapshot copies the current client set so broadcasts run outside the lock.
func (h *Hub) snapshot() []*eventClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// writeMessage writes one server frame under the client's write lock.
func (c *eventClient) writeMessage(op ws.OpCode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	return wsutil.WriteServerMessage(c.conn, op, payload)
}

// closeWith sends a close frame under the write lock. The connection itself
// is closed by remove.
func (c *eventClient) closeWith(code ws.StatusCode, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	rvwsutil.WriteCloseFrame(c.conn, code, reason)
}

// Emit implements emit.Sink: the event goes to every subscriber as one JSON
// text frame. Clients whose write fails are dropped.
func (h *Hub) Emit(_ context.Context, event emit.Event) error {
	clients := h.snapshot()
	if len(clients) == 0 {
		return nil
	}

	payload, err := json.Marshal(eventFrame{
		Severity:  event.Severity.String(),
		Type:      event.Type,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Instance:  event.InstanceID,
		Fields:    event.Fields,
	})
	if err != nil {
		return fmt.Errorf("marshal event frame: %w", err)
	}

	for _, c := range clients {
		if werr := c.writeMessage(ws.OpText, payload); werr != nil {
			h.remove(c)
		}
	}
	return nil
}

// Close implements emit.Sink: every subscriber gets a going-away close frame
// and the hub rejects future connections.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*eventClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWith(ws.StatusGoingAway, "server shutting down")
		_ = c.conn.Close()
	}
	return nil
}

// readLoop services one subscriber's inbound frames. The stream is
// broadcast-only: pings are answered, close is honored, data frames are a
// protocol violation. No read deadline; subscribers may stay silent forever,
// and dead connections surface on the next broadcast write.
func (h *Hub) readLoop(c *eventClient) {
	defer h.remove(c)
	for {
		hdr, err := ws.ReadHeader(c.conn)
		if err != nil {
			if !rvwsutil.IsExpectedCloseErr(err) {
				c.closeWith(ws.StatusProtocolError, "malformed frame")
			}
			return
		}

		// Guard against OOM: reject oversized frames before allocating.
		if hdr.OpCode.IsControl() && hdr.Length > rvwsutil.MaxControlPayload {
			c.closeWith(ws.StatusProtocolError, "control frame too large")
			return
		}
		if hdr.Length < 0 || hdr.Length > maxClientFrame {
			c.closeWith(ws.StatusMessageTooBig, rvwsutil.ReasonMessageTooLarge)
			return
		}

		payload := make([]byte, hdr.Length)
		if hdr.Length > 0 {
			if _, err := io.ReadFull(c.conn, payload); err != nil {
				return
			}
		}
		// Unmask client frames (clients must mask per RFC 6455).
		if hdr.Masked {
			ws.Cipher(payload, hdr.Mask, 0)
		}

		switch hdr.OpCode {
		case ws.OpClose:
			c.closeWith(ws.StatusNormalClosure, "")
			return
		case ws.OpPing:
			if err := c.writeMessage(ws.OpPong, payload); err != nil {
				return
			}
		case ws.OpPong:
			// Unsolicited pongs are legal; ignore.
		default:
			c.closeWith(ws.StatusPolicyViolation, "event stream is read-only")
			return
		}
	}
}

// handleEvents upgrades the connection and subscribes it to the event
// broadcast. Requires the bearer token when one is configured.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	clientIP, _ := requestMeta(r)
	if !s.authorize(w, r, clientIP) {
		return
	}

	upgrader := ws.HTTPUpgrader{Timeout: 10 * time.Second}
	conn, _, _, err := upgrader.Upgrade(r, w)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		fmt.Fprintf(os.Stderr, "repovet: event stream upgrade: %v\n", err)
		return
	}

	c := s.hub.add(conn)
	if c == nil {
		rvwsutil.WriteCloseFrame(conn, ws.StatusGoingAway, "server shutting down")
		_ = conn.Close()
		return
	}
	go s.hub.readLoop(c)
}
