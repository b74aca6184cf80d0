package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/fleetdash/telemetry/internal/auth"
	"github.com/fleetdash/telemetry/internal/dispatcher"
	"github.com/fleetdash/telemetry/pkg/protocol"
)

const writeWait = 10 * time.Second

// Client is one authenticated observer connection. A single write goroutine
// drains sendCh; inbound requests are handled serially by readPump, so a
// connection's subscription state is never mutated concurrently.
type Client struct {
	hub      *Hub
	conn     *ws.Conn
	identity auth.Identity

	sendCh chan []byte
	done   chan struct{}
	once   sync.Once

	// Serializes raw writes between writeLoop and the shutdown notice.
	wmu sync.Mutex

	logger *slog.Logger
}

func newClient(h *Hub, conn *ws.Conn, identity auth.Identity, logger *slog.Logger) *Client {
	return &Client{
		hub:      h,
		conn:     conn,
		identity: identity,
		sendCh:   make(chan []byte, h.cfg.SendBufferSize),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Identity returns the identity established at connection time.
func (c *Client) Identity() auth.Identity {
	return c.identity
}

// Reply encodes a message and queues it for delivery to this connection.
// Implements dispatcher.Responder.
func (c *Client) Reply(msgType string, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.logger.Error("Failed to encode message", "type", msgType, "error", err)
		return
	}
	c.enqueue(data)
}

// enqueue hands a pre-encoded message to the write goroutine. When the send
// buffer is full the message is dropped rather than blocking the caller;
// a slow consumer only loses its own updates.
func (c *Client) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.sendCh <- data:
	default:
		c.hub.recordDrop()
		c.logger.Warn("Send buffer full, dropping message",
			"userId", c.identity.UserID)
	}
}

// writeLoop drains sendCh and writes messages to the connection.
func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := c.write(data); err != nil {
				c.logger.Warn("WebSocket write error",
					"userId", c.identity.UserID, "error", err)
				c.hub.unregister(c)
				return
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(ws.TextMessage, data)
}

// readPump reads inbound requests and dispatches them one at a time.
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					c.logger.Debug("WebSocket read error",
						"userId", c.identity.UserID, "error", err)
				}
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.Reply(protocol.TypeError, protocol.ErrorPayload{
				Category: protocol.CategoryValidation,
				Message:  "malformed message envelope",
			})
			continue
		}

		err = c.hub.disp.Dispatch(dispatcher.Event{
			Type:      env.Type,
			Payload:   env.Payload,
			Sender:    c,
			Timestamp: time.Now(),
		})
		if err != nil {
			c.Reply(protocol.TypeError, errorPayload(err))
		}
	}
}

// close tears the connection down. Safe to call more than once.
func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// hubError carries the failure category surfaced to callers.
type hubError struct {
	category string
	message  string
}

func (e *hubError) Error() string { return e.message }

func errorPayload(err error) protocol.ErrorPayload {
	var he *hubError
	if errors.As(err, &he) {
		return protocol.ErrorPayload{Category: he.category, Message: he.message}
	}
	return protocol.ErrorPayload{
		Category: protocol.CategoryValidation,
		Message:  err.Error(),
	}
}
