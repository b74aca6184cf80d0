package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/fleetdash/telemetry/internal/auth"
	"github.com/fleetdash/telemetry/internal/config"
	"github.com/fleetdash/telemetry/internal/dispatcher"
	"github.com/fleetdash/telemetry/internal/logging"
	"github.com/fleetdash/telemetry/pkg/protocol"
	"github.com/fleetdash/telemetry/pkg/telemetry"
)

// Controller is the simulation control surface exposed to privileged
// connections.
type Controller interface {
	Start()
	Stop()
	TriggerOnce() error
}

// Snapshotter provides the current fleet state for the admission hello and
// snapshot requests.
type Snapshotter interface {
	Snapshot(now time.Time) telemetry.Batch
}

// Hub authenticates connections, tracks topic subscriptions and fans out
// update batches. The subscriber maps are owned exclusively by the hub;
// subscribe, unsubscribe, disconnect and broadcast all serialize on one
// mutex.
type Hub struct {
	cfg      config.HubConfig
	verifier *auth.Verifier
	engine   Snapshotter
	control  Controller
	disp     *dispatcher.Dispatcher
	log      *slog.Logger
	upgrader ws.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}
	closed  bool

	// OTEL metrics
	connects metric.Int64Counter
	dropped  metric.Int64Counter
}

// New creates a hub and registers its protocol handlers.
func New(cfg config.HubConfig, verifier *auth.Verifier, engine Snapshotter,
	control Controller, log *slog.Logger) (*Hub, error) {

	disp, err := dispatcher.New(logging.NewDispatcherLogger(log))
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	h := &Hub{
		cfg:      cfg,
		verifier: verifier,
		engine:   engine,
		control:  control,
		disp:     disp,
		log:      log,
		upgrader: ws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
		topics:  make(map[string]map[*Client]struct{}),
	}

	m := meter()
	h.connects, err = m.Int64Counter(
		"hub.connections.opened",
		metric.WithDescription("Total connections admitted"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating connects counter: %w", err)
	}
	h.dropped, err = m.Int64Counter(
		"hub.messages.dropped",
		metric.WithDescription("Total messages dropped on full send buffers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	disp.Register(protocol.TypeSubscribe, h.handleSubscribe, dispatcher.Logged())
	disp.Register(protocol.TypeUnsubscribe, h.handleUnsubscribe, dispatcher.Logged())
	disp.Register(protocol.TypeRequestSnapshot, h.handleSnapshot)
	disp.Register(protocol.TypePing, h.handlePing)
	disp.Register(protocol.TypeControl, h.handleControl, dispatcher.Logged())

	return h, nil
}

// ServeWS upgrades an HTTP request to a websocket connection. The token is
// verified exactly once, before the upgrade; a failed verification refuses
// the connection with no subscription state created.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(tokenFromRequest(r))
	if err != nil {
		h.log.Warn("Connection refused", "remote", r.RemoteAddr, "error", err)
		http.Error(w, protocol.CategoryAuthentication, http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(h, conn, identity, h.log)
	if !h.register(c) {
		// Hub is shutting down.
		_ = conn.Close()
		return
	}

	h.log.Info("Observer connected",
		"userId", identity.UserID, "role", identity.Role, "remote", r.RemoteAddr)

	go c.writeLoop()

	// Hello push: a newly joined observer always starts from a full
	// snapshot, regardless of subscriptions.
	c.Reply(protocol.TypeSnapshot, protocol.SnapshotPayload{
		Entities: h.engine.Snapshot(time.Now()),
	})

	go c.readPump()
}

func tokenFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	header := r.Header.Get("Authorization")
	return strings.TrimPrefix(header, "Bearer ")
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.connects.Add(context.Background(), 1)
	return true
}

// unregister removes the client and all of its subscriptions, then closes
// the connection. Synchronous: once it returns, no further messages are
// delivered to the client.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.log.Info("Observer disconnected", "userId", c.identity.UserID)
	}
	// Topic cleanup runs even if the client was already removed: the read
	// and write goroutines both unregister on failure, and a subscribe
	// racing the first unregister must not leave a dead subscription.
	for topic, subs := range h.topics {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()

	c.close()
}

func (h *Hub) recordDrop() {
	h.dropped.Add(context.Background(), 1)
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast fans one tick's batch out. Wildcard subscribers receive the
// whole batch as one message; per-entity subscribers receive individual
// updates. The two paths are independent.
func (h *Hub) Broadcast(batch telemetry.Batch) {
	if len(batch) == 0 {
		return
	}

	batchData, err := protocol.Encode(protocol.TypeUpdateBatch,
		protocol.UpdateBatchPayload{Events: batch})
	if err != nil {
		h.log.Error("Failed to encode update batch", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.topics[protocol.TopicAll] {
		c.enqueue(batchData)
	}

	for _, ev := range batch {
		subs := h.topics[ev.RobotID]
		if len(subs) == 0 {
			continue
		}
		data, err := protocol.Encode(protocol.TypeUpdate, ev)
		if err != nil {
			h.log.Error("Failed to encode update", "robotId", ev.RobotID, "error", err)
			continue
		}
		for c := range subs {
			c.enqueue(data)
		}
	}
}

// Shutdown broadcasts a final notice and forcibly closes every connection.
func (h *Hub) Shutdown(message string) {
	data, err := protocol.Encode(protocol.TypeShutdownNotice, protocol.ShutdownPayload{
		Message:   message,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.log.Error("Failed to encode shutdown notice", "error", err)
	}

	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.topics = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		if data != nil {
			_ = c.write(data)
		}
		c.close()
	}

	h.log.Info("Hub shut down", "connections", len(clients))
}

func (h *Hub) handleSubscribe(e dispatcher.Event) error {
	c := e.Sender.(*Client)
	topic, err := topicFromPayload(e.Payload)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		// Connection already torn down or hub shutting down; adding the
		// subscription now would orphan it.
		h.mu.Unlock()
		return nil
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Client]struct{})
		h.topics[topic] = subs
	}
	subs[c] = struct{}{}
	h.mu.Unlock()

	c.Reply(protocol.TypeSubscribed, protocol.TopicPayload{Topic: topic})
	return nil
}

func (h *Hub) handleUnsubscribe(e dispatcher.Event) error {
	c := e.Sender.(*Client)
	topic, err := topicFromPayload(e.Payload)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()

	c.Reply(protocol.TypeUnsubscribed, protocol.TopicPayload{Topic: topic})
	return nil
}

func topicFromPayload(raw json.RawMessage) (string, error) {
	var p protocol.SubscribePayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", &hubError{protocol.CategoryValidation, "malformed topic payload"}
		}
	}
	topic := strings.TrimSpace(p.Topic)
	if topic == "" {
		return "", &hubError{protocol.CategoryValidation, "topic must not be empty"}
	}
	return topic, nil
}

func (h *Hub) handleSnapshot(e dispatcher.Event) error {
	e.Sender.Reply(protocol.TypeSnapshot, protocol.SnapshotPayload{
		Entities: h.engine.Snapshot(time.Now()),
	})
	return nil
}

func (h *Hub) handlePing(e dispatcher.Event) error {
	e.Sender.Reply(protocol.TypePong, protocol.PongPayload{Timestamp: time.Now()})
	return nil
}

func (h *Hub) handleControl(e dispatcher.Event) error {
	c := e.Sender.(*Client)
	if !c.identity.CanControl() {
		return &hubError{protocol.CategoryAuthorization,
			fmt.Sprintf("role %s may not control the simulation", c.identity.Role)}
	}

	var p protocol.ControlPayload
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return &hubError{protocol.CategoryValidation, "malformed control payload"}
		}
	}

	switch p.Action {
	case protocol.ActionStart:
		h.control.Start()
	case protocol.ActionStop:
		h.control.Stop()
	case protocol.ActionTrigger:
		if err := h.control.TriggerOnce(); err != nil {
			return &hubError{protocol.CategoryControl, err.Error()}
		}
	default:
		return &hubError{protocol.CategoryValidation,
			fmt.Sprintf("unknown control action %q", p.Action)}
	}

	h.log.Info("Simulation control action",
		"action", p.Action, "userId", c.identity.UserID)
	return nil
}
