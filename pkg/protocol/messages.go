// Package protocol defines the websocket message envelope and payloads
// exchanged between the distribution hub and its observers.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/fleetdash/telemetry/pkg/telemetry"
)

// Inbound request types.
const (
	TypeSubscribe       = "subscribe"
	TypeUnsubscribe     = "unsubscribe"
	TypeRequestSnapshot = "request_snapshot"
	TypePing            = "ping"
	TypeControl         = "control"
)

// Outbound message types.
const (
	TypeSnapshot       = "snapshot"
	TypeUpdateBatch    = "update_batch"
	TypeUpdate         = "update"
	TypeSubscribed     = "subscribed"
	TypeUnsubscribed   = "unsubscribed"
	TypePong           = "pong"
	TypeError          = "error"
	TypeShutdownNotice = "shutdown_notice"
)

// Simulation control actions.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionTrigger = "trigger"
)

// TopicAll is the wildcard topic; subscribers receive every tick's full batch.
const TopicAll = "all"

// Error categories surfaced to callers.
const (
	CategoryAuthentication = "authentication_failure"
	CategoryAuthorization  = "authorization_failure"
	CategoryValidation     = "validation_failure"
	CategoryPersistence    = "persistence_failure"
	CategoryDelivery       = "delivery_failure"
	CategoryControl        = "control_failure"
)

// Envelope wraps every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload carries the topic for subscribe/unsubscribe requests.
type SubscribePayload struct {
	Topic string `json:"topic"`
}

// ControlPayload carries a simulation control action.
type ControlPayload struct {
	Action string `json:"action"`
}

// SnapshotPayload is the full current fleet state, pushed on admission and
// on request.
type SnapshotPayload struct {
	Entities []telemetry.UpdateEvent `json:"entities"`
}

// UpdateBatchPayload is one tick's full batch, delivered to wildcard
// subscribers.
type UpdateBatchPayload struct {
	Events telemetry.Batch `json:"events"`
}

// TopicPayload acknowledges a subscribe or unsubscribe request.
type TopicPayload struct {
	Topic string `json:"topic"`
}

// PongPayload answers a ping with the server clock.
type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload names the failure category and a human-readable message.
type ErrorPayload struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// ShutdownPayload is the final notification broadcast before the hub closes
// all connections.
type ShutdownPayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode marshals a payload and wraps it in an envelope of the given type.
func Encode(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}
