package dispatcher

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, keysAndValues ...any) {}
func (nopLogger) Info(msg string, keysAndValues ...any)  {}
func (nopLogger) Error(msg string, keysAndValues ...any) {}

type recordingResponder struct {
	types    []string
	payloads []any
}

func (r *recordingResponder) Reply(msgType string, payload any) {
	r.types = append(r.types, msgType)
	r.payloads = append(r.payloads, payload)
}

func TestDispatcher_RoutesToHandler(t *testing.T) {
	d, err := New(nopLogger{})
	require.NoError(t, err)

	var got Event
	d.Register("ping", func(e Event) error {
		got = e
		return nil
	})

	sender := &recordingResponder{}
	e := Event{
		Type:      "ping",
		Payload:   json.RawMessage(`{}`),
		Sender:    sender,
		Timestamp: time.Now(),
	}
	require.NoError(t, d.Dispatch(e))
	assert.Equal(t, "ping", got.Type)
	assert.Same(t, sender, got.Sender.(*recordingResponder))
}

func TestDispatcher_UnknownType(t *testing.T) {
	d, err := New(nopLogger{})
	require.NoError(t, err)

	err = d.Dispatch(Event{Type: "nope"})
	assert.ErrorContains(t, err, "unknown message type")
}

func TestDispatcher_HandlerErrorPropagates(t *testing.T) {
	d, err := New(nopLogger{})
	require.NoError(t, err)

	want := errors.New("boom")
	d.Register("subscribe", func(Event) error { return want }, Logged())

	assert.ErrorIs(t, d.Dispatch(Event{Type: "subscribe"}), want)
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, err := New(nopLogger{})
	require.NoError(t, err)

	d.Register("ping", func(Event) error { return nil })
	assert.True(t, d.HasHandler("ping"))
	assert.False(t, d.HasHandler("pong"))
}
