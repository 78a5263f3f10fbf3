package connection

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the lifecycle state of the push connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InboundMessage is the most recent decoded frame from the push endpoint.
type InboundMessage struct {
	Type       string          // top-level "type" field when the frame is an object carrying one
	Payload    json.RawMessage // the frame as received
	ReceivedAt time.Time
}

// Decode unmarshals the payload into out.
func (m InboundMessage) Decode(out any) error {
	return json.Unmarshal(m.Payload, out)
}

// Snapshot is what a subscriber sees at the moment it subscribes.
type Snapshot struct {
	State     State
	Latest    InboundMessage
	HasLatest bool
}

// Subscriber receives connection state changes and pushed messages. Callbacks run
// on the manager's event loop, in subscription order, and must not block.
type Subscriber interface {
	OnStateChange(state State)
	OnMessage(msg InboundMessage)
}

// SubscriberFuncs adapts plain funcs to Subscriber. Nil funcs are skipped.
type SubscriberFuncs struct {
	StateChange func(State)
	Message     func(InboundMessage)
}

func (f SubscriberFuncs) OnStateChange(state State) {
	if f.StateChange != nil {
		f.StateChange(state)
	}
}

func (f SubscriberFuncs) OnMessage(msg InboundMessage) {
	if f.Message != nil {
		f.Message(msg)
	}
}

// decodeFrame validates raw as JSON and wraps it as an InboundMessage.
func decodeFrame(raw []byte, receivedAt time.Time) (InboundMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return InboundMessage{}, fmt.Errorf("decode frame: %w", err)
	}

	msg := InboundMessage{
		Payload:    append(json.RawMessage(nil), raw...),
		ReceivedAt: receivedAt,
	}
	if obj, ok := v.(map[string]any); ok {
		if t, ok := obj["type"].(string); ok {
			msg.Type = t
		}
	}
	return msg, nil
}
