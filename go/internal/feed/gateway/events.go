package gateway

import (
	"encoding/json"
	"time"
)

// FeedEvent is the frame format pushed to /ws/props clients.
type FeedEvent struct {
	Type             EventType       `json:"type"`
	Message          string          `json:"message,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	ConnectedClients *int            `json:"connected_clients,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// EventType represents the type of feed event
type EventType string

const (
	EventTypeConnection    EventType = "connection"
	EventTypeCarnageUpdate EventType = "carnage_update"
	EventTypeHeartbeat     EventType = "heartbeat"
	EventTypeEcho          EventType = "echo"
)

const (
	welcomeMessage   = "Butcher connected to slaughter feed"
	heartbeatMessage = "Slaughter feed active"
)

// NewWelcomeEvent is sent once to every new connection.
func NewWelcomeEvent(at time.Time) *FeedEvent {
	return &FeedEvent{Type: EventTypeConnection, Message: welcomeMessage, Timestamp: at.UTC()}
}

// NewHeartbeatEvent reports feed liveness and the number of connected clients.
func NewHeartbeatEvent(connected int, at time.Time) *FeedEvent {
	return &FeedEvent{
		Type:             EventTypeHeartbeat,
		Message:          heartbeatMessage,
		ConnectedClients: &connected,
		Timestamp:        at.UTC(),
	}
}

// NewEchoEvent wraps a client frame so the client can verify its send path.
func NewEchoEvent(message string, at time.Time) *FeedEvent {
	return &FeedEvent{Type: EventTypeEcho, Message: message, Timestamp: at.UTC()}
}

// NewCarnageUpdateEvent wraps an upstream prop/prediction update. The payload
// must already be valid JSON.
func NewCarnageUpdateEvent(payload json.RawMessage, at time.Time) *FeedEvent {
	return &FeedEvent{Type: EventTypeCarnageUpdate, Payload: payload, Timestamp: at.UTC()}
}

// CarnageUpdatePayload is the prop update shape relayed from upstream publishers.
type CarnageUpdatePayload struct {
	PredictionID   string  `json:"prediction_id"`
	Player         string  `json:"player"`
	Stat           string  `json:"stat"`
	Line           float64 `json:"line"`
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	Analysis       string  `json:"analysis,omitempty"`
	Edge           float64 `json:"edge"`
	Level          string  `json:"level"`
}
