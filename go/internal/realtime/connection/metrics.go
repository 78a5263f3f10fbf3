package connection

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives connection events for observability.
type MetricsCollector interface {
	RecordStateChange(from, to State)
	RecordMessageReceived(msgType string)
	RecordDecodeFailure(err error)
	RecordTransportFailure(err error)
	RecordReconnectScheduled(delay time.Duration)
	RecordSend(delivered bool)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordStateChange(from, to State)             {}
func (NoOpMetricsCollector) RecordMessageReceived(msgType string)         {}
func (NoOpMetricsCollector) RecordDecodeFailure(err error)                {}
func (NoOpMetricsCollector) RecordTransportFailure(err error)             {}
func (NoOpMetricsCollector) RecordReconnectScheduled(delay time.Duration) {}
func (NoOpMetricsCollector) RecordSend(delivered bool)                    {}

// CountingMetrics keeps in-process counters.
type CountingMetrics struct {
	stateChanges       atomic.Uint64
	messages           atomic.Uint64
	decodeFailures     atomic.Uint64
	transportFailures  atomic.Uint64
	reconnectsSchedule atomic.Uint64
	sent               atomic.Uint64
	dropped            atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of CountingMetrics.
type MetricsSnapshot struct {
	StateChanges        uint64 `json:"state_changes"`
	Messages            uint64 `json:"messages"`
	DecodeFailures      uint64 `json:"decode_failures"`
	TransportFailures   uint64 `json:"transport_failures"`
	ReconnectsScheduled uint64 `json:"reconnects_scheduled"`
	Sent                uint64 `json:"sent"`
	Dropped             uint64 `json:"dropped"`
}

func NewCountingMetrics() *CountingMetrics {
	return &CountingMetrics{}
}

func (m *CountingMetrics) RecordStateChange(from, to State)     { m.stateChanges.Add(1) }
func (m *CountingMetrics) RecordMessageReceived(msgType string) { m.messages.Add(1) }
func (m *CountingMetrics) RecordDecodeFailure(err error)        { m.decodeFailures.Add(1) }
func (m *CountingMetrics) RecordTransportFailure(err error)     { m.transportFailures.Add(1) }

func (m *CountingMetrics) RecordReconnectScheduled(delay time.Duration) {
	m.reconnectsSchedule.Add(1)
}

func (m *CountingMetrics) RecordSend(delivered bool) {
	if delivered {
		m.sent.Add(1)
		return
	}
	m.dropped.Add(1)
}

func (m *CountingMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		StateChanges:        m.stateChanges.Load(),
		Messages:            m.messages.Load(),
		DecodeFailures:      m.decodeFailures.Load(),
		TransportFailures:   m.transportFailures.Load(),
		ReconnectsScheduled: m.reconnectsSchedule.Load(),
		Sent:                m.sent.Load(),
		Dropped:             m.dropped.Load(),
	}
}
