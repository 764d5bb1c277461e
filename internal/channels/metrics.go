package channels

import (
	"sync/atomic"
	"time"
)

// Metrics tracks per-channel adapter counters. All counters are atomic so
// adapters can record from their polling and dispatch goroutines without
// coordination.
type Metrics struct {
	eventsReceived atomic.Uint64
	eventsDropped  atomic.Uint64
	intentsHandled atomic.Uint64
	intentsFailed  atomic.Uint64
	reconnects     atomic.Uint64
	pollErrors     atomic.Uint64

	startTime time.Time
}

// NewMetrics creates a zeroed metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordEventReceived counts a canonical inbound event emitted.
func (m *Metrics) RecordEventReceived() { m.eventsReceived.Add(1) }

// RecordEventDropped counts a raw update rejected by a filter or one the
// adapter could not convert.
func (m *Metrics) RecordEventDropped() { m.eventsDropped.Add(1) }

// RecordIntentHandled counts a successfully processed outbound intent.
func (m *Metrics) RecordIntentHandled() { m.intentsHandled.Add(1) }

// RecordIntentFailed counts an outbound intent that ended in error.
func (m *Metrics) RecordIntentFailed() { m.intentsFailed.Add(1) }

// RecordReconnect counts a reconnection cycle after a connection loss.
func (m *Metrics) RecordReconnect() { m.reconnects.Add(1) }

// RecordPollError counts a failed poll attempt.
func (m *Metrics) RecordPollError() { m.pollErrors.Add(1) }

// MetricsSnapshot is a point-in-time copy of channel counters.
type MetricsSnapshot struct {
	EventsReceived uint64  `json:"eventsReceived"`
	EventsDropped  uint64  `json:"eventsDropped"`
	IntentsHandled uint64  `json:"intentsHandled"`
	IntentsFailed  uint64  `json:"intentsFailed"`
	Reconnects     uint64  `json:"reconnects"`
	PollErrors     uint64  `json:"pollErrors"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
}

// Snapshot returns a consistent-enough copy of the counters for status
// reporting. Individual loads are atomic; the set is not.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EventsReceived: m.eventsReceived.Load(),
		EventsDropped:  m.eventsDropped.Load(),
		IntentsHandled: m.intentsHandled.Load(),
		IntentsFailed:  m.intentsFailed.Load(),
		Reconnects:     m.reconnects.Load(),
		PollErrors:     m.pollErrors.Load(),
		UptimeSeconds:  time.Since(m.startTime).Seconds(),
	}
}
