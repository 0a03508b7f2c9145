package fanout

import (
	"time"

	"github.com/aegisfleet/sentinel/internal/domain"
)

// The Publish* methods below turn domain records from the scheduler,
// dispatcher and ingestors into Events on the matching channel. Every
// one is a thin wrapper so producers never build fanout.Event
// themselves.

// PublishTelemetry implements the telemetry ingestor's broadcaster sink.
func (h *Hub) PublishTelemetry(t domain.TelemetrySample) {
	h.Broadcast(ChannelTelemetry, Event{Type: "telemetry", Timestamp: t.Timestamp, Data: t})
}

// PublishDetection implements the detection ingestor's broadcaster sink.
func (h *Hub) PublishDetection(d domain.Detection) {
	h.Broadcast(ChannelDetections, Event{Type: "detection", Timestamp: d.CreatedAt, Data: d})
}

// PublishAlert implements the scheduler's broadcaster sink, fired on
// every alert status transition (queued, assigned, expired, ...).
func (h *Hub) PublishAlert(a domain.Alert) {
	h.Broadcast(ChannelAlerts, Event{Type: "alert", Timestamp: time.Now(), Data: a})
}

// PublishMissionUpdate implements the dispatcher's broadcaster sink,
// fired on every mission status transition.
func (h *Hub) PublishMissionUpdate(m domain.Mission) {
	h.Broadcast(ChannelMissions, Event{Type: "mission_update", Timestamp: time.Now(), Data: m})
}

// PublishSystemStatus pushes an operator-facing system event, used for
// StateInvariant quarantines and other conditions worth surfacing to
// interactive clients outside the normal entity channels.
func (h *Hub) PublishSystemStatus(message string) {
	h.Broadcast(ChannelSystem, Event{Type: "system_status", Timestamp: time.Now(), Data: message})
}
