package alertqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/bus"
	"github.com/aegisfleet/sentinel/internal/domain"
)

// Store persists every accepted alert, whether or not it fit in the
// in-memory queue.
type Store interface {
	SaveAlert(ctx context.Context, alert domain.Alert) error
}

// Notifier wakes the scheduler's fast path for urgent alerts; satisfied
// by the scheduler.
type Notifier interface {
	NotifyAlert(alert domain.Alert)
}

// Broadcaster is the fan-out sink for accepted alerts.
type Broadcaster interface {
	PublishAlert(alert domain.Alert)
}

// IDGenerator produces identifiers for alerts that arrive without one.
type IDGenerator func() string

// alertPayload is the wire shape published on satellite/alerts by the
// external detection pipeline.
type alertPayload struct {
	AlertID    string            `json:"alert_id"`
	TileID     string            `json:"tile_id"`
	EventType  string            `json:"event_type"`
	Priority   int               `json:"priority"`
	Confidence float64           `json:"confidence"`
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`
	Severity   string            `json:"severity"`
	Metadata   map[string]string `json:"metadata"`
}

// Ingestor consumes the satellite alert topic: it validates each
// payload, stamps an arrival sequence, persists the alert, enqueues it
// for the scheduler, and nudges the fast path for urgent severities. A
// full queue degrades to persist-only; the alert is recovered on the
// next restart.
type Ingestor struct {
	queue    *Queue
	store    Store
	genID    IDGenerator
	logger   *zap.Logger
	notifier Notifier
	bcast    Broadcaster
	seq      atomic.Uint64
	now      func() time.Time
}

// NewIngestor builds an Ingestor feeding queue.
func NewIngestor(queue *Queue, store Store, genID IDGenerator, logger *zap.Logger) *Ingestor {
	return &Ingestor{queue: queue, store: store, genID: genID, logger: logger, now: time.Now}
}

// SetNotifier wires the scheduler's fast-path nudge; nil disables it.
func (ing *Ingestor) SetNotifier(n Notifier) { ing.notifier = n }

// SetBroadcaster wires a fan-out sink; nil disables alert broadcast.
func (ing *Ingestor) SetBroadcaster(b Broadcaster) { ing.bcast = b }

// SeedSequence advances the arrival counter past every recovered
// alert's sequence so new arrivals keep their FIFO position relative to
// requeued ones.
func (ing *Ingestor) SeedSequence(recovered []domain.Alert) {
	var max uint64
	for _, a := range recovered {
		if a.ArrivalSeq > max {
			max = a.ArrivalSeq
		}
	}
	for cur := ing.seq.Load(); cur < max; cur = ing.seq.Load() {
		if ing.seq.CompareAndSwap(cur, max) {
			break
		}
	}
}

// Start subscribes to satellite/alerts and returns an unsubscribe func.
func (ing *Ingestor) Start(ctx context.Context, b bus.Bus) (func(), error) {
	return b.Subscribe(ctx, bus.TopicSatelliteAlerts, ing.handle)
}

func (ing *Ingestor) handle(ctx context.Context, msg bus.Message) {
	var p alertPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		ing.logger.Warn("malformed alert payload", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	if err := validateAlert(p); err != nil {
		ing.logger.Warn("alert failed validation", zap.String("alert_id", p.AlertID), zap.Error(err))
		return
	}

	id := p.AlertID
	if id == "" {
		id = ing.genID()
	}
	alert := domain.Alert{
		ID:         id,
		TileID:     p.TileID,
		EventType:  p.EventType,
		Confidence: p.Confidence,
		Severity:   domain.AlertSeverity(p.Severity),
		Priority:   p.Priority,
		Position:   domain.LatLon{Lat: p.Latitude, Lon: p.Longitude},
		Status:     domain.AlertQueued,
		Metadata:   p.Metadata,
		CreatedAt:  ing.now(),
		ArrivalSeq: ing.seq.Add(1),
	}

	if err := ing.store.SaveAlert(ctx, alert); err != nil {
		ing.logger.Warn("alert persistence failed", zap.String("alert_id", alert.ID), zap.Error(err))
	}

	if err := ing.queue.Offer(alert); err != nil {
		// Persist-only fallback: the alert is on disk and will be
		// requeued at the next startup or retried by the pipeline.
		ing.logger.Warn("alert queue full, persisted only", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}

	ing.logger.Info("alert enqueued",
		zap.String("alert_id", alert.ID), zap.String("tile_id", alert.TileID),
		zap.Int("priority", alert.Priority), zap.String("severity", string(alert.Severity)))

	if ing.bcast != nil {
		ing.bcast.PublishAlert(alert)
	}
	if ing.notifier != nil {
		ing.notifier.NotifyAlert(alert)
	}
}

func validateAlert(p alertPayload) error {
	if p.TileID == "" {
		return fmt.Errorf("missing tile_id")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", p.Confidence)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", p.Longitude)
	}
	switch domain.AlertSeverity(p.Severity) {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
		return nil
	default:
		return fmt.Errorf("unknown severity %q", p.Severity)
	}
}
