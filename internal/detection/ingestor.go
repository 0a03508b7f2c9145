// Package detection implements the detection ingestor: it validates,
// persists, and forwards edge-inference detections, gating broadcast on
// a confidence floor.
package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/bus"
	"github.com/aegisfleet/sentinel/internal/domain"
)

// Store persists every validated detection, broadcast or not.
type Store interface {
	SaveDetection(ctx context.Context, d domain.Detection) error
}

// Tracker is the Kalman tracker's observation sink.
type Tracker interface {
	Observe(x, y float64, at time.Time, idPrefix string) string
}

// Broadcaster is the fan-out forwarding sink; only detections at or
// above the confidence floor reach it.
type Broadcaster interface {
	PublishDetection(d domain.Detection)
}

// MissionLookup resolves a UAV's current mission, if any, so the
// detection can be associated with it.
type MissionLookup interface {
	Get(id string) (domain.UAV, bool)
}

// IDGenerator produces detection identifiers.
type IDGenerator func() string

// Config tunes the broadcast confidence floor.
type Config struct {
	BroadcastConfidenceFloor float64
}

// DefaultConfig broadcasts detections at confidence 0.5 and above.
func DefaultConfig() Config { return Config{BroadcastConfidenceFloor: 0.5} }

type payload struct {
	UAVID       string    `json:"uav_id"`
	MissionID   string    `json:"mission_id"`
	ObjectClass string    `json:"object_class"`
	Confidence  float64   `json:"confidence"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	BBox        *bboxDTO  `json:"bbox"`
	Timestamp   time.Time `json:"timestamp"`
}

type bboxDTO struct {
	X, Y, W, H float64
}

// Ingestor owns the detections/inference-results subscription.
type Ingestor struct {
	cfg      Config
	store    Store
	tracker  Tracker
	bcast    Broadcaster
	uavs     MissionLookup
	genID    IDGenerator
	logger   *zap.Logger
	ingested *prometheus.CounterVec
}

// New builds an Ingestor.
func New(cfg Config, store Store, tracker Tracker, bcast Broadcaster, uavs MissionLookup, genID IDGenerator, logger *zap.Logger) *Ingestor {
	return &Ingestor{cfg: cfg, store: store, tracker: tracker, bcast: bcast, uavs: uavs, genID: genID, logger: logger}
}

// SetMetrics wires the per-class ingest counter; may be nil.
func (ing *Ingestor) SetMetrics(ingested *prometheus.CounterVec) { ing.ingested = ingested }

// Start subscribes to both detection topics and returns a combined
// unsubscribe function.
func (ing *Ingestor) Start(ctx context.Context, b bus.Bus) (func(), error) {
	unsubA, err := b.Subscribe(ctx, bus.TopicDetections, ing.handle)
	if err != nil {
		return nil, err
	}
	unsubB, err := b.Subscribe(ctx, bus.TopicInferenceResults, ing.handle)
	if err != nil {
		unsubA()
		return nil, err
	}
	return func() { unsubA(); unsubB() }, nil
}

func (ing *Ingestor) handle(ctx context.Context, msg bus.Message) {
	var p payload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		ing.logger.Warn("malformed detection payload", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	if err := validate(p); err != nil {
		ing.logger.Warn("detection failed validation", zap.String("uav_id", p.UAVID), zap.Error(err))
		return
	}

	missionID := p.MissionID
	if missionID == "" && ing.uavs != nil {
		if uav, ok := ing.uavs.Get(p.UAVID); ok {
			missionID = uav.MissionID
		}
	}

	det := domain.Detection{
		ID:         ing.genID(),
		UAVID:      p.UAVID,
		MissionID:  missionID,
		Class:      p.ObjectClass,
		Confidence: p.Confidence,
		Position:   domain.LatLon{Lat: p.Latitude, Lon: p.Longitude},
		CreatedAt:  p.Timestamp,
	}
	if p.BBox != nil {
		det.BBox = &domain.BBox{X: p.BBox.X, Y: p.BBox.Y, W: p.BBox.W, H: p.BBox.H}
	}

	if err := ing.store.SaveDetection(ctx, det); err != nil {
		ing.logger.Warn("detection persistence failed", zap.String("detection_id", det.ID), zap.Error(err))
	}
	if ing.ingested != nil {
		ing.ingested.WithLabelValues(det.Class).Inc()
	}

	if ing.tracker != nil {
		ing.tracker.Observe(det.Position.Lat, det.Position.Lon, det.CreatedAt, det.UAVID)
	}

	if det.Confidence >= ing.cfg.BroadcastConfidenceFloor && ing.bcast != nil {
		ing.bcast.PublishDetection(det)
	}
}

// validate applies the ingest range checks: confidence in [0,1],
// coordinates within the Earth.
func validate(p payload) error {
	if p.UAVID == "" {
		return fmt.Errorf("missing uav_id")
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
	return nil
}
