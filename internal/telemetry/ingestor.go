// Package telemetry implements the telemetry ingestor: it
// subscribes to every UAV's telemetry topic, applies per-UAV monotonic
// ordering and rate limiting, updates the registry, and notifies the
// dispatcher of waypoint arrivals.
package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/bus"
	"github.com/aegisfleet/sentinel/internal/domain"
)

// RegistryUpdater is the narrow registry contract the ingestor needs.
type RegistryUpdater interface {
	Update(id string, mutate func(domain.UAV) (domain.UAV, bool)) (domain.UAV, error)
	Get(id string) (domain.UAV, bool)
}

// Store persists each applied sample, optionally ring-buffered by the
// implementation.
type Store interface {
	SaveTelemetry(ctx context.Context, sample domain.TelemetrySample) error
}

// ArrivalNotifier is the dispatch handoff: called whenever a sample
// updates a UAV with an active mission. The dispatcher owns the
// mission's waypoints, so it decides what the reported position means.
type ArrivalNotifier interface {
	OnTelemetry(ctx context.Context, missionID string, uavStatus domain.UAVStatus, pos domain.Position)
}

// Broadcaster is the fan-out sink for every applied sample.
type Broadcaster interface {
	PublishTelemetry(t domain.TelemetrySample)
}

// Config tunes the ingestor's per-UAV rate limit.
type Config struct {
	RateLimitHz float64
}

// DefaultConfig coalesces each UAV's stream to 10 Hz.
func DefaultConfig() Config {
	return Config{RateLimitHz: 10}
}

type payload struct {
	UAVID     string    `json:"uav_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
	Battery   float64   `json:"battery"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type uavState struct {
	lastApplied time.Time
	nextAllowed time.Time
}

// Ingestor owns the subscription and per-UAV ordering/rate-limit state.
type Ingestor struct {
	cfg      Config
	registry RegistryUpdater
	store    Store
	dispatch ArrivalNotifier
	bcast    Broadcaster
	logger   *zap.Logger

	mu     sync.Mutex
	states map[string]*uavState
}

// New builds an Ingestor.
func New(cfg Config, registry RegistryUpdater, store Store, dispatch ArrivalNotifier, logger *zap.Logger) *Ingestor {
	return &Ingestor{cfg: cfg, registry: registry, store: store, dispatch: dispatch, logger: logger, states: make(map[string]*uavState)}
}

// SetBroadcaster wires a fan-out sink; nil (the default) disables
// telemetry broadcast without affecting registry updates or dispatch
// notification.
func (ing *Ingestor) SetBroadcaster(b Broadcaster) { ing.bcast = b }

// Start subscribes to every UAV's telemetry and connectivity-status
// topics and returns a combined unsubscribe func.
func (ing *Ingestor) Start(ctx context.Context, b bus.Bus) (func(), error) {
	unsubTel, err := b.Subscribe(ctx, bus.UAVTelemetryPattern, ing.handle)
	if err != nil {
		return nil, err
	}
	unsubStatus, err := b.Subscribe(ctx, bus.UAVStatusPattern, ing.handleStatus)
	if err != nil {
		unsubTel()
		return nil, err
	}
	return func() { unsubTel(); unsubStatus() }, nil
}

type statusPayload struct {
	UAVID     string `json:"uav_id"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// handleStatus applies agent-reported connectivity: a disconnected
// report quarantines the UAV immediately rather than waiting for the
// fleet monitor's communication timeout to elapse.
func (ing *Ingestor) handleStatus(ctx context.Context, msg bus.Message) {
	var p statusPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		ing.logger.Warn("malformed status payload", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	if p.UAVID == "" || p.Connected {
		return
	}

	if _, err := ing.registry.Update(p.UAVID, func(u domain.UAV) (domain.UAV, bool) {
		if u.Status == domain.UAVUnreachable {
			return u, false
		}
		u.Status = domain.UAVUnreachable
		return u, true
	}); err != nil {
		return // already unreachable, or unknown UAV
	}
	ing.logger.Warn("uav reported disconnected", zap.String("uav_id", p.UAVID))
}

func (ing *Ingestor) handle(ctx context.Context, msg bus.Message) {
	var p payload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		ing.logger.Warn("malformed telemetry payload", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	if p.UAVID == "" {
		ing.logger.Warn("telemetry payload missing uav_id", zap.String("topic", msg.Topic))
		return
	}

	if !ing.admit(p.UAVID, p.Timestamp) {
		return
	}

	if _, ok := ing.registry.Get(p.UAVID); !ok {
		ing.logger.Warn("telemetry for unknown uav", zap.String("uav_id", p.UAVID))
		return
	}

	updated, err := ing.registry.Update(p.UAVID, func(u domain.UAV) (domain.UAV, bool) {
		u.Position = domain.Position{Lat: p.Latitude, Lon: p.Longitude, Alt: p.Altitude}
		u.Heading = p.Heading
		u.Battery = p.Battery
		u.LastSeen = p.Timestamp
		if p.Status != "" {
			u.Status = domain.UAVStatus(p.Status)
		}
		return u, true
	})
	if err != nil {
		ing.logger.Warn("registry update failed", zap.String("uav_id", p.UAVID), zap.Error(err))
		return
	}

	sample := domain.TelemetrySample{
		UAVID: p.UAVID, Lat: p.Latitude, Lon: p.Longitude, Alt: p.Altitude,
		Battery: p.Battery, Speed: p.Speed, Heading: p.Heading,
		Status: updated.Status, Timestamp: p.Timestamp,
	}
	if ing.store != nil {
		if err := ing.store.SaveTelemetry(ctx, sample); err != nil {
			ing.logger.Warn("telemetry persistence failed", zap.String("uav_id", p.UAVID), zap.Error(err))
		}
	}
	if ing.bcast != nil {
		ing.bcast.PublishTelemetry(sample)
	}

	if updated.HasActiveMission() && ing.dispatch != nil {
		ing.dispatch.OnTelemetry(ctx, updated.MissionID, updated.Status, updated.Position)
	}
}

// admit applies the per-UAV monotonic-timestamp and rate-limit rules,
// reporting whether the sample should be applied.
func (ing *Ingestor) admit(uavID string, ts time.Time) bool {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	st, ok := ing.states[uavID]
	if !ok {
		st = &uavState{}
		ing.states[uavID] = st
	}

	if !st.lastApplied.IsZero() && !ts.After(st.lastApplied) {
		return false
	}
	if ing.cfg.RateLimitHz > 0 && ts.Before(st.nextAllowed) {
		return false
	}

	st.lastApplied = ts
	if ing.cfg.RateLimitHz > 0 {
		st.nextAllowed = ts.Add(time.Duration(float64(time.Second) / ing.cfg.RateLimitHz))
	}
	return true
}
