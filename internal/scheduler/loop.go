// Package scheduler runs the periodic alert-to-UAV matching loop: the
// single place in the system that both reads the alert queue and
// mutates UAV assignment state in the same pass.
package scheduler

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/alertqueue"
	"github.com/aegisfleet/sentinel/internal/domain"
	"github.com/aegisfleet/sentinel/internal/geo"
	"github.com/aegisfleet/sentinel/internal/registry"
)

// Dispatcher is the narrow handoff contract the dispatcher satisfies:
// given a
// freshly-created mission shell, its triggering alert, and the
// assigned UAV, build waypoints and publish the command.
type Dispatcher interface {
	Dispatch(ctx context.Context, mission domain.Mission, alert domain.Alert, uav domain.UAV) error
}

// AlertStore is the narrow persistence contract used for alert status
// transitions and TTL expiry.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert domain.Alert) error
}

// MissionStore persists the mission shell the scheduler creates.
type MissionStore interface {
	SaveMission(ctx context.Context, mission domain.Mission) error
}

// IDGenerator produces new identifiers; satisfied by uuid.NewString.
type IDGenerator func() string

// Broadcaster is the fan-out sink for alert status transitions
// this loop drives (queued, assigned, expired).
type Broadcaster interface {
	PublishAlert(alert domain.Alert)
}

// Config tunes the scheduler's timing and matching thresholds.
type Config struct {
	TickInterval     time.Duration
	FastPathSeverity domain.AlertSeverity
	PollBatch        int
	MinBattery       float64
	AlertTTL         time.Duration
}

// DefaultConfig: 60s tick, batch of 32, battery
// floor 30, 30 minute TTL, fast-path on severity >= high.
func DefaultConfig() Config {
	return Config{
		TickInterval:     60 * time.Second,
		FastPathSeverity: domain.SeverityHigh,
		PollBatch:        32,
		MinBattery:       30,
		AlertTTL:         30 * time.Minute,
	}
}

// Scheduler owns the matching loop.
type Scheduler struct {
	cfg        Config
	queue      *alertqueue.Queue
	registry   *registry.Registry
	tiles      *registry.TileIndex
	alerts     AlertStore
	missions   MissionStore
	dispatcher Dispatcher
	bcast      Broadcaster
	logger     *zap.Logger
	genID      IDGenerator
	now        func() time.Time

	running int32
	nudge   chan struct{}
	stop    chan struct{}
	done    chan struct{}

	tickDuration prometheus.Observer
	queueDepth   prometheus.Gauge
}

// New builds a Scheduler. now defaults to time.Now if nil, useful for
// deterministic tests.
func New(cfg Config, queue *alertqueue.Queue, reg *registry.Registry, tiles *registry.TileIndex,
	alerts AlertStore, missions MissionStore, dispatcher Dispatcher, genID IDGenerator, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		queue:      queue,
		registry:   reg,
		tiles:      tiles,
		alerts:     alerts,
		missions:   missions,
		dispatcher: dispatcher,
		genID:      genID,
		logger:     logger,
		now:        time.Now,
		nudge:      make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// SetBroadcaster wires a fan-out sink; nil (the default) disables
// alert-channel broadcast without affecting matching or dispatch.
func (s *Scheduler) SetBroadcaster(b Broadcaster) { s.bcast = b }

// SetMetrics wires the loop's collectors; either may be nil.
func (s *Scheduler) SetMetrics(tickDuration prometheus.Observer, queueDepth prometheus.Gauge) {
	s.tickDuration = tickDuration
	s.queueDepth = queueDepth
}

// NotifyAlert wakes the loop early when the fast-path severity
// threshold is met; it never blocks the caller.
func (s *Scheduler) NotifyAlert(alert domain.Alert) {
	if !severityAtLeast(alert.Severity, s.cfg.FastPathSeverity) {
		return
	}
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Run blocks, ticking on cfg.TickInterval and on NotifyAlert, until ctx
// is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.runTick(ctx)
		case <-s.nudge:
			s.runTick(ctx)
		}
	}
}

// Stop requests the loop to exit and waits for the current tick (if
// any) to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// runTick enforces the single-runner invariant: a tick in progress
// causes a concurrent trigger to be dropped rather than queued, since
// the next regular tick (or nudge) will pick up whatever this tick
// misses.
func (s *Scheduler) runTick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	if s.tickDuration != nil {
		start := s.now()
		defer func() { s.tickDuration.Observe(s.now().Sub(start).Seconds()) }()
	}
	if s.queueDepth != nil {
		defer func() { s.queueDepth.Set(float64(s.queue.Len())) }()
	}

	s.expireStaleAlerts(ctx)

	alerts := s.queue.Poll(s.cfg.PollBatch)
	if len(alerts) == 0 {
		return
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].Priority > alerts[j].Priority })

	candidates := s.registry.Candidates(func(u domain.UAV) bool {
		return u.Status == domain.UAVAvailable && u.Battery >= s.cfg.MinBattery
	})

	var requeue []domain.Alert
	for _, alert := range alerts {
		assigned := false
		for len(candidates) > 0 {
			uav, ok := s.selectUAV(alert, candidates)
			if !ok {
				break
			}
			// Win or lose, this UAV is out of the running for the rest
			// of the tick: claimed on success, stale or unreachable on
			// failure.
			candidates = removeUAV(candidates, uav.ID)

			err := s.assign(ctx, alert, uav)
			if err == nil {
				assigned = true
				break
			}
			s.logger.Warn("assignment failed, retrying with next candidate",
				zap.String("alert_id", alert.ID), zap.String("uav_id", uav.ID), zap.Error(err))
		}
		if !assigned {
			alert.Status = domain.AlertQueued
			requeue = append(requeue, alert)
		}
	}

	for _, alert := range requeue {
		if err := s.queue.Offer(alert); err != nil {
			s.logger.Warn("requeue rejected, alert queue full", zap.String("alert_id", alert.ID), zap.Error(err))
			continue
		}
		s.notify(alert)
	}
}

// selectUAV picks the nearest eligible candidate by great-circle
// distance to alert.Position, breaking ties by higher battery then
// lower UAV ID.
func (s *Scheduler) selectUAV(alert domain.Alert, candidates []domain.UAV) (domain.UAV, bool) {
	var best domain.UAV
	var bestDist float64
	found := false

	for _, u := range candidates {
		d := geo.HaversineMeters(alert.Position.Lat, alert.Position.Lon, u.Position.Lat, u.Position.Lon)
		switch {
		case !found:
			best, bestDist, found = u, d, true
		case d < bestDist:
			best, bestDist = u, d
		case d == bestDist && u.Battery > best.Battery:
			best = u
		case d == bestDist && u.Battery == best.Battery && u.ID < best.ID:
			best = u
		}
	}
	return best, found
}

// assign claims the UAV under its registry lock, creates the mission
// shell, and hands off to the dispatcher. The claim re-checks
// availability: the UAV may have gone elsewhere since the snapshot. A
// returned error always leaves the alert unassigned — a failed claim
// touches nothing, and a failed dispatch is rolled back — so the caller
// may immediately retry with its next-best candidate.
func (s *Scheduler) assign(ctx context.Context, alert domain.Alert, uav domain.UAV) error {
	missionID := s.genID()
	assigned, err := s.registry.Update(uav.ID, func(u domain.UAV) (domain.UAV, bool) {
		if u.Status != domain.UAVAvailable {
			return u, false
		}
		u.Status = domain.UAVAssigned
		u.MissionID = missionID
		return u, true
	})
	if err != nil {
		return err
	}

	mission := domain.Mission{
		ID:        missionID,
		UAVID:     assigned.ID,
		TileID:    alert.TileID,
		AlertID:   alert.ID,
		Priority:  alert.Priority,
		Status:    domain.MissionAssigned,
		CreatedAt: s.now(),
	}
	if err := s.missions.SaveMission(ctx, mission); err != nil {
		s.logger.Warn("mission persistence failed", zap.String("mission_id", mission.ID), zap.Error(err))
	}

	alert.Status = domain.AlertAssigned
	if err := s.alerts.SaveAlert(ctx, alert); err != nil {
		s.logger.Warn("alert persistence failed", zap.String("alert_id", alert.ID), zap.Error(err))
	}
	s.notify(alert)
	if s.tiles != nil {
		s.tiles.SetStatus(alert.TileID, domain.TileInvestigating)
	}

	if err := s.dispatcher.Dispatch(ctx, mission, alert, assigned); err != nil {
		s.rollbackClaim(ctx, mission, assigned.ID)
		alert.Status = domain.AlertQueued
		if saveErr := s.alerts.SaveAlert(ctx, alert); saveErr != nil {
			s.logger.Warn("alert persistence failed", zap.String("alert_id", alert.ID), zap.Error(saveErr))
		}
		return err
	}
	return nil
}

// rollbackClaim undoes a claim whose dispatch never went out: the UAV
// returns to available (only if it still carries this mission) and the
// mission record is closed out as failed.
func (s *Scheduler) rollbackClaim(ctx context.Context, mission domain.Mission, uavID string) {
	if _, err := s.registry.Update(uavID, func(u domain.UAV) (domain.UAV, bool) {
		if u.MissionID != mission.ID {
			return u, false
		}
		u.Status = domain.UAVAvailable
		u.MissionID = ""
		return u, true
	}); err != nil {
		s.logger.Warn("claim rollback failed", zap.String("uav_id", uavID), zap.Error(err))
	}

	mission.Status = domain.MissionFailed
	mission.EndedAt = s.now()
	if err := s.missions.SaveMission(ctx, mission); err != nil {
		s.logger.Warn("rolled-back mission persistence failed", zap.String("mission_id", mission.ID), zap.Error(err))
	}
}

func (s *Scheduler) expireStaleAlerts(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.AlertTTL)
	for _, alert := range s.queue.Snapshot() {
		if alert.CreatedAt.Before(cutoff) {
			s.queue.Remove(alert.ID)
			alert.Status = domain.AlertExpired
			if err := s.alerts.SaveAlert(ctx, alert); err != nil {
				s.logger.Warn("expired-alert persistence failed", zap.String("alert_id", alert.ID), zap.Error(err))
			}
			s.notify(alert)
		}
	}
}

func (s *Scheduler) notify(alert domain.Alert) {
	if s.bcast != nil {
		s.bcast.PublishAlert(alert)
	}
}

func removeUAV(uavs []domain.UAV, id string) []domain.UAV {
	out := make([]domain.UAV, 0, len(uavs))
	for _, u := range uavs {
		if u.ID != id {
			out = append(out, u)
		}
	}
	return out
}

var severityRank = map[domain.AlertSeverity]int{
	domain.SeverityLow:      0,
	domain.SeverityMedium:   1,
	domain.SeverityHigh:     2,
	domain.SeverityCritical: 3,
}

func severityAtLeast(sev, threshold domain.AlertSeverity) bool {
	return severityRank[sev] >= severityRank[threshold]
}
