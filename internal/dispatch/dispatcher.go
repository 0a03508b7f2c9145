// Package dispatch implements the mission dispatcher: waypoint
// generation, command publication, and watchdog supervision for
// in-flight missions.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/bus"
	"github.com/aegisfleet/sentinel/internal/domain"
	"github.com/aegisfleet/sentinel/internal/geo"
	"github.com/aegisfleet/sentinel/internal/planner"
)

// MissionStore persists mission state transitions.
type MissionStore interface {
	SaveMission(ctx context.Context, mission domain.Mission) error
}

// AlertStore persists alert state transitions driven by mission
// outcomes (demotion, false-positive conversion).
type AlertStore interface {
	SaveAlert(ctx context.Context, alert domain.Alert) error
}

// UAVUpdater is the narrow registry contract the dispatcher needs to
// release a UAV back to available on mission completion/failure.
type UAVUpdater interface {
	Update(id string, mutate func(domain.UAV) (domain.UAV, bool)) (domain.UAV, error)
}

// Requeuer re-offers a demoted alert to the scheduling queue.
type Requeuer interface {
	Offer(alert domain.Alert) error
}

// Broadcaster is the fan-out sink for mission status
// transitions (assigned, active, completed, failed, aborted).
type Broadcaster interface {
	PublishMissionUpdate(mission domain.Mission)
}

// Config tunes dispatcher defaults.
type Config struct {
	CommandPublishTimeout  time.Duration
	MinWatchdog            time.Duration
	MaxWatchdog            time.Duration
	DefaultEstimate        time.Duration
	MaxDemotions           int
	CoverageRadiusMeters   float64
	CoverageSpacingMeters  float64
	ArrivalToleranceMeters float64
	TurnRadiusMeters       float64
	RouteCellMeters        float64
}

// DefaultConfig: 2s publish deadline, watchdog clamped to [60s, 2h],
// three demotions before an alert is written off, 25m arrival radius,
// 60m turning radius for approach smoothing.
func DefaultConfig() Config {
	return Config{
		CommandPublishTimeout:  2 * time.Second,
		MinWatchdog:            60 * time.Second,
		MaxWatchdog:            2 * time.Hour,
		DefaultEstimate:        10 * time.Minute,
		MaxDemotions:           3,
		CoverageRadiusMeters:   300,
		CoverageSpacingMeters:  50,
		ArrivalToleranceMeters: 25,
		TurnRadiusMeters:       60,
		RouteCellMeters:        50,
	}
}

// Dispatcher builds waypoints for a newly-assigned mission, publishes
// its command, and supervises completion via a watchdog timer.
type Dispatcher struct {
	cfg      Config
	bus      bus.Bus
	missions MissionStore
	alerts   AlertStore
	uavs     UAVUpdater
	queue    Requeuer
	bcast    Broadcaster
	logger   *zap.Logger

	mu        sync.Mutex
	watchdogs map[string]*time.Timer
	states    map[string]*missionState
	noFly     []planner.NoFlyZone

	activeMissions   prometheus.Gauge
	watchdogTimeouts prometheus.Counter
	alertDemotions   prometheus.Counter
}

// SetBroadcaster wires a fan-out sink; nil (the default) disables
// mission-channel broadcast without affecting dispatch or watchdogs.
func (d *Dispatcher) SetBroadcaster(b Broadcaster) { d.bcast = b }

// SetMetrics wires the dispatcher's collectors; any may be nil.
func (d *Dispatcher) SetMetrics(active prometheus.Gauge, watchdogs, demotions prometheus.Counter) {
	d.activeMissions = active
	d.watchdogTimeouts = watchdogs
	d.alertDemotions = demotions
}

// SetNoFlyZones installs the exclusion areas every transit leg must
// route around. Call before the first Dispatch; with none set, transit
// legs are smoothed with a curvature-bounded approach instead.
func (d *Dispatcher) SetNoFlyZones(zones []planner.NoFlyZone) { d.noFly = zones }

func (d *Dispatcher) notify(mission domain.Mission) {
	if d.bcast != nil {
		d.bcast.PublishMissionUpdate(mission)
	}
}

type missionState struct {
	mu             sync.Mutex
	mission        domain.Mission
	alert          domain.Alert
	abortRequested bool
}

// New builds a Dispatcher.
func New(cfg Config, b bus.Bus, missions MissionStore, alerts AlertStore, uavs UAVUpdater, queue Requeuer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		bus:       b,
		missions:  missions,
		alerts:    alerts,
		uavs:      uavs,
		queue:     queue,
		logger:    logger,
		watchdogs: make(map[string]*time.Timer),
		states:    make(map[string]*missionState),
	}
}

// commandPayload is the wire shape published on commands/<uav_id>.
type commandPayload struct {
	MissionID string            `json:"mission_id"`
	Command   string            `json:"command"`
	Waypoints []waypointPayload `json:"waypoints,omitempty"`
}

type waypointPayload struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Alt     float64 `json:"alt"`
	Speed   float64 `json:"speed,omitempty"`
	Heading float64 `json:"heading,omitempty"`
	Action  string  `json:"action,omitempty"`
}

// Dispatch builds waypoints for the mission, persists it, publishes the
// goto command on the UAV's command topic, and arms the watchdog. An
// infeasible route fails the mission immediately and sends the alert
// through the demotion path; the assignment is consumed either way.
func (d *Dispatcher) Dispatch(ctx context.Context, mission domain.Mission, alert domain.Alert, uav domain.UAV) error {
	waypoints, err := d.buildWaypoints(uav, alert)
	if err != nil {
		d.logger.Warn("no feasible route, failing mission",
			zap.String("mission_id", mission.ID), zap.String("uav_id", uav.ID), zap.Error(err))
		mission.Status = domain.MissionFailed
		mission.EndedAt = time.Now()
		if saveErr := d.missions.SaveMission(ctx, mission); saveErr != nil {
			d.logger.Warn("failed-mission persistence failed", zap.String("mission_id", mission.ID), zap.Error(saveErr))
		}
		d.notify(mission)
		d.releaseUAV(uav.ID)
		d.demoteAlert(ctx, alert)
		return nil
	}
	mission.Waypoints = waypoints
	mission.EstimatedDuration = estimateDuration(waypoints, d.cfg.DefaultEstimate)
	mission.Status = domain.MissionAssigned

	if err := d.missions.SaveMission(ctx, mission); err != nil {
		return domain.Transient("dispatch.Dispatch", err)
	}
	d.notify(mission)

	d.mu.Lock()
	d.states[mission.ID] = &missionState{mission: mission, alert: alert}
	d.mu.Unlock()

	payload := commandPayload{MissionID: mission.ID, Command: "goto", Waypoints: toWaypointPayloads(waypoints)}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ProtocolViolation("dispatch.Dispatch", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.cfg.CommandPublishTimeout)
	defer cancel()
	if err := d.bus.Publish(pubCtx, bus.UAVCommandTopic(uav.ID), body); err != nil {
		return domain.Transient("dispatch.Dispatch", err)
	}

	d.armWatchdog(mission)
	return nil
}

// buildWaypoints assembles the transit leg plus the event-appropriate
// coverage pattern over the alert position. With no-fly zones installed
// the transit leg routes around them on a grid; otherwise it is a
// curvature-bounded approach from the UAV's last known heading.
func (d *Dispatcher) buildWaypoints(uav domain.UAV, alert domain.Alert) ([]domain.Waypoint, error) {
	transit, err := d.transitLeg(uav, alert.Position)
	if err != nil {
		return nil, err
	}

	pattern := planner.SelectPattern(alert.EventType)
	points := planner.GenerateCoverage(alert.Position, pattern,
		planner.CoverageParams{RadiusMeters: d.cfg.CoverageRadiusMeters, SpacingMeters: d.cfg.CoverageSpacingMeters})

	waypoints := make([]domain.Waypoint, 0, len(transit)+len(points))
	for _, p := range transit {
		waypoints = append(waypoints, domain.Waypoint{Lat: p.Lat, Lon: p.Lon, Alt: uav.Position.Alt, Action: "goto"})
	}
	for _, p := range points {
		waypoints = append(waypoints, domain.Waypoint{Lat: p.Lat, Lon: p.Lon, Alt: uav.Position.Alt, Action: "scan"})
	}
	return waypoints, nil
}

// transitSampleCount is how many waypoints a smoothed approach leg is
// discretized into.
const transitSampleCount = 8

func (d *Dispatcher) transitLeg(uav domain.UAV, target domain.LatLon) ([]domain.LatLon, error) {
	from := domain.LatLon{Lat: uav.Position.Lat, Lon: uav.Position.Lon}

	if len(d.noFly) > 0 {
		leg, ok := planner.RouteAround(from, target, d.noFly, d.cfg.RouteCellMeters)
		if !ok {
			return nil, domain.Infeasible("dispatch.transitLeg",
				fmt.Errorf("no route around %d exclusion zones", len(d.noFly)))
		}
		return leg, nil
	}

	leg, ok := planner.SmoothApproach(from, uav.Heading, target, d.cfg.TurnRadiusMeters, transitSampleCount)
	if !ok {
		return nil, domain.Infeasible("dispatch.transitLeg", fmt.Errorf("no feasible approach curve"))
	}
	return leg, nil
}

// estimateDuration is a coarse estimate used only to size the
// watchdog: one tenth of perLeg for each waypoint (at least one) — real ETAs
// belong to a flight-planning concern outside this core's scope.
func estimateDuration(waypoints []domain.Waypoint, perLeg time.Duration) time.Duration {
	legs := len(waypoints)
	if legs == 0 {
		legs = 1
	}
	return time.Duration(legs) * (perLeg / 10)
}

func toWaypointPayloads(waypoints []domain.Waypoint) []waypointPayload {
	out := make([]waypointPayload, len(waypoints))
	for i, w := range waypoints {
		out[i] = waypointPayload{Lat: w.Lat, Lon: w.Lon, Alt: w.Alt, Speed: w.Speed, Heading: w.Heading, Action: w.Action}
	}
	return out
}

func (d *Dispatcher) armWatchdog(mission domain.Mission) {
	deadline := mission.EstimatedDuration * 2
	if deadline < d.cfg.MinWatchdog {
		deadline = d.cfg.MinWatchdog
	}
	if deadline > d.cfg.MaxWatchdog {
		deadline = d.cfg.MaxWatchdog
	}

	timer := time.AfterFunc(deadline, func() {
		d.onWatchdogFired(mission.ID)
	})

	d.mu.Lock()
	d.watchdogs[mission.ID] = timer
	d.mu.Unlock()
}

func (d *Dispatcher) cancelWatchdog(missionID string) {
	d.mu.Lock()
	timer, ok := d.watchdogs[missionID]
	delete(d.watchdogs, missionID)
	d.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

func (d *Dispatcher) onWatchdogFired(missionID string) {
	if d.watchdogTimeouts != nil {
		d.watchdogTimeouts.Inc()
	}
	d.logger.Warn("mission watchdog fired", zap.String("mission_id", missionID))
	d.Fail(context.Background(), missionID)
}

// Fail moves the mission to failed, releases its UAV, and demotes the
// triggering alert. Terminal missions are left untouched, so applying
// it after completion is a no-op. Used by the watchdog and by the fleet
// monitor on communication loss.
func (d *Dispatcher) Fail(ctx context.Context, missionID string) {
	state := d.getState(missionID)
	if state == nil {
		return
	}

	state.mu.Lock()
	if terminal(state.mission.Status) {
		state.mu.Unlock()
		return
	}
	wasActive := state.mission.Status == domain.MissionActive
	state.mission.Status = domain.MissionFailed
	state.mission.EndedAt = time.Now()
	mission := state.mission
	alert := state.alert
	state.mu.Unlock()

	d.cancelWatchdog(missionID)
	if wasActive && d.activeMissions != nil {
		d.activeMissions.Dec()
	}
	if err := d.missions.SaveMission(ctx, mission); err != nil {
		d.logger.Warn("failed-mission persistence failed", zap.String("mission_id", missionID), zap.Error(err))
	}
	d.notify(mission)
	d.releaseUAV(mission.UAVID)
	d.demoteAlert(ctx, alert)
}

func terminal(s domain.MissionStatus) bool {
	return s == domain.MissionCompleted || s == domain.MissionFailed || s == domain.MissionAborted
}

func (d *Dispatcher) getState(missionID string) *missionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[missionID]
}

func (d *Dispatcher) releaseUAV(uavID string) {
	if uavID == "" {
		return
	}
	if _, err := d.uavs.Update(uavID, func(u domain.UAV) (domain.UAV, bool) {
		u.Status = domain.UAVAvailable
		u.MissionID = ""
		return u, true
	}); err != nil {
		d.logger.Warn("uav release failed", zap.String("uav_id", uavID), zap.Error(err))
	}
}

// demoteAlert increments the alert's demotion counter and requeues it,
// or converts it to false_positive once MaxDemotions is reached.
func (d *Dispatcher) demoteAlert(ctx context.Context, alert domain.Alert) {
	alert.Demotions++
	if d.alertDemotions != nil {
		d.alertDemotions.Inc()
	}
	if alert.Demotions >= d.cfg.MaxDemotions {
		alert.Status = domain.AlertFalsePositive
	} else {
		alert.Status = domain.AlertQueued
	}

	if err := d.alerts.SaveAlert(ctx, alert); err != nil {
		d.logger.Warn("demoted alert persistence failed", zap.String("alert_id", alert.ID), zap.Error(err))
	}
	if alert.Status == domain.AlertQueued {
		if err := d.queue.Offer(alert); err != nil {
			d.logger.Warn("demoted alert requeue failed", zap.String("alert_id", alert.ID), zap.Error(err))
		}
	}
}

// OnTelemetry applies mission state transitions driven by the assigned
// UAV's reported state: assigned moves to active on the first
// in_mission report, and active moves to completed once the UAV is back
// to available having reached the mission's final waypoint.
func (d *Dispatcher) OnTelemetry(ctx context.Context, missionID string, uavStatus domain.UAVStatus, pos domain.Position) {
	state := d.getState(missionID)
	if state == nil {
		return
	}

	state.mu.Lock()
	prev := state.mission.Status
	changed := false
	switch {
	case state.abortRequested && uavStatus == domain.UAVAvailable:
		state.mission.Status = domain.MissionAborted
		state.mission.EndedAt = time.Now()
		changed = true
	case state.mission.Status == domain.MissionAssigned && uavStatus == domain.UAVInMission:
		state.mission.Status = domain.MissionActive
		state.mission.StartedAt = time.Now()
		changed = true
	case state.mission.Status == domain.MissionActive && uavStatus == domain.UAVAvailable &&
		d.atFinalWaypoint(state.mission, pos):
		state.mission.Status = domain.MissionCompleted
		state.mission.EndedAt = time.Now()
		state.mission.ActualDuration = state.mission.EndedAt.Sub(state.mission.StartedAt)
		changed = true
	}
	mission := state.mission
	state.mu.Unlock()

	if !changed {
		return
	}
	if err := d.missions.SaveMission(ctx, mission); err != nil {
		d.logger.Warn("mission transition persistence failed", zap.String("mission_id", missionID), zap.Error(err))
	}
	d.notify(mission)
	if d.activeMissions != nil {
		if mission.Status == domain.MissionActive {
			d.activeMissions.Inc()
		} else if prev == domain.MissionActive {
			d.activeMissions.Dec()
		}
	}
	if mission.Status == domain.MissionCompleted || mission.Status == domain.MissionAborted {
		d.cancelWatchdog(missionID)
		d.releaseUAV(mission.UAVID)
	}
}

// atFinalWaypoint reports whether pos is within the arrival tolerance of
// the mission's last waypoint.
func (d *Dispatcher) atFinalWaypoint(mission domain.Mission, pos domain.Position) bool {
	if len(mission.Waypoints) == 0 {
		return true
	}
	last := mission.Waypoints[len(mission.Waypoints)-1]
	return geo.HaversineMeters(pos.Lat, pos.Lon, last.Lat, last.Lon) <= d.cfg.ArrivalToleranceMeters
}

// CompleteExplicit applies an explicit completion event; applying it
// twice leaves the mission completed with no further side effects.
func (d *Dispatcher) CompleteExplicit(ctx context.Context, missionID string) error {
	state := d.getState(missionID)
	if state == nil {
		return domain.StateInvariant("dispatch.CompleteExplicit", fmt.Errorf("unknown mission: %s", missionID))
	}

	state.mu.Lock()
	if state.mission.Status == domain.MissionCompleted {
		state.mu.Unlock()
		return nil
	}
	wasActive := state.mission.Status == domain.MissionActive
	state.mission.Status = domain.MissionCompleted
	state.mission.EndedAt = time.Now()
	mission := state.mission
	state.mu.Unlock()

	d.cancelWatchdog(missionID)
	if wasActive && d.activeMissions != nil {
		d.activeMissions.Dec()
	}
	if err := d.missions.SaveMission(ctx, mission); err != nil {
		return domain.Transient("dispatch.CompleteExplicit", err)
	}
	d.notify(mission)
	d.releaseUAV(mission.UAVID)
	return nil
}

// Abort cancels a mission by operator command: publishes a return/land
// command to the assigned UAV. The mission is marked aborted only once
// OnTelemetry observes the UAV back at status available, not at the
// moment the command is sent.
func (d *Dispatcher) Abort(ctx context.Context, missionID, command string) error {
	state := d.getState(missionID)
	if state == nil {
		return domain.StateInvariant("dispatch.Abort", fmt.Errorf("unknown mission: %s", missionID))
	}

	state.mu.Lock()
	uavID := state.mission.UAVID
	state.abortRequested = true
	state.mu.Unlock()

	body, err := json.Marshal(commandPayload{MissionID: missionID, Command: command})
	if err != nil {
		return domain.ProtocolViolation("dispatch.Abort", err)
	}
	pubCtx, cancel := context.WithTimeout(ctx, d.cfg.CommandPublishTimeout)
	defer cancel()
	if err := d.bus.Publish(pubCtx, bus.UAVCommandTopic(uavID), body); err != nil {
		return domain.Transient("dispatch.Abort", err)
	}
	return nil
}
