package uavagent

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/bus"
	"github.com/aegisfleet/sentinel/internal/domain"
	"github.com/aegisfleet/sentinel/internal/geo"
)

// SimulatedConfig tunes the motion model of a Simulated agent.
type SimulatedConfig struct {
	CruiseSpeedMPS       float64 // default waypoint transit speed
	BatteryDrainPerHour  float64 // percentage points drained per hour in flight
	ChargeRatePerHour    float64 // percentage points recovered per hour on the pad
	LowBatteryPct        float64 // below this an idle agent parks itself on the charger
	ArrivalToleranceM    float64 // distance under which a waypoint is considered reached
	DetectionProbability float64 // chance of emitting a synthetic detection on each waypoint arrival
	DetectionClass       string
}

// DefaultSimulatedConfig matches a modest quadrotor profile: 12 m/s
// cruise, a battery that would run flat in about 40 minutes of
// continuous flight and recharge in about an hour, and a 25m arrival
// tolerance matching the dispatcher's default.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		CruiseSpeedMPS:       12,
		BatteryDrainPerHour:  150, // percent/hour -> ~40 min flight time
		ChargeRatePerHour:    100,
		LowBatteryPct:        20,
		ArrivalToleranceM:    25,
		DetectionProbability: 0.35,
		DetectionClass:       "unclassified_object",
	}
}

// Simulated is a software-only UAV agent: it linearly interpolates
// toward the next commanded waypoint, drains battery proportionally to
// flight time, and publishes telemetry/status/detection events over the
// bus exactly as a real vehicle driver would, so the rest of the system
// cannot distinguish a simulated fleet from a real one.
type Simulated struct {
	id     string
	cfg    SimulatedConfig
	bus    bus.Bus
	logger *zap.Logger
	rng    *rand.Rand

	mu        sync.Mutex
	position  domain.Position
	battery   float64
	status    domain.UAVStatus
	missionID string
	waypoints []domain.Waypoint
	wpIndex   int
	speed     float64
}

// NewSimulated builds a Simulated agent starting at home with a full
// battery and status=available.
func NewSimulated(id string, home domain.Position, cfg SimulatedConfig, b bus.Bus, logger *zap.Logger) *Simulated {
	return &Simulated{
		id:       id,
		cfg:      cfg,
		bus:      b,
		logger:   logger,
		rng:      rand.New(rand.NewSource(seedFor(id))),
		position: home,
		battery:  100,
		status:   domain.UAVAvailable,
	}
}

func seedFor(id string) int64 {
	var h int64 = 1469598103934665603
	for _, c := range id {
		h ^= int64(c)
		h *= 1099511628211
	}
	return h
}

// ID implements Agent.
func (s *Simulated) ID() string { return s.id }

// OnMissionCommand implements Agent: goto arms a flight plan, return/land
// head home (or simply hover-then-land in place, since a simulated agent
// has no real launch site concept beyond its recorded home), abort stops
// in place and reports available.
func (s *Simulated) OnMissionCommand(ctx context.Context, cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Command {
	case "goto":
		s.missionID = cmd.MissionID
		s.waypoints = cmd.Waypoints
		s.wpIndex = 0
		s.status = domain.UAVInMission
		s.speed = s.cfg.CruiseSpeedMPS
	case "return", "land":
		s.waypoints = nil
		s.wpIndex = 0
		s.status = domain.UAVReturning
	case "abort":
		s.waypoints = nil
		s.wpIndex = 0
		s.missionID = ""
		s.status = domain.UAVAvailable
	}
	s.publishStatusLocked(ctx)
}

// Tick implements Agent: advances position toward the current waypoint
// at cruise speed, drains battery for the elapsed flight time, and
// publishes telemetry. On arrival at the final waypoint the agent
// returns to available and may emit a synthetic detection.
func (s *Simulated) Tick(ctx context.Context, dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flying := s.status == domain.UAVInMission || s.status == domain.UAVReturning
	if flying {
		s.battery -= s.cfg.BatteryDrainPerHour * dt.Hours()
		if s.battery < 0 {
			s.battery = 0
		}
	}

	if len(s.waypoints) > 0 && s.wpIndex < len(s.waypoints) {
		s.advanceTowardWaypoint(ctx, dt)
	} else if s.status == domain.UAVReturning {
		s.status = domain.UAVAvailable
	}

	s.chargeIfNeeded(dt)
	s.publishTelemetryLocked(ctx)
}

// chargeIfNeeded models the pad: an idle agent below the low-battery
// threshold reports charging and recovers until full.
func (s *Simulated) chargeIfNeeded(dt time.Duration) {
	if s.status == domain.UAVAvailable && s.battery < s.cfg.LowBatteryPct {
		s.status = domain.UAVCharging
	}
	if s.status != domain.UAVCharging {
		return
	}
	s.battery += s.cfg.ChargeRatePerHour * dt.Hours()
	if s.battery >= 100 {
		s.battery = 100
		s.status = domain.UAVAvailable
	}
}

func (s *Simulated) advanceTowardWaypoint(ctx context.Context, dt time.Duration) {
	target := s.waypoints[s.wpIndex]
	dist := geo.HaversineMeters(s.position.Lat, s.position.Lon, target.Lat, target.Lon)

	if dist <= s.cfg.ArrivalToleranceM {
		s.onWaypointArrival(ctx, target)
		return
	}

	bearing := geo.BearingDegrees(s.position.Lat, s.position.Lon, target.Lat, target.Lon)
	step := s.speed * dt.Seconds()
	if step > dist {
		step = dist
	}
	rad := bearing * (math.Pi / 180)
	dNorth := step * math.Cos(rad)
	dEast := step * math.Sin(rad)
	lat, lon := geo.OffsetLatLon(s.position.Lat, s.position.Lon, dNorth, dEast)
	s.position = domain.Position{Lat: lat, Lon: lon, Alt: target.Alt}
}

func (s *Simulated) onWaypointArrival(ctx context.Context, wp domain.Waypoint) {
	s.position = domain.Position{Lat: wp.Lat, Lon: wp.Lon, Alt: wp.Alt}
	s.wpIndex++

	if s.rng.Float64() < s.cfg.DetectionProbability {
		s.publishDetectionLocked(ctx, wp)
	}

	if s.wpIndex >= len(s.waypoints) {
		s.waypoints = nil
		s.wpIndex = 0
		s.status = domain.UAVAvailable
	}
}

func (s *Simulated) publishTelemetryLocked(ctx context.Context) {
	sample := telemetryPayload{
		UAVID: s.id, Latitude: s.position.Lat, Longitude: s.position.Lon, Altitude: s.position.Alt,
		Battery: s.battery, Speed: s.speed, Status: string(s.status), Timestamp: time.Now(),
	}
	body, err := json.Marshal(sample)
	if err != nil {
		s.logger.Warn("simulated telemetry marshal failed", zap.String("uav_id", s.id), zap.Error(err))
		return
	}
	publishBestEffort(ctx, s.bus, bus.UAVTelemetryTopic(s.id), body, s.logger)
}

func (s *Simulated) publishStatusLocked(ctx context.Context) {
	body, err := json.Marshal(statusPayload{UAVID: s.id, Status: string(s.status), Connected: true})
	if err != nil {
		return
	}
	publishBestEffort(ctx, s.bus, bus.UAVStatusTopic(s.id), body, s.logger)
}

func (s *Simulated) publishDetectionLocked(ctx context.Context, wp domain.Waypoint) {
	body, err := json.Marshal(detectionPayload{
		UAVID: s.id, MissionID: s.missionID, ObjectClass: s.cfg.DetectionClass,
		Confidence: 0.4 + s.rng.Float64()*0.55, Latitude: wp.Lat, Longitude: wp.Lon, Timestamp: time.Now(),
	})
	if err != nil {
		return
	}
	publishBestEffort(ctx, s.bus, bus.TopicDetections, body, s.logger)
}

func publishBestEffort(ctx context.Context, b bus.Bus, topic string, body []byte, logger *zap.Logger) {
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := b.Publish(pubCtx, topic, body); err != nil {
		logger.Warn("agent publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

type telemetryPayload struct {
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

type statusPayload struct {
	UAVID     string `json:"uav_id"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

type detectionPayload struct {
	UAVID       string    `json:"uav_id"`
	MissionID   string    `json:"mission_id,omitempty"`
	ObjectClass string    `json:"object_class"`
	Confidence  float64   `json:"confidence"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Timestamp   time.Time `json:"timestamp"`
}
