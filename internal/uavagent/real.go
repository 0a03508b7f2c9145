package uavagent

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/bus"
	"github.com/aegisfleet/sentinel/internal/domain"
	"github.com/aegisfleet/sentinel/internal/mavlink"
)

// Real drives a physical vehicle: bus commands become MAVLink command
// sequences, and the polled vehicle state becomes uav/<id>/telemetry
// publishes, so the ingest side sees real and simulated fleets
// identically.
type Real struct {
	id        string
	link      *mavlink.Client
	bus       bus.Bus
	logger    *zap.Logger
	missionID string
}

// NewReal builds a Real agent driving link under identifier id.
func NewReal(id string, link *mavlink.Client, b bus.Bus, logger *zap.Logger) *Real {
	return &Real{id: id, link: link, bus: b, logger: logger}
}

// ID implements Agent.
func (r *Real) ID() string { return r.id }

// OnMissionCommand implements Agent. A goto arms the vehicle if needed,
// takes off to the first waypoint's altitude, uploads the plan and
// switches to autonomous mission execution; return/land/abort map to
// RTL, LAND, and a loiter-in-place hold respectively.
func (r *Real) OnMissionCommand(ctx context.Context, cmd Command) {
	var err error
	switch cmd.Command {
	case "goto":
		r.missionID = cmd.MissionID
		err = r.flyMission(cmd.Waypoints)
	case "return":
		err = r.link.ReturnToLaunch()
	case "land":
		err = r.link.Land()
	case "abort":
		err = r.link.SetMode(mavlink.ModeAutoLoiter)
	}
	if err != nil {
		r.logger.Warn("vehicle command failed",
			zap.String("uav_id", r.id), zap.String("command", cmd.Command), zap.Error(err))
		r.publishStatus(ctx, false)
	}
}

func (r *Real) flyMission(waypoints []domain.Waypoint) error {
	if !r.link.Armed() {
		if err := r.link.Arm(); err != nil {
			return err
		}
		alt := 30.0
		if len(waypoints) > 0 && waypoints[0].Alt > 0 {
			alt = waypoints[0].Alt
		}
		if err := r.link.Takeoff(alt); err != nil {
			return err
		}
	}
	if err := r.link.UploadMission(waypoints); err != nil {
		return err
	}
	if err := r.link.SetMode(mavlink.ModeAutoMission); err != nil {
		return err
	}
	return r.link.StartMission(0)
}

// Tick implements Agent: republishes the vehicle's cached state on the
// bus each cadence.
func (r *Real) Tick(ctx context.Context, dt time.Duration) {
	connected := r.link.Connected()
	r.publishStatus(ctx, connected)
	if !connected {
		return
	}

	st := r.link.State()
	status := domain.UAVAvailable
	if r.link.Progress().Active {
		status = domain.UAVInMission
	}

	body, err := json.Marshal(telemetryPayload{
		UAVID: r.id, Latitude: st.Latitude, Longitude: st.Longitude, Altitude: st.Altitude,
		Battery: st.BatteryPercent, Speed: st.GroundSpeed, Heading: st.Heading,
		Status: string(status), Timestamp: st.LastUpdate,
	})
	if err != nil {
		r.logger.Warn("real telemetry marshal failed", zap.String("uav_id", r.id), zap.Error(err))
		return
	}
	publishBestEffort(ctx, r.bus, bus.UAVTelemetryTopic(r.id), body, r.logger)
}

func (r *Real) publishStatus(ctx context.Context, connected bool) {
	if connected {
		return // a connected vehicle's status rides on the telemetry payload's Status field
	}
	body, err := json.Marshal(statusPayload{UAVID: r.id, Status: "unreachable", Connected: false})
	if err != nil {
		return
	}
	publishBestEffort(ctx, r.bus, bus.UAVStatusTopic(r.id), body, r.logger)
}
