// Package uavagent implements the UAV agent contract: the
// vehicle-side counterpart to the dispatcher, selected at startup between
// a simulated motion model and a real MAVLink-backed vehicle, per the
// capability set in the design notes (connect, tick, onCommand,
// publishTelemetry, publishStatus) rather than a runtime class hierarchy.
package uavagent

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/bus"
	"github.com/aegisfleet/sentinel/internal/domain"
)

// Command is the decoded shape of a commands/<uav_id> message.
type Command struct {
	MissionID string            `json:"mission_id"`
	Command   string            `json:"command"` // goto | return | land | abort
	Waypoints []domain.Waypoint `json:"waypoints,omitempty"`
}

// Agent is the shared contract both the simulated and MAVLink-backed
// vehicle drivers satisfy. The dispatcher and telemetry ingestor never
// see a concrete implementation, only this interface.
type Agent interface {
	// ID returns the UAV identifier this agent drives.
	ID() string
	// OnMissionCommand begins executing cmd; implementations return
	// once the command has been accepted, not once it completes.
	OnMissionCommand(ctx context.Context, cmd Command)
	// Tick advances the agent's internal state by dt and publishes
	// whatever telemetry/status/detection events that produces.
	Tick(ctx context.Context, dt time.Duration)
}

// commandPayload mirrors dispatch.commandPayload; decoded independently
// here since uavagent must not import the dispatch package (the agent is
// a downstream consumer of commands, not a collaborator of the
// dispatcher's internals).
type commandPayload struct {
	MissionID string                `json:"mission_id"`
	Command   string                `json:"command"`
	Waypoints []waypointWirePayload `json:"waypoints,omitempty"`
}

type waypointWirePayload struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Alt     float64 `json:"alt"`
	Speed   float64 `json:"speed,omitempty"`
	Heading float64 `json:"heading,omitempty"`
	Action  string  `json:"action,omitempty"`
}

func decodeCommand(payload []byte) (Command, error) {
	var p commandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Command{}, err
	}
	cmd := Command{MissionID: p.MissionID, Command: p.Command}
	if len(p.Waypoints) > 0 {
		cmd.Waypoints = make([]domain.Waypoint, len(p.Waypoints))
		for i, w := range p.Waypoints {
			cmd.Waypoints[i] = domain.Waypoint{Lat: w.Lat, Lon: w.Lon, Alt: w.Alt, Speed: w.Speed, Heading: w.Heading, Action: w.Action}
		}
	}
	return cmd, nil
}

// Subscribe wires agent to commands/<uav_id> on b, decoding and
// forwarding every payload to OnMissionCommand. It logs and drops
// malformed payloads rather than failing the subscription.
func Subscribe(ctx context.Context, b bus.Bus, agent Agent, logger *zap.Logger) (func(), error) {
	topic := bus.UAVCommandTopic(agent.ID())
	return b.Subscribe(ctx, topic, func(ctx context.Context, msg bus.Message) {
		cmd, err := decodeCommand(msg.Payload)
		if err != nil {
			logger.Warn("malformed mission command", zap.String("uav_id", agent.ID()), zap.Error(err))
			return
		}
		agent.OnMissionCommand(ctx, cmd)
	})
}

// RunTicker calls agent.Tick every interval until ctx is cancelled.
func RunTicker(ctx context.Context, agent Agent, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			agent.Tick(ctx, interval)
		}
	}
}
