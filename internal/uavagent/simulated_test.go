package uavagent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/bus"
	"github.com/aegisfleet/sentinel/internal/domain"
)

func subscribeCollect(t *testing.T, b bus.Bus, topic string) *[]bus.Message {
	t.Helper()
	var mu sync.Mutex
	var got []bus.Message
	_, err := b.Subscribe(context.Background(), topic, func(ctx context.Context, m bus.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	require.NoError(t, err)
	return &got
}

func TestSimulatedOnGotoCommandTransitionsToInMission(t *testing.T) {
	b := bus.NewLocal()
	agent := NewSimulated("u1", domain.Position{Lat: 37.77, Lon: -122.41, Alt: 50}, DefaultSimulatedConfig(), b, zap.NewNop())
	statuses := subscribeCollect(t, b, bus.UAVStatusTopic("u1"))

	agent.OnMissionCommand(context.Background(), Command{
		MissionID: "m1",
		Command:   "goto",
		Waypoints: []domain.Waypoint{{Lat: 37.78, Lon: -122.42, Alt: 60}},
	})

	require.Len(t, *statuses, 1)
	var payload statusPayload
	require.NoError(t, json.Unmarshal((*statuses)[0].Payload, &payload))
	assert.Equal(t, string(domain.UAVInMission), payload.Status)
}

func TestSimulatedTickDrainsBatteryAndAdvancesPosition(t *testing.T) {
	b := bus.NewLocal()
	home := domain.Position{Lat: 0, Lon: 0, Alt: 0}
	cfg := DefaultSimulatedConfig()
	agent := NewSimulated("u2", home, cfg, b, zap.NewNop())

	agent.OnMissionCommand(context.Background(), Command{
		MissionID: "m2",
		Command:   "goto",
		Waypoints: []domain.Waypoint{{Lat: 1.0, Lon: 0, Alt: 0}},
	})

	batteryBefore := agent.battery
	agent.Tick(context.Background(), 10*time.Second)

	assert.Less(t, agent.battery, batteryBefore, "battery should drain while in mission")
	assert.NotEqual(t, home, agent.position, "position should move toward the waypoint")
}

func TestSimulatedReturnsToAvailableAfterFinalWaypoint(t *testing.T) {
	b := bus.NewLocal()
	home := domain.Position{Lat: 10, Lon: 10, Alt: 0}
	cfg := DefaultSimulatedConfig()
	cfg.DetectionProbability = 0 // deterministic: no synthetic detections
	agent := NewSimulated("u3", home, cfg, b, zap.NewNop())

	// Target within arrival tolerance of home so a single tick completes it.
	agent.OnMissionCommand(context.Background(), Command{
		MissionID: "m3",
		Command:   "goto",
		Waypoints: []domain.Waypoint{{Lat: 10.0, Lon: 10.0, Alt: 0}},
	})

	agent.Tick(context.Background(), time.Second)

	agent.mu.Lock()
	defer agent.mu.Unlock()
	assert.Equal(t, domain.UAVAvailable, agent.status)
	assert.Empty(t, agent.waypoints)
}

func TestSimulatedAbortClearsMissionImmediately(t *testing.T) {
	b := bus.NewLocal()
	agent := NewSimulated("u4", domain.Position{Lat: 1, Lon: 1}, DefaultSimulatedConfig(), b, zap.NewNop())

	agent.OnMissionCommand(context.Background(), Command{
		MissionID: "m4", Command: "goto",
		Waypoints: []domain.Waypoint{{Lat: 2, Lon: 2}},
	})
	agent.OnMissionCommand(context.Background(), Command{Command: "abort"})

	agent.mu.Lock()
	defer agent.mu.Unlock()
	assert.Equal(t, domain.UAVAvailable, agent.status)
	assert.Empty(t, agent.missionID)
	assert.Empty(t, agent.waypoints)
}

func TestSimulatedChargesWhenIdleAndLow(t *testing.T) {
	b := bus.NewLocal()
	cfg := DefaultSimulatedConfig()
	agent := NewSimulated("u5", domain.Position{Lat: 1, Lon: 1}, cfg, b, zap.NewNop())
	agent.battery = cfg.LowBatteryPct - 5

	agent.Tick(context.Background(), time.Second)

	agent.mu.Lock()
	status := agent.status
	agent.mu.Unlock()
	assert.Equal(t, domain.UAVCharging, status)

	// Enough simulated hours on the pad brings it back to available at full.
	agent.Tick(context.Background(), 2*time.Hour)

	agent.mu.Lock()
	defer agent.mu.Unlock()
	assert.Equal(t, domain.UAVAvailable, agent.status)
	assert.Equal(t, 100.0, agent.battery)
}

func TestDecodeCommandRejectsMalformedPayload(t *testing.T) {
	_, err := decodeCommand([]byte("{not json"))
	assert.Error(t, err)
}

func TestDecodeCommandParsesWaypoints(t *testing.T) {
	raw := []byte(`{"mission_id":"m5","command":"goto","waypoints":[{"lat":1,"lon":2,"alt":3,"speed":4,"heading":5,"action":"scan"}]}`)
	cmd, err := decodeCommand(raw)
	require.NoError(t, err)
	assert.Equal(t, "m5", cmd.MissionID)
	require.Len(t, cmd.Waypoints, 1)
	assert.Equal(t, domain.Waypoint{Lat: 1, Lon: 2, Alt: 3, Speed: 4, Heading: 5, Action: "scan"}, cmd.Waypoints[0])
}
