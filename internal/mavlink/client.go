// Package mavlink drives a real vehicle over a MAVLink 2 serial link.
// It keeps the last-received vehicle state cached for the agent layer to
// poll, runs the ground-station heartbeat the autopilot's link-loss
// supervision expects, and exposes the narrow command set the fleet
// needs: arm, takeoff, mode changes, mission upload/start, land, RTL.
package mavlink

import (
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"go.uber.org/zap"
)

const (
	// gcsSystemID identifies this process on the link; 255 is the
	// conventional ground-control-station ID.
	gcsSystemID = 255

	// heartbeatTimeout is how long the vehicle may go silent before
	// Connected reports false.
	heartbeatTimeout = 3 * time.Second
)

// PX4 packs a flight mode into MAVLink's custom_mode field as
// main_mode | sub_mode<<16. Only the AUTO sub-modes the fleet commands
// are named here.
const (
	mainModeAuto uint32 = 4

	ModeAutoLoiter  = mainModeAuto | 3<<16
	ModeAutoMission = mainModeAuto | 4<<16
	ModeAutoRTL     = mainModeAuto | 5<<16
	ModeAutoLand    = mainModeAuto | 6<<16
)

// VehicleState is the cached snapshot of the vehicle's last-reported
// position, velocity, battery and mode.
type VehicleState struct {
	Latitude  float64 // degrees
	Longitude float64 // degrees
	Altitude  float64 // meters MSL

	VelocityNorth float64 // m/s
	VelocityEast  float64 // m/s
	VelocityDown  float64 // m/s

	Heading     float64 // degrees
	GroundSpeed float64 // m/s
	ClimbRate   float64 // m/s

	BatteryVoltage float64 // volts
	BatteryPercent float64 // 0-100, -1 when the autopilot does not estimate it

	SensorsHealthy bool

	CustomMode uint32
	BaseMode   uint8

	LastUpdate time.Time
}

// Config names the serial endpoint of one vehicle.
type Config struct {
	Port     string
	BaudRate int
}

// Client is one vehicle's MAVLink session. All exported methods are safe
// for concurrent use.
type Client struct {
	node   *gomavlib.Node
	logger *zap.Logger

	mu            sync.RWMutex
	systemID      uint8
	connected     bool
	armed         bool
	lastHeartbeat time.Time
	state         VehicleState
	upload        *uploadState
	progress      MissionProgress

	stopGCS chan struct{}
	gcsDone chan struct{}
}

// Dial opens the serial endpoint and starts the read and ground-station
// loops. The returned Client is not yet connected; WaitForHeartbeat
// blocks until the vehicle is heard from.
func Dial(cfg Config, logger *zap.Logger) (*Client, error) {
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointSerial{Device: cfg.Port, Baud: cfg.BaudRate},
		},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: gcsSystemID,
	})
	if err != nil {
		return nil, fmt.Errorf("open mavlink endpoint %s: %w", cfg.Port, err)
	}

	c := &Client{
		node:    node,
		logger:  logger,
		stopGCS: make(chan struct{}),
		gcsDone: make(chan struct{}),
	}
	go c.readLoop()
	go c.groundStationLoop()
	return c, nil
}

// groundStationLoop announces this process as a GCS once a second and
// feeds the vehicle wall-clock time for GPS warm starts. PX4 drops into
// its link-loss failsafe without the heartbeat.
func (c *Client) groundStationLoop() {
	defer close(c.gcsDone)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopGCS:
			return
		case <-ticker.C:
			err := c.node.WriteMessageAll(&common.MessageHeartbeat{
				Type:           common.MAV_TYPE_GCS,
				Autopilot:      common.MAV_AUTOPILOT_INVALID,
				SystemStatus:   common.MAV_STATE_ACTIVE,
				MavlinkVersion: 3,
			})
			if err != nil {
				c.logger.Warn("gcs heartbeat send failed", zap.Error(err))
				continue
			}

			now := time.Now()
			if err := c.node.WriteMessageAll(&common.MessageSystemTime{
				TimeUnixUsec: uint64(now.UnixMicro()),
				TimeBootMs:   uint32(now.UnixMilli() % (1 << 32)),
			}); err != nil {
				c.logger.Warn("system time send failed", zap.Error(err))
			}
		}
	}
}

func (c *Client) readLoop() {
	for evt := range c.node.Events() {
		frm, ok := evt.(*gomavlib.EventFrame)
		if !ok {
			continue
		}
		c.dispatch(frm.Message(), frm.SystemID())
	}
}

func (c *Client) dispatch(msg message.Message, sysID uint8) {
	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		c.onHeartbeat(m, sysID)
	case *common.MessageGlobalPositionInt:
		c.onGlobalPosition(m)
	case *common.MessageVfrHud:
		c.onVfrHud(m)
	case *common.MessageSysStatus:
		c.onSysStatus(m)
	case *common.MessageStatustext:
		c.logger.Info("vehicle status text", zap.Uint8("severity", uint8(m.Severity)), zap.String("text", m.Text))
	case *common.MessageCommandAck:
		c.onCommandAck(m)
	case *common.MessageMissionRequest:
		c.onMissionRequest(int(m.Seq))
	case *common.MessageMissionRequestInt:
		c.onMissionRequest(int(m.Seq))
	case *common.MessageMissionAck:
		c.onMissionAck(m)
	case *common.MessageMissionCurrent:
		c.onMissionCurrent(m)
	case *common.MessageMissionItemReached:
		c.logger.Debug("waypoint reached", zap.Uint16("seq", m.Seq))
	}
}

func (c *Client) onHeartbeat(msg *common.MessageHeartbeat, sysID uint8) {
	c.mu.Lock()
	firstContact := !c.connected
	c.connected = true
	c.systemID = sysID
	c.lastHeartbeat = time.Now()

	armedNow := msg.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
	armedChanged := armedNow != c.armed
	c.armed = armedNow

	c.state.CustomMode = msg.CustomMode
	c.state.BaseMode = uint8(msg.BaseMode)
	c.mu.Unlock()

	if firstContact {
		c.logger.Info("vehicle link established", zap.Uint8("system_id", sysID))
	}
	if armedChanged {
		c.logger.Info("vehicle armed state changed", zap.Bool("armed", armedNow))
	}
}

func (c *Client) onGlobalPosition(msg *common.MessageGlobalPositionInt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Latitude = float64(msg.Lat) / 1e7
	c.state.Longitude = float64(msg.Lon) / 1e7
	c.state.Altitude = float64(msg.Alt) / 1000
	c.state.VelocityNorth = float64(msg.Vx) / 100
	c.state.VelocityEast = float64(msg.Vy) / 100
	c.state.VelocityDown = float64(msg.Vz) / 100
	c.state.LastUpdate = time.Now()
}

func (c *Client) onVfrHud(msg *common.MessageVfrHud) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Heading = float64(msg.Heading)
	c.state.GroundSpeed = float64(msg.Groundspeed)
	c.state.ClimbRate = float64(msg.Climb)
	c.state.LastUpdate = time.Now()
}

func (c *Client) onSysStatus(msg *common.MessageSysStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.BatteryVoltage = float64(msg.VoltageBattery) / 1000
	c.state.BatteryPercent = float64(msg.BatteryRemaining)
	c.state.SensorsHealthy = msg.OnboardControlSensorsHealth&msg.OnboardControlSensorsEnabled == msg.OnboardControlSensorsEnabled
	c.state.LastUpdate = time.Now()
}

func (c *Client) onCommandAck(msg *common.MessageCommandAck) {
	if msg.Result == common.MAV_RESULT_ACCEPTED {
		c.logger.Debug("command accepted", zap.Int("command", int(msg.Command)))
		return
	}
	c.logger.Warn("command rejected",
		zap.Int("command", int(msg.Command)), zap.Int("result", int(msg.Result)))
}

// State returns the last-cached vehicle state.
func (c *Client) State() VehicleState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connected reports whether a vehicle heartbeat was heard within the
// liveness window.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && time.Since(c.lastHeartbeat) <= heartbeatTimeout
}

// Armed reports the vehicle's last-known armed state.
func (c *Client) Armed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.armed
}

// WaitForHeartbeat blocks until the vehicle is heard from, then requests
// its telemetry streams. It fails after timeout.
func (c *Client) WaitForHeartbeat(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for !c.Connected() {
		if time.Now().After(deadline) {
			return fmt.Errorf("no vehicle heartbeat within %s", timeout)
		}
		<-ticker.C
	}

	if err := c.requestStreams(); err != nil {
		// The vehicle may already be streaming; a lost request only
		// delays telemetry until its next scheduled burst.
		c.logger.Warn("telemetry stream request failed", zap.Error(err))
	}
	return nil
}

// requestStreams asks the vehicle to stream all telemetry at 10 Hz.
func (c *Client) requestStreams() error {
	return c.node.WriteMessageAll(&common.MessageRequestDataStream{
		TargetSystem:    c.targetSystem(),
		TargetComponent: 1,
		ReqStreamId:     uint8(common.MAV_DATA_STREAM_ALL),
		ReqMessageRate:  10,
		StartStop:       1,
	})
}

func (c *Client) targetSystem() uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.systemID
}

// commandLong sends a MAV_CMD_* with up to seven params to the vehicle.
func (c *Client) commandLong(cmd common.MAV_CMD, params ...float32) error {
	if !c.Connected() {
		return fmt.Errorf("vehicle not connected")
	}
	msg := &common.MessageCommandLong{
		TargetSystem:    c.targetSystem(),
		TargetComponent: 1,
		Command:         cmd,
	}
	p := make([]float32, 7)
	copy(p, params)
	msg.Param1, msg.Param2, msg.Param3, msg.Param4 = p[0], p[1], p[2], p[3]
	msg.Param5, msg.Param6, msg.Param7 = p[4], p[5], p[6]
	return c.node.WriteMessageAll(msg)
}

// Arm spins up the vehicle's motors.
func (c *Client) Arm() error {
	return c.commandLong(common.MAV_CMD_COMPONENT_ARM_DISARM, 1)
}

// Disarm stops the motors. The vehicle must be landed.
func (c *Client) Disarm() error {
	return c.commandLong(common.MAV_CMD_COMPONENT_ARM_DISARM, 0)
}

// Takeoff climbs to the given altitude above the launch point.
func (c *Client) Takeoff(altitudeMeters float64) error {
	return c.commandLong(common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, float32(altitudeMeters))
}

// Land descends at the current position.
func (c *Client) Land() error {
	return c.commandLong(common.MAV_CMD_NAV_LAND)
}

// ReturnToLaunch flies back to the launch point and lands.
func (c *Client) ReturnToLaunch() error {
	return c.commandLong(common.MAV_CMD_NAV_RETURN_TO_LAUNCH)
}

// SetMode switches the vehicle's flight mode; mode is one of the
// ModeAuto* values above.
func (c *Client) SetMode(mode uint32) error {
	return c.commandLong(common.MAV_CMD_DO_SET_MODE,
		float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), float32(mode))
}

// Close stops the ground-station loop and releases the serial endpoint.
func (c *Client) Close() error {
	close(c.stopGCS)
	select {
	case <-c.gcsDone:
	case <-time.After(2 * time.Second):
		c.logger.Warn("ground station loop did not stop in time")
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.node.Close()
	return nil
}
