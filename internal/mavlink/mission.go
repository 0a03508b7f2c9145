package mavlink

import (
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/domain"
)

const (
	// missionUploadTimeout bounds the request/item handshake for a full
	// mission transfer.
	missionUploadTimeout = 30 * time.Second

	// acceptanceRadiusMeters is applied to every uploaded item;
	// domain.Waypoint carries no per-waypoint radius.
	acceptanceRadiusMeters = 5
)

// MissionProgress reports how far the vehicle is through its uploaded
// mission.
type MissionProgress struct {
	CurrentWaypoint int
	TotalWaypoints  int
	Active          bool
}

// uploadState tracks one in-flight mission transfer. The vehicle pulls
// items one at a time with MISSION_REQUEST(_INT) and finishes the
// exchange with MISSION_ACK.
type uploadState struct {
	waypoints []domain.Waypoint
	result    chan error
}

// Progress returns the vehicle's mission progress as of the last
// MISSION_CURRENT message.
func (c *Client) Progress() MissionProgress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress
}

// UploadMission transfers waypoints to the vehicle and blocks until the
// vehicle acknowledges the full mission or the exchange times out.
func (c *Client) UploadMission(waypoints []domain.Waypoint) error {
	if !c.Connected() {
		return fmt.Errorf("vehicle not connected")
	}
	if len(waypoints) == 0 {
		return fmt.Errorf("empty mission")
	}

	c.mu.Lock()
	if c.upload != nil {
		c.mu.Unlock()
		return fmt.Errorf("mission upload already in progress")
	}
	up := &uploadState{waypoints: waypoints, result: make(chan error, 1)}
	c.upload = up
	c.progress = MissionProgress{TotalWaypoints: len(waypoints)}
	c.mu.Unlock()

	c.logger.Info("mission upload starting", zap.Int("waypoints", len(waypoints)))

	err := c.node.WriteMessageAll(&common.MessageMissionCount{
		TargetSystem:    c.targetSystem(),
		TargetComponent: 1,
		Count:           uint16(len(waypoints)),
	})
	if err != nil {
		c.clearUpload()
		return fmt.Errorf("send mission count: %w", err)
	}

	select {
	case err := <-up.result:
		return err
	case <-time.After(missionUploadTimeout):
		c.clearUpload()
		return fmt.Errorf("mission upload timed out after %s", missionUploadTimeout)
	}
}

func (c *Client) clearUpload() {
	c.mu.Lock()
	c.upload = nil
	c.mu.Unlock()
}

// StartMission begins execution at the given waypoint index.
func (c *Client) StartMission(index int) error {
	if !c.Connected() {
		return fmt.Errorf("vehicle not connected")
	}
	return c.node.WriteMessageAll(&common.MessageMissionSetCurrent{
		TargetSystem:    c.targetSystem(),
		TargetComponent: 1,
		Seq:             uint16(index),
	})
}

// ClearMission removes any mission stored on the vehicle.
func (c *Client) ClearMission() error {
	if !c.Connected() {
		return fmt.Errorf("vehicle not connected")
	}
	return c.node.WriteMessageAll(&common.MessageMissionClearAll{
		TargetSystem:    c.targetSystem(),
		TargetComponent: 1,
	})
}

func (c *Client) onMissionRequest(seq int) {
	c.mu.RLock()
	up := c.upload
	c.mu.RUnlock()
	if up == nil {
		c.logger.Debug("unsolicited mission request", zap.Int("seq", seq))
		return
	}
	if seq >= len(up.waypoints) {
		c.logger.Warn("mission request out of range", zap.Int("seq", seq), zap.Int("total", len(up.waypoints)))
		return
	}

	if err := c.sendMissionItem(seq, up.waypoints[seq]); err != nil {
		c.logger.Warn("mission item send failed", zap.Int("seq", seq), zap.Error(err))
		up.result <- fmt.Errorf("send mission item %d: %w", seq, err)
		c.clearUpload()
	}
}

func (c *Client) onMissionAck(msg *common.MessageMissionAck) {
	c.mu.Lock()
	up := c.upload
	c.upload = nil
	c.mu.Unlock()
	if up == nil {
		return
	}

	if msg.Type == common.MAV_MISSION_ACCEPTED {
		c.logger.Info("mission upload accepted")
		up.result <- nil
		return
	}
	up.result <- fmt.Errorf("vehicle rejected mission: %d", msg.Type)
}

func (c *Client) onMissionCurrent(msg *common.MessageMissionCurrent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress.CurrentWaypoint = int(msg.Seq)
	c.progress.Active = true
}

func (c *Client) sendMissionItem(seq int, wp domain.Waypoint) error {
	return c.node.WriteMessageAll(&common.MessageMissionItemInt{
		TargetSystem:    c.targetSystem(),
		TargetComponent: 1,
		Seq:             uint16(seq),
		Frame:           common.MAV_FRAME_GLOBAL_RELATIVE_ALT,
		Command:         actionCommand(wp.Action),
		Autocontinue:    1,
		Param2:          acceptanceRadiusMeters,
		Param4:          float32(wp.Heading),
		X:               int32(wp.Lat * 1e7),
		Y:               int32(wp.Lon * 1e7),
		Z:               float32(wp.Alt),
	})
}

// actionCommand maps a waypoint action token to its MAVLink mission
// item command.
func actionCommand(action string) common.MAV_CMD {
	switch action {
	case "takeoff":
		return common.MAV_CMD_NAV_TAKEOFF
	case "land":
		return common.MAV_CMD_NAV_LAND
	case "loiter":
		return common.MAV_CMD_NAV_LOITER_UNLIM
	case "scan":
		return common.MAV_CMD_NAV_LOITER_TIME
	default:
		return common.MAV_CMD_NAV_WAYPOINT
	}
}
