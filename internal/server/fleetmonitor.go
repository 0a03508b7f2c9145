package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/domain"
)

// StartFleetMonitor sweeps the registry on cfg.Fleet.MonitorInterval
// until ctx is cancelled. A UAV silent past the communication timeout is
// quarantined as unreachable and its mission failed; an idle UAV below
// the low-battery threshold is sent to charge. Both transitions are
// surfaced to interactive clients on the system channel.
func (d *Dependencies) StartFleetMonitor(ctx context.Context) {
	interval := d.Config.Fleet.MonitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.sweepFleet(ctx, now)
		}
	}
}

func (d *Dependencies) sweepFleet(ctx context.Context, now time.Time) {
	commTimeout := d.Config.Fleet.CommTimeout
	lowBattery := d.Config.Fleet.LowBattery

	for _, uav := range d.Registry.Snapshot() {
		switch {
		case commTimeout > 0 && uav.Status != domain.UAVUnreachable &&
			!uav.LastSeen.IsZero() && now.Sub(uav.LastSeen) > commTimeout:
			d.quarantineUAV(ctx, uav)

		case lowBattery > 0 && uav.Status == domain.UAVAvailable && uav.Battery < lowBattery:
			d.sendToCharge(uav)
		}
	}
}

// quarantineUAV marks the UAV unreachable and fails whatever mission it
// was flying; the triggering alert goes back through the demotion path.
func (d *Dependencies) quarantineUAV(ctx context.Context, uav domain.UAV) {
	missionID := ""
	if _, err := d.Registry.Update(uav.ID, func(u domain.UAV) (domain.UAV, bool) {
		missionID = u.MissionID
		u.Status = domain.UAVUnreachable
		u.MissionID = ""
		return u, true
	}); err != nil {
		d.Logger.Warn("quarantine update failed", zap.String("uav_id", uav.ID), zap.Error(err))
		return
	}

	d.Logger.Warn("uav unreachable, quarantining",
		zap.String("uav_id", uav.ID), zap.Time("last_seen", uav.LastSeen))
	d.Hub.PublishSystemStatus(fmt.Sprintf("uav %s unreachable, quarantined", uav.ID))

	if missionID != "" {
		d.Dispatch.Fail(ctx, missionID)
	}
}

func (d *Dependencies) sendToCharge(uav domain.UAV) {
	if _, err := d.Registry.Update(uav.ID, func(u domain.UAV) (domain.UAV, bool) {
		if u.Status != domain.UAVAvailable {
			return u, false
		}
		u.Status = domain.UAVCharging
		return u, true
	}); err != nil {
		d.Logger.Warn("charge transition failed", zap.String("uav_id", uav.ID), zap.Error(err))
		return
	}

	d.Logger.Info("uav battery low, sending to charge",
		zap.String("uav_id", uav.ID), zap.Float64("battery", uav.Battery))
	d.Hub.PublishSystemStatus(fmt.Sprintf("uav %s battery low, charging", uav.ID))
}
