// Package store persists fleet state to SQLite so the registry, alert
// queue, and mission dispatcher can rebuild their in-memory state after
// a restart instead of starting fleet-blind.
package store

import (
	"context"

	"github.com/aegisfleet/sentinel/internal/domain"
)

// UAVStore persists the fleet roster.
type UAVStore interface {
	SaveUAV(uav domain.UAV) error
	LoadUAVs(ctx context.Context) ([]domain.UAV, error)
}

// AlertStore persists alerts and backs alert-queue recovery on startup.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert domain.Alert) error
	LoadOpenAlerts(ctx context.Context) ([]domain.Alert, error)
}

// MissionStore persists missions for audit and recovery.
type MissionStore interface {
	SaveMission(ctx context.Context, mission domain.Mission) error
	LoadActiveMissions(ctx context.Context) ([]domain.Mission, error)
}

// DetectionStore persists the append-only detection log.
type DetectionStore interface {
	SaveDetection(ctx context.Context, d domain.Detection) error
}

// TelemetryStore persists the append-only telemetry log.
type TelemetryStore interface {
	SaveTelemetry(ctx context.Context, t domain.TelemetrySample) error
}

// TileStore persists the monitored-area tile grid.
type TileStore interface {
	SaveTile(ctx context.Context, tile domain.Tile) error
	LoadTiles(ctx context.Context) ([]domain.Tile, error)
}

// Store aggregates every repository the rest of the system depends on,
// implemented together by SQLite so they share one connection pool and
// one migration run.
type Store interface {
	UAVStore
	AlertStore
	MissionStore
	DetectionStore
	TelemetryStore
	TileStore
	Close() error
}
