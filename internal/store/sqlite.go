package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/aegisfleet/sentinel/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite is the Store implementation backing production deployments,
// using the pure-Go modernc.org/sqlite driver so the binary stays
// cgo-free.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// runs every pending migration embedded in this package.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) SaveUAV(uav domain.UAV) error {
	_, err := s.db.Exec(`
		INSERT INTO uavs (id, name, lat, lon, alt, battery, status, mission_id, agent_mode, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, lat=excluded.lat, lon=excluded.lon, alt=excluded.alt,
			battery=excluded.battery, status=excluded.status, mission_id=excluded.mission_id,
			agent_mode=excluded.agent_mode, last_seen=excluded.last_seen`,
		uav.ID, uav.Name, uav.Position.Lat, uav.Position.Lon, uav.Position.Alt,
		uav.Battery, string(uav.Status), uav.MissionID, uav.AgentMode, uav.LastSeen)
	return err
}

func (s *SQLite) LoadUAVs(ctx context.Context) ([]domain.UAV, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, lat, lon, alt, battery, status, mission_id, agent_mode, last_seen FROM uavs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UAV
	for rows.Next() {
		var u domain.UAV
		var status string
		if err := rows.Scan(&u.ID, &u.Name, &u.Position.Lat, &u.Position.Lon, &u.Position.Alt,
			&u.Battery, &status, &u.MissionID, &u.AgentMode, &u.LastSeen); err != nil {
			return nil, err
		}
		u.Status = domain.UAVStatus(status)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveAlert(ctx context.Context, alert domain.Alert) error {
	meta, err := json.Marshal(alert.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, tile_id, event_type, confidence, severity, priority, lat, lon, status, metadata, demotions, created_at, arrival_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, priority=excluded.priority, demotions=excluded.demotions, metadata=excluded.metadata`,
		alert.ID, alert.TileID, alert.EventType, alert.Confidence, string(alert.Severity), alert.Priority,
		alert.Position.Lat, alert.Position.Lon, string(alert.Status), string(meta), alert.Demotions,
		alert.CreatedAt, alert.ArrivalSeq)
	return err
}

func (s *SQLite) LoadOpenAlerts(ctx context.Context) ([]domain.Alert, error) {
	openStatuses := []domain.AlertStatus{domain.AlertNew, domain.AlertQueued, domain.AlertAssigned, domain.AlertInvestigating}
	placeholders := make([]string, len(openStatuses))
	args := make([]any, len(openStatuses))
	for i, st := range openStatuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	query := fmt.Sprintf(`SELECT id, tile_id, event_type, confidence, severity, priority, lat, lon, status, metadata, demotions, created_at, arrival_seq
		FROM alerts WHERE status IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var severity, status, meta string
		if err := rows.Scan(&a.ID, &a.TileID, &a.EventType, &a.Confidence, &severity, &a.Priority,
			&a.Position.Lat, &a.Position.Lon, &status, &meta, &a.Demotions, &a.CreatedAt, &a.ArrivalSeq); err != nil {
			return nil, err
		}
		a.Severity = domain.AlertSeverity(severity)
		a.Status = domain.AlertStatus(status)
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveMission(ctx context.Context, mission domain.Mission) error {
	waypoints, err := json.Marshal(mission.Waypoints)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO missions (id, uav_id, tile_id, alert_id, priority, waypoints, status, created_at, started_at, ended_at, estimated_duration_ms, actual_duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, started_at=excluded.started_at, ended_at=excluded.ended_at,
			actual_duration_ms=excluded.actual_duration_ms`,
		mission.ID, mission.UAVID, mission.TileID, mission.AlertID, mission.Priority, string(waypoints),
		string(mission.Status), mission.CreatedAt, nullableTime(mission.StartedAt), nullableTime(mission.EndedAt),
		mission.EstimatedDuration.Milliseconds(), mission.ActualDuration.Milliseconds())
	return err
}

func (s *SQLite) LoadActiveMissions(ctx context.Context) ([]domain.Mission, error) {
	activeStatuses := []domain.MissionStatus{domain.MissionPending, domain.MissionAssigned, domain.MissionActive}
	placeholders := make([]string, len(activeStatuses))
	args := make([]any, len(activeStatuses))
	for i, st := range activeStatuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	query := fmt.Sprintf(`SELECT id, uav_id, tile_id, alert_id, priority, waypoints, status, created_at, estimated_duration_ms
		FROM missions WHERE status IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Mission
	for rows.Next() {
		var m domain.Mission
		var status, waypoints string
		var estimatedMS int64
		if err := rows.Scan(&m.ID, &m.UAVID, &m.TileID, &m.AlertID, &m.Priority, &waypoints, &status, &m.CreatedAt, &estimatedMS); err != nil {
			return nil, err
		}
		m.Status = domain.MissionStatus(status)
		m.EstimatedDuration = time.Duration(estimatedMS) * time.Millisecond
		if err := json.Unmarshal([]byte(waypoints), &m.Waypoints); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveDetection(ctx context.Context, d domain.Detection) error {
	var bx, by, bw, bh sql.NullFloat64
	if d.BBox != nil {
		bx = sql.NullFloat64{Float64: d.BBox.X, Valid: true}
		by = sql.NullFloat64{Float64: d.BBox.Y, Valid: true}
		bw = sql.NullFloat64{Float64: d.BBox.W, Valid: true}
		bh = sql.NullFloat64{Float64: d.BBox.H, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detections (id, uav_id, mission_id, class, confidence, lat, lon, bbox_x, bbox_y, bbox_w, bbox_h, evidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UAVID, d.MissionID, d.Class, d.Confidence, d.Position.Lat, d.Position.Lon, bx, by, bw, bh, d.Evidence, d.CreatedAt)
	return err
}

func (s *SQLite) SaveTelemetry(ctx context.Context, t domain.TelemetrySample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry_samples (uav_id, lat, lon, alt, battery, speed, heading, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UAVID, t.Lat, t.Lon, t.Alt, t.Battery, t.Speed, t.Heading, string(t.Status), t.Timestamp)
	return err
}

func (s *SQLite) SaveTile(ctx context.Context, tile domain.Tile) error {
	polygon, err := json.Marshal(tile.Polygon)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tiles (id, polygon, centroid_lat, centroid_lon, priority, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, priority=excluded.priority`,
		tile.ID, string(polygon), tile.Centroid.Lat, tile.Centroid.Lon, tile.Priority, string(tile.Status))
	return err
}

func (s *SQLite) LoadTiles(ctx context.Context) ([]domain.Tile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, polygon, centroid_lat, centroid_lon, priority, status FROM tiles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Tile
	for rows.Next() {
		var tile domain.Tile
		var polygon, status string
		if err := rows.Scan(&tile.ID, &polygon, &tile.Centroid.Lat, &tile.Centroid.Lon, &tile.Priority, &status); err != nil {
			return nil, err
		}
		tile.Status = domain.TileStatus(status)
		if err := json.Unmarshal([]byte(polygon), &tile.Polygon); err != nil {
			return nil, err
		}
		out = append(out, tile)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
