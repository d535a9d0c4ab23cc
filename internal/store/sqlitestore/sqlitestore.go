// Package sqlitestore is the durable store.TripStore/DetectionStore/
// ClusterStore adapter backed by a pure-Go SQLite driver, with schema
// managed by embedded golang-migrate migrations.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relabs-tech/roadsense/internal/roughness"
	"github.com/relabs-tech/roadsense/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// wallTimeLayout is a fixed-width UTC layout, so that the text order of
// stored wall_time values is their chronological order.
const wallTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps a *sql.DB opened against a SQLite file, implementing the
// store interfaces.
type DB struct {
	*sql.DB
}

// applyPragmas sets the WAL/synchronous/timeout PRAGMAs every connection
// needs for reasonable concurrent read/write behavior on a single file.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return nil
}

// Open opens (creating if necessary) a SQLite database at path, applies
// pragmas, and runs any pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db := &DB{sqlDB}

	if err := applyPragmas(sqlDB); err != nil {
		db.Close()
		return nil, err
	}

	if err := db.migrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return db, nil
}

// PutTrip replaces any previously stored detections/segments for the
// same trip ID within a single transaction, implementing idempotent
// re-ingest.
func (db *DB) PutTrip(ctx context.Context, trip store.TripRecord, detections []store.DetectionRecord, segments []roughness.Segment) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trips (trip_id, user_id, ingested_at, detection_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(trip_id) DO UPDATE SET
			user_id = excluded.user_id,
			ingested_at = excluded.ingested_at,
			detection_count = excluded.detection_count
	`, trip.TripID, trip.UserID, trip.IngestedAt.UTC().Format(time.RFC3339Nano), trip.DetectionCount)
	if err != nil {
		return fmt.Errorf("upsert trip: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM detections WHERE trip_id = ?`, trip.TripID); err != nil {
		return fmt.Errorf("clear previous detections: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM roughness_segments WHERE trip_id = ?`, trip.TripID); err != nil {
		return fmt.Errorf("clear previous segments: %w", err)
	}

	for _, d := range detections {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO detections (id, trip_id, user_id, wall_time, lat, lon, intensity, stability, speed_mps)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, d.ID, d.TripID, d.UserID, d.WallTime.UTC().Format(wallTimeLayout), d.Lat, d.Lon, d.Intensity, d.Stability, d.SpeedMPS)
		if err != nil {
			return fmt.Errorf("insert detection %s: %w", d.ID, err)
		}
	}

	for seq, s := range segments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO roughness_segments (trip_id, seq, start_lat, start_lon, end_lat, end_lon, distance_m, rms, samples)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, trip.TripID, seq, s.StartLat, s.StartLon, s.EndLat, s.EndLon, s.DistanceM, s.RMS, s.Samples)
		if err != nil {
			return fmt.Errorf("insert roughness segment %d: %w", seq, err)
		}
	}

	return tx.Commit()
}

func (db *DB) GetTrip(ctx context.Context, tripID string) (store.TripRecord, bool, error) {
	var rec store.TripRecord
	var ingestedAt string

	err := db.QueryRowContext(ctx, `
		SELECT trip_id, user_id, ingested_at, detection_count FROM trips WHERE trip_id = ?
	`, tripID).Scan(&rec.TripID, &rec.UserID, &ingestedAt, &rec.DetectionCount)
	if err == sql.ErrNoRows {
		return store.TripRecord{}, false, nil
	}
	if err != nil {
		return store.TripRecord{}, false, fmt.Errorf("query trip %s: %w", tripID, err)
	}

	rec.IngestedAt, err = time.Parse(time.RFC3339Nano, ingestedAt)
	if err != nil {
		return store.TripRecord{}, false, fmt.Errorf("parse ingested_at for trip %s: %w", tripID, err)
	}
	return rec, true, nil
}

// QueryDetections filters stored detections by TripID/UserID/Since,
// ordered by wall_time, then applies Limit.
func (db *DB) QueryDetections(ctx context.Context, q store.DetectionQuery) ([]store.DetectionRecord, error) {
	query := `SELECT id, trip_id, user_id, wall_time, lat, lon, intensity, stability, speed_mps FROM detections WHERE 1=1`
	var args []interface{}

	if q.TripID != "" {
		query += ` AND trip_id = ?`
		args = append(args, q.TripID)
	}
	if q.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, q.UserID)
	}
	if !q.Since.IsZero() {
		query += ` AND wall_time >= ?`
		args = append(args, q.Since.UTC().Format(wallTimeLayout))
	}
	query += ` ORDER BY wall_time ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// AllDetections returns every stored detection, for cluster recomputation.
func (db *DB) AllDetections(ctx context.Context) ([]store.DetectionRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, trip_id, user_id, wall_time, lat, lon, intensity, stability, speed_mps FROM detections
	`)
	if err != nil {
		return nil, fmt.Errorf("query all detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// QueryRoughnessSegments returns the stored roughness segments for
// tripID, ordered by their position along the trip.
func (db *DB) QueryRoughnessSegments(ctx context.Context, tripID string) ([]roughness.Segment, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT start_lat, start_lon, end_lat, end_lon, distance_m, rms, samples
		FROM roughness_segments WHERE trip_id = ? ORDER BY seq ASC
	`, tripID)
	if err != nil {
		return nil, fmt.Errorf("query roughness segments for trip %s: %w", tripID, err)
	}
	defer rows.Close()

	var out []roughness.Segment
	for rows.Next() {
		s := roughness.Segment{TripID: tripID}
		if err := rows.Scan(&s.StartLat, &s.StartLon, &s.EndLat, &s.EndLon, &s.DistanceM, &s.RMS, &s.Samples); err != nil {
			return nil, fmt.Errorf("scan roughness segment row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanDetections(rows *sql.Rows) ([]store.DetectionRecord, error) {
	var out []store.DetectionRecord
	for rows.Next() {
		var d store.DetectionRecord
		var wallTime string
		if err := rows.Scan(&d.ID, &d.TripID, &d.UserID, &wallTime, &d.Lat, &d.Lon, &d.Intensity, &d.Stability, &d.SpeedMPS); err != nil {
			return nil, fmt.Errorf("scan detection row: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, wallTime)
		if err != nil {
			return nil, fmt.Errorf("parse wall_time for detection %s: %w", d.ID, err)
		}
		d.WallTime = t
		out = append(out, d)
	}
	return out, rows.Err()
}
