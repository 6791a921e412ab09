// Package history keeps a local journal of backup runs in SQLite, so
// operators can see when a device's header last changed and which runs
// failed without trawling logs.
package history

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"luksward/internal/pipeline"
)

const timeFormat = "2006-01-02 15:04:05"

// Open opens (or creates) the journal database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate creates the journal tables.
func Migrate(db *sql.DB) error {
	statements := []struct {
		label string
		sql   string
	}{
		{"runs", `
			CREATE TABLE IF NOT EXISTS runs (
				id           TEXT PRIMARY KEY,
				hostname     TEXT NOT NULL,
				started_at   TEXT NOT NULL,
				finished_at  TEXT NOT NULL,
				device_count INTEGER NOT NULL,
				failed_count INTEGER NOT NULL
			);`},
		{"run_devices", `
			CREATE TABLE IF NOT EXISTS run_devices (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id      TEXT NOT NULL,
				device_path TEXT NOT NULL,
				device_uuid TEXT NOT NULL,
				short_hash  TEXT NOT NULL DEFAULT '',
				outcome     TEXT NOT NULL,
				detail      TEXT NOT NULL DEFAULT '',
				FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
			);`},
		{"run_devices index", `
			CREATE INDEX IF NOT EXISTS idx_run_devices_uuid ON run_devices(device_uuid);`},
	}

	for _, s := range statements {
		if _, err := db.Exec(s.sql); err != nil {
			return fmt.Errorf("history migration failed at [%s]: %w", s.label, err)
		}
	}
	return nil
}

// RunRecord is one journal row from the runs table.
type RunRecord struct {
	ID          string
	Hostname    string
	StartedAt   time.Time
	FinishedAt  time.Time
	DeviceCount int
	FailedCount int
}

// DeviceRecord is one per-device journal row.
type DeviceRecord struct {
	RunID      string
	DevicePath string
	DeviceUUID string
	ShortHash  string
	Outcome    string
	Detail     string
}

// RecordRun persists a run result and its per-device outcomes in one
// transaction.
func RecordRun(db *sql.DB, r *pipeline.RunResult) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	defer tx.Rollback()

	failed := 0
	for _, d := range r.Devices {
		if d.Outcome != pipeline.OutcomeSuccess {
			failed++
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO runs (id, hostname, started_at, finished_at, device_count, failed_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Hostname,
		r.StartedAt.UTC().Format(timeFormat),
		r.FinishedAt.UTC().Format(timeFormat),
		len(r.Devices), failed); err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}

	for _, d := range r.Devices {
		if _, err := tx.Exec(`
			INSERT INTO run_devices (run_id, device_path, device_uuid, short_hash, outcome, detail)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, d.Device.Path, d.Device.UUID, d.ShortHash,
			d.Outcome.String(), deviceDetail(d)); err != nil {
			return fmt.Errorf("record device %s: %w", d.Device.UUID, err)
		}
	}

	return tx.Commit()
}

// deviceDetail flattens a device's failure information for the journal.
func deviceDetail(d pipeline.DeviceResult) string {
	if d.Err != nil {
		return d.Err.Error()
	}
	if len(d.FailedTargets) > 0 {
		parts := make([]string, len(d.FailedTargets))
		for i, f := range d.FailedTargets {
			parts[i] = f.Error()
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

// RecentRuns returns the newest runs first.
func RecentRuns(db *sql.DB, limit int) ([]RunRecord, error) {
	rows, err := db.Query(`
		SELECT id, hostname, started_at, finished_at, device_count, failed_count
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Hostname, &started, &finished, &r.DeviceCount, &r.FailedCount); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(timeFormat, started)
		r.FinishedAt, _ = time.Parse(timeFormat, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DevicesForRun returns the per-device rows of one run.
func DevicesForRun(db *sql.DB, runID string) ([]DeviceRecord, error) {
	rows, err := db.Query(`
		SELECT run_id, device_path, device_uuid, short_hash, outcome, detail
		FROM run_devices WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("devices for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []DeviceRecord
	for rows.Next() {
		var d DeviceRecord
		if err := rows.Scan(&d.RunID, &d.DevicePath, &d.DeviceUUID, &d.ShortHash, &d.Outcome, &d.Detail); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LastShortHash returns the most recently journaled header hash for a
// device, or "" when the device has never had a hash recorded. Used to
// tell a changed header apart from a routine re-run.
func LastShortHash(db *sql.DB, hostname, deviceUUID string) (string, error) {
	row := db.QueryRow(`
		SELECT d.short_hash
		FROM run_devices d
		INNER JOIN runs r ON r.id = d.run_id
		WHERE r.hostname = ? AND d.device_uuid = ? AND d.short_hash != ''
		ORDER BY r.started_at DESC, d.id DESC
		LIMIT 1`, hostname, deviceUUID)

	var hash string
	err := row.Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last hash for %s: %w", deviceUUID, err)
	}
	return hash, nil
}
