// Package catalog persists the last-seen coherency tuple and label metadata
// for every volume this host has mounted, so ltfsindexd can answer "what
// generation is on that cartridge" without re-mounting it (spec.md §3, MAM
// attribute 0x080A; SPEC_FULL.md §3). It is modeled directly on the
// teacher's internal/database package: a thin *sql.DB wrapper over
// modernc.org/sqlite with embedded, numbered migrations, pure Go and no
// cgo.
package catalog

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the sqlite connection backing the catalog.
type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the catalog database at path and
// brings its schema up to date.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping catalog database: %w", err)
	}

	db := &DB{sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%03d_", &version); err != nil || version <= current {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// VolumeInfo is the label-derived identity of a cartridge this host knows
// about.
type VolumeInfo struct {
	VolumeUUID   string
	Barcode      string
	MediumSerial string
	LabelVersion int
	BlockSize    int
}

// Coherency is the {generation, self_ptr, uuid} tuple mirrored from MAM
// attribute 0x080A after a commit (spec.md §3).
type Coherency struct {
	VolumeUUID string
	Generation int64
	Partition  string // "a" or "b"
	StartBlock int64
	SetID      string
	ObservedAt time.Time
}

// ScrubRun is one row of scrub_runs, reported verbatim to introspection
// API callers.
type ScrubRun struct {
	ID         int64
	VolumeUUID string
	StartedAt  time.Time
	FinishedAt *time.Time
	OK         bool
	Detail     string
}

// ListVolumes returns every cartridge this host has ever recorded, newest
// first by the time each was first recorded.
func (db *DB) ListVolumes() ([]VolumeInfo, error) {
	rows, err := db.Query(`
		SELECT volume_uuid, barcode, medium_serial, label_version, block_size
		FROM volumes ORDER BY first_seen_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}
	defer rows.Close()

	var out []VolumeInfo
	for rows.Next() {
		var v VolumeInfo
		if err := rows.Scan(&v.VolumeUUID, &v.Barcode, &v.MediumSerial, &v.LabelVersion, &v.BlockSize); err != nil {
			return nil, fmt.Errorf("scan volume row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// RecentScrubRuns returns the most recent scrub runs for a volume, newest
// first, capped at limit.
func (db *DB) RecentScrubRuns(volumeUUID string, limit int) ([]ScrubRun, error) {
	rows, err := db.Query(`
		SELECT id, volume_uuid, started_at, finished_at, ok, detail
		FROM scrub_runs WHERE volume_uuid = ? ORDER BY started_at DESC LIMIT ?
	`, volumeUUID, limit)
	if err != nil {
		return nil, fmt.Errorf("list scrub runs for %s: %w", volumeUUID, err)
	}
	defer rows.Close()

	var out []ScrubRun
	for rows.Next() {
		var r ScrubRun
		var ok int
		var detail sql.NullString
		if err := rows.Scan(&r.ID, &r.VolumeUUID, &r.StartedAt, &r.FinishedAt, &ok, &detail); err != nil {
			return nil, fmt.Errorf("scan scrub run row: %w", err)
		}
		r.OK = ok != 0
		r.Detail = detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertVolume records (or updates) a cartridge's label identity.
func (db *DB) UpsertVolume(v VolumeInfo) error {
	_, err := db.Exec(`
		INSERT INTO volumes (volume_uuid, barcode, medium_serial, label_version, block_size)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(volume_uuid) DO UPDATE SET
			barcode = excluded.barcode,
			medium_serial = excluded.medium_serial,
			label_version = excluded.label_version,
			block_size = excluded.block_size
	`, v.VolumeUUID, v.Barcode, v.MediumSerial, v.LabelVersion, v.BlockSize)
	if err != nil {
		return fmt.Errorf("upsert volume %s: %w", v.VolumeUUID, err)
	}
	return nil
}

// RecordCoherency stores the coherency tuple observed for one partition of
// a volume after a successful index commit or a mount-time read of MAM.
func (db *DB) RecordCoherency(c Coherency) error {
	_, err := db.Exec(`
		INSERT INTO coherency (volume_uuid, generation, partition, start_block, set_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(volume_uuid, partition) DO UPDATE SET
			generation = excluded.generation,
			start_block = excluded.start_block,
			set_id = excluded.set_id,
			observed_at = CURRENT_TIMESTAMP
	`, c.VolumeUUID, c.Generation, c.Partition, c.StartBlock, c.SetID)
	if err != nil {
		return fmt.Errorf("record coherency for %s/%s: %w", c.VolumeUUID, c.Partition, err)
	}
	return nil
}

// LastCoherency returns the most recently observed coherency tuple for a
// volume's index partition ("a"), or sql.ErrNoRows if the volume has never
// been seen.
func (db *DB) LastCoherency(volumeUUID string) (Coherency, error) {
	var c Coherency
	c.VolumeUUID = volumeUUID
	c.Partition = "a"
	err := db.QueryRow(`
		SELECT generation, start_block, COALESCE(set_id, ''), observed_at
		FROM coherency WHERE volume_uuid = ? AND partition = 'a'
	`, volumeUUID).Scan(&c.Generation, &c.StartBlock, &c.SetID, &c.ObservedAt)
	if err != nil {
		return Coherency{}, err
	}
	return c, nil
}

// RecordScrubStart inserts a new scrub run row and returns its id.
func (db *DB) RecordScrubStart(volumeUUID string, startedAt time.Time) (int64, error) {
	res, err := db.Exec(`INSERT INTO scrub_runs (volume_uuid, started_at) VALUES (?, ?)`, volumeUUID, startedAt)
	if err != nil {
		return 0, fmt.Errorf("record scrub start for %s: %w", volumeUUID, err)
	}
	return res.LastInsertId()
}

// RecordScrubFinish closes out a scrub run with its outcome.
func (db *DB) RecordScrubFinish(id int64, finishedAt time.Time, ok bool, detail string) error {
	_, err := db.Exec(`UPDATE scrub_runs SET finished_at = ?, ok = ?, detail = ? WHERE id = ?`,
		finishedAt, ok, detail, id)
	if err != nil {
		return fmt.Errorf("record scrub finish for run %d: %w", id, err)
	}
	return nil
}
