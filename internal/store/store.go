// Package store persists synchronizer state in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const watermarkKey = "last_sync"

// DefaultWatermark is used before the first successful cycle
var DefaultWatermark = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

// Cycle is the persisted summary of one sync cycle
type Cycle struct {
	ID         string    `db:"id"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	Projects   int       `db:"projects"`
	Requests   int       `db:"requests"`
	Error      string    `db:"error"`
}

// SQLiteStore keeps the sync watermark and cycle history
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the state database at dbPath and runs
// any pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// one writer; also keeps a :memory: database on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Load returns the last persisted watermark, or DefaultWatermark when none
// has been saved yet.
func (s *SQLiteStore) Load(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM sync_state WHERE name = ?", watermarkKey)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultWatermark, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading watermark: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing watermark %q: %w", value, err)
	}
	return t, nil
}

// Save persists the watermark
func (s *SQLiteStore) Save(ctx context.Context, t time.Time) error {
	const query = `
		INSERT INTO sync_state (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query, watermarkKey, t.UTC().Format(time.RFC3339Nano), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving watermark: %w", err)
	}
	return nil
}

// RecordCycle stores the summary of a finished cycle
func (s *SQLiteStore) RecordCycle(ctx context.Context, c Cycle) error {
	const query = `
		INSERT OR REPLACE INTO sync_cycles (id, started_at, finished_at, projects, requests, error)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.StartedAt.UTC(), c.FinishedAt.UTC(), c.Projects, c.Requests, c.Error,
	)
	if err != nil {
		return fmt.Errorf("recording cycle %s: %w", c.ID, err)
	}
	return nil
}

// RecentCycles returns up to limit cycles, newest first
func (s *SQLiteStore) RecentCycles(ctx context.Context, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 10
	}

	var cycles []Cycle
	err := s.db.SelectContext(ctx, &cycles, `
		SELECT id, started_at, finished_at, projects, requests, error
		FROM sync_cycles
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing cycles: %w", err)
	}
	return cycles, nil
}
