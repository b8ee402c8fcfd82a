// Package store persists labeled samples, category metrics and handoff state in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/ambrosia-alliance/processor/internal/model"
)

var (
	// ErrNotFound is returned when a sample does not exist
	ErrNotFound = errors.New("store: sample not found")

	// ErrAlreadyReviewed is returned when human labels are written twice
	ErrAlreadyReviewed = errors.New("store: sample already reviewed")
)

// SQLStore is the SQLite-backed persistence layer
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database described by cfg.
// Driver "sqlite" uses the pure-Go modernc driver; "sqlite3" uses mattn/go-sqlite3 (cgo).
func Open(ctx context.Context, cfg model.StorageConfig) (*SQLStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	var dsn string
	switch driver {
	case "sqlite":
		dsn = "file:" + cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	case "sqlite3":
		dsn = "file:" + cfg.Path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1&_txlock=immediate"
	default:
		return nil, fmt.Errorf("store: unsupported driver %q (supported: sqlite, sqlite3)", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY between our own goroutines.
	// Other processes on the same file wait on busy_timeout for the immediate write lock.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and applies migrations
func New(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS labeled_samples (
		id                   TEXT PRIMARY KEY,
		text                 TEXT NOT NULL,
		source               TEXT NOT NULL DEFAULT '',
		source_index         INTEGER NOT NULL DEFAULT 0,
		model_predictions    JSON NOT NULL,
		model_scores         JSON,
		model_failures       JSON,
		ensemble_predictions JSON NOT NULL,
		agreement_scores     JSON NOT NULL,
		entropy              REAL NOT NULL,
		needs_review         INTEGER NOT NULL,
		review_reasons       JSON,
		human_labels         JSON,
		provenance           TEXT NOT NULL DEFAULT 'real',
		created_at           TEXT NOT NULL,
		reviewed_at          TEXT,
		reviewed_by          TEXT NOT NULL DEFAULT '',
		skip_count           INTEGER NOT NULL DEFAULT 0,
		metrics_applied      INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_pending ON labeled_samples(needs_review, skip_count, entropy)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_created ON labeled_samples(created_at)`,
	`CREATE TABLE IF NOT EXISTS category_metrics (
		category        TEXT PRIMARY KEY,
		total_samples   INTEGER NOT NULL DEFAULT 0,
		true_positives  INTEGER NOT NULL DEFAULT 0,
		false_positives INTEGER NOT NULL DEFAULT 0,
		false_negatives INTEGER NOT NULL DEFAULT 0,
		true_negatives  INTEGER NOT NULL DEFAULT 0,
		precision_score REAL NOT NULL DEFAULT 0,
		recall          REAL NOT NULL DEFAULT 0,
		f1_score        REAL NOT NULL DEFAULT 0,
		accuracy        REAL NOT NULL DEFAULT 0,
		can_auto_accept INTEGER NOT NULL DEFAULT 0,
		last_updated    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS metrics_ledger (
		sample_id  TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS handoff_state (
		category       TEXT PRIMARY KEY,
		review_enabled INTEGER NOT NULL,
		updated_at     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS handoff_events (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		category     TEXT NOT NULL,
		from_enabled INTEGER NOT NULL,
		to_enabled   INTEGER NOT NULL,
		actor        TEXT NOT NULL,
		reason       TEXT NOT NULL DEFAULT '',
		mark_samples INTEGER NOT NULL DEFAULT 0,
		mark_correct INTEGER NOT NULL DEFAULT 0,
		at           TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_handoff_events_category ON handoff_events(category)`,
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fromJSON(v sql.NullString, dst any) error {
	if !v.Valid || v.String == "" || v.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(v.String), dst)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
