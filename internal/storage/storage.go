// Package storage persists tenant configuration and the engine-owned
// bookkeeping in SQLite (modernc.org/sqlite, pure Go). The same database
// handle backs the expiry queue and the sqlite message counter.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aatumaykin/chronobot/internal/logger"
)

//go:embed migrations.sql
var migrationsFS embed.FS

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a conditional bookkeeping update lost
	// the race against another writer of the same row.
	ErrConflict = errors.New("storage: bookkeeping revision conflict")
)

// Config holds storage settings.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store is the SQLite-backed tenant store.
type Store struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time
}

// Open opens (creating if needed) the database file and applies migrations.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer; everything goes through one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &Store{db: db, log: log, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("storage opened", logger.Field{Key: "path", Value: path})
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// DB exposes the handle for the expiry queue and the sqlite counter.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UnixMilli converts t to the stored representation; zero stays zero.
func UnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMilli is the inverse of UnixMilli.
func FromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
