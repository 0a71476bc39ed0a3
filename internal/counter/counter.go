// Package counter keeps a per-chat monotonic total of observed messages.
//
// Items never reset the counter: each per-messages item stores the total
// it last fired at (its counter mark), and messages since the last fire are
// total - mark. Increments come only from the ingestion path; evaluation is
// read-only.
package counter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Counter is an atomic keyed counter store.
type Counter interface {
	// Increment adds one to the chat's total and returns the new total.
	Increment(ctx context.Context, chatID int64) (int64, error)
	// Total returns the current total (0 for an unknown chat).
	Total(ctx context.Context, chatID int64) (int64, error)
	Close() error
}

// Config selects the driver.
type Config struct {
	Driver string // sqlite | valkey
	Valkey ValkeyConfig
}

// Open builds the configured counter. The sqlite driver shares db with the
// tenant store.
func Open(cfg Config, db *sql.DB) (Counter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		if db == nil {
			return nil, fmt.Errorf("counter: sqlite driver needs a database")
		}
		return NewSQLite(db), nil
	case "valkey":
		v, err := NewValkey(cfg.Valkey)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown counter driver: %s", cfg.Driver)
	}
}
