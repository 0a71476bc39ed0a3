package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLite stores totals in the message_counters table.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite wraps an opened and migrated database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

// Increment implements Counter with a single upsert, so concurrent
// increments of the same chat never lose an update.
func (c *SQLite) Increment(ctx context.Context, chatID int64) (int64, error) {
	var total int64
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO message_counters(chat_id, total, updated_at) VALUES(?, 1, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET total = total + 1, updated_at = excluded.updated_at
		 RETURNING total`,
		chatID, c.now().UnixMilli(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("increment counter %d: %w", chatID, err)
	}
	return total, nil
}

// Total implements Counter.
func (c *SQLite) Total(ctx context.Context, chatID int64) (int64, error) {
	var total int64
	err := c.db.QueryRowContext(ctx, `SELECT total FROM message_counters WHERE chat_id = ?`, chatID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %d: %w", chatID, err)
	}
	return total, nil
}

// Close is a no-op: the database belongs to the tenant store.
func (c *SQLite) Close() error { return nil }
