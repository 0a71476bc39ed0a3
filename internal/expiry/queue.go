// Package expiry is the persisted, time-ordered set of pending message
// deletions. Entries are keyed by (chat_id, message_id): scheduling the
// same message again overwrites the existing entry.
//
// Lifecycle:
//
//	pending ──PopDue──▶ in_flight ──MarkDone──▶ done
//	   ▲                    │
//	   │                    ├──MarkFailed──▶ failed ──(due again)──▶ in_flight
//	   └──RecoverInFlight───┘                    │
//	                                  Abandon ──▶ abandoned
package expiry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aatumaykin/chronobot/internal/logger"
)

// Status of an entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusFailed    Status = "failed"
	StatusDone      Status = "done"
	StatusAbandoned Status = "abandoned"
)

// ErrNotFound is returned when a transition addresses a missing entry or an
// entry that is not in the expected state.
var ErrNotFound = errors.New("expiry: entry not found")

// Entry is one scheduled deletion.
type Entry struct {
	ChatID    int64
	MessageID int
	DueAt     time.Time // UTC
	Category  string
	Status    Status
	Attempts  int
	LastError string
}

// Queue is backed by the expiry_entries table.
type Queue struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time
}

// New creates a queue over an opened and migrated database.
func New(db *sql.DB, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.Nop()
	}
	return &Queue{db: db, log: log, now: time.Now}
}

// Schedule inserts or overwrites the entry for (ChatID, MessageID). An
// overwritten entry goes back to pending with its attempt count reset; an
// entry currently in flight is overwritten too, the in-flight delete then
// finds it pending and leaves it alone (see MarkDone).
func (q *Queue) Schedule(ctx context.Context, e Entry) error {
	now := q.now().UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO expiry_entries(chat_id, message_id, due_at, category, status, attempts, last_error, created_at, updated_at)
		 VALUES(?,?,?,?,?,0,NULL,?,?)
		 ON CONFLICT(chat_id, message_id) DO UPDATE SET
			due_at=excluded.due_at, category=excluded.category, status=excluded.status,
			attempts=0, last_error=NULL, updated_at=excluded.updated_at`,
		e.ChatID, e.MessageID, e.DueAt.UTC().UnixMilli(), e.Category, StatusPending, now, now,
	)
	if err != nil {
		return fmt.Errorf("schedule expiry %d/%d: %w", e.ChatID, e.MessageID, err)
	}
	q.log.Debug("expiry scheduled",
		logger.Field{Key: "chat_id", Value: e.ChatID},
		logger.Field{Key: "message_id", Value: e.MessageID},
		logger.Field{Key: "category", Value: e.Category},
		logger.Field{Key: "due_at", Value: e.DueAt.UTC()})
	return nil
}

// PopDue atomically claims up to limit entries (pending or failed) whose
// due time is at or before now, oldest first, and marks them in_flight.
// Each entry is claimed by exactly one caller. If the claimed rows cannot be
// read back the claim is rolled back, so no row is left in_flight unseen.
func (q *Queue) PopDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 500
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pop due expiries: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out, err := claimDue(ctx, tx, q.now(), now, limit)
	if err != nil {
		return nil, fmt.Errorf("pop due expiries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pop due expiries: commit: %w", err)
	}
	// RETURNING order is unspecified.
	slices.SortStableFunc(out, func(a, b Entry) int { return a.DueAt.Compare(b.DueAt) })
	return out, nil
}

func claimDue(ctx context.Context, tx *sql.Tx, stamp, now time.Time, limit int) ([]Entry, error) {
	rows, err := tx.QueryContext(ctx,
		`UPDATE expiry_entries
		 SET status = ?, updated_at = ?
		 WHERE rowid IN (
			SELECT rowid FROM expiry_entries
			WHERE status IN (?, ?) AND due_at <= ?
			ORDER BY due_at, rowid
			LIMIT ?
		 )
		 RETURNING chat_id, message_id, due_at, category, status, attempts, COALESCE(last_error, '')`,
		StatusInFlight, stamp.UnixMilli(), StatusPending, StatusFailed, now.UTC().UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, rows.Close()
}

// MarkDone completes an in-flight entry. If the entry was re-scheduled
// while in flight it is left pending.
func (q *Queue) MarkDone(ctx context.Context, e Entry) error {
	return q.transition(ctx, e, StatusDone, "", false)
}

// MarkFailed records a failed delete attempt and reschedules the entry at
// nextDue.
func (q *Queue) MarkFailed(ctx context.Context, e Entry, cause error, nextDue time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE expiry_entries
		 SET status = ?, attempts = attempts + 1, last_error = ?, due_at = ?, updated_at = ?
		 WHERE chat_id = ? AND message_id = ? AND status = ?`,
		StatusFailed, msg, nextDue.UTC().UnixMilli(), q.now().UnixMilli(),
		e.ChatID, e.MessageID, StatusInFlight,
	)
	return checkOne(res, err, e)
}

// Abandon gives up on an in-flight entry.
func (q *Queue) Abandon(ctx context.Context, e Entry, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.transition(ctx, e, StatusAbandoned, msg, true)
}

func (q *Queue) transition(ctx context.Context, e Entry, to Status, lastErr string, countAttempt bool) error {
	inc := 0
	if countAttempt {
		inc = 1
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE expiry_entries
		 SET status = ?, attempts = attempts + ?, last_error = NULLIF(?, ''), updated_at = ?
		 WHERE chat_id = ? AND message_id = ? AND status = ?`,
		to, inc, lastErr, q.now().UnixMilli(), e.ChatID, e.MessageID, StatusInFlight,
	)
	return checkOne(res, err, e)
}

// Cancel removes the entry for a message deleted through another path.
// Cancelling a missing entry is not an error; an in-flight entry is left to
// the delete already running.
func (q *Queue) Cancel(ctx context.Context, chatID int64, messageID int) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM expiry_entries WHERE chat_id = ? AND message_id = ? AND status <> ?`,
		chatID, messageID, StatusInFlight)
	if err != nil {
		return fmt.Errorf("cancel expiry %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

// Get returns one entry.
func (q *Queue) Get(ctx context.Context, chatID int64, messageID int) (Entry, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT chat_id, message_id, due_at, category, status, attempts, COALESCE(last_error, '')
		 FROM expiry_entries WHERE chat_id = ? AND message_id = ?`, chatID, messageID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// RecoverInFlight returns entries left in_flight by a crashed process to
// pending. Called once at startup, before the first tick.
func (q *Queue) RecoverInFlight(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE expiry_entries SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, q.now().UnixMilli(), StatusInFlight)
	if err != nil {
		return 0, fmt.Errorf("recover in-flight expiries: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.log.Warn("recovered in-flight expiry entries", logger.Field{Key: "count", Value: n})
	}
	return n, nil
}

// Purge deletes done and abandoned entries last updated before olderThan.
func (q *Queue) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM expiry_entries WHERE status IN (?, ?) AND updated_at < ?`,
		StatusDone, StatusAbandoned, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge expiries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats counts entries per status.
func (q *Queue) Stats(ctx context.Context) (map[Status]int64, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM expiry_entries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := map[Status]int64{}
	for rows.Next() {
		var (
			st Status
			n  int64
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e     Entry
		dueMS int64
	)
	if err := s.Scan(&e.ChatID, &e.MessageID, &dueMS, &e.Category, &e.Status, &e.Attempts, &e.LastError); err != nil {
		return Entry{}, err
	}
	e.DueAt = time.UnixMilli(dueMS).UTC()
	return e, nil
}

func checkOne(res sql.Result, err error, e Entry) error {
	if err != nil {
		return fmt.Errorf("update expiry %d/%d: %w", e.ChatID, e.MessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("expiry %d/%d not in flight: %w", e.ChatID, e.MessageID, ErrNotFound)
	}
	return nil
}
