package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aatumaykin/chronobot/internal/clock"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/tenant"
)

const itemColumns = `chat_id, idx, enabled, content, start_minute, rep_kind, rep_hours, rep_minutes,
	rep_messages, days_of_week, days_of_month, slot_from, slot_to, start_date, end_date, pin,
	delete_last, category, last_fired_at, counter_mark, last_sent_chat, last_sent_msg, book_rev`

// Import writes the user-editable part of a tenant. Items are addressed by
// index: existing rows keep their bookkeeping, new rows start with
// counterBaseline as their counter mark so that historic chat volume does
// not trigger per-messages items at once. Items beyond the new list length
// are removed and the policy map is replaced.
func (s *Store) Import(ctx context.Context, t *tenant.Tenant, counterBaseline int64) error {
	if t == nil || t.ChatID == 0 {
		return errors.New("import: tenant chat_id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("import: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenants(chat_id, title, time_zone, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET title=excluded.title, time_zone=excluded.time_zone, updated_at=excluded.updated_at`,
		t.ChatID, t.Title, t.TimeZone, now,
	); err != nil {
		return fmt.Errorf("import: upsert tenant: %w", err)
	}

	for i := range t.Broadcasts {
		item := &t.Broadcasts[i]
		item.Index = i
		row, err := encodeItem(item)
		if err != nil {
			return fmt.Errorf("import: item %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO broadcast_items(chat_id, idx, enabled, content, start_minute, rep_kind, rep_hours,
				rep_minutes, rep_messages, days_of_week, days_of_month, slot_from, slot_to, start_date, end_date,
				pin, delete_last, category, counter_mark)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(chat_id, idx) DO UPDATE SET
				enabled=excluded.enabled, content=excluded.content, start_minute=excluded.start_minute,
				rep_kind=excluded.rep_kind, rep_hours=excluded.rep_hours, rep_minutes=excluded.rep_minutes,
				rep_messages=excluded.rep_messages, days_of_week=excluded.days_of_week,
				days_of_month=excluded.days_of_month, slot_from=excluded.slot_from, slot_to=excluded.slot_to,
				start_date=excluded.start_date, end_date=excluded.end_date, pin=excluded.pin,
				delete_last=excluded.delete_last, category=excluded.category`,
			t.ChatID, i, boolInt(item.Enabled), row.content, row.startMinute, row.repKind, row.repHours,
			row.repMinutes, row.repMessages, int64(item.DaysOfWeek), int64(item.DaysOfMonth), row.slotFrom,
			row.slotTo, row.startDate, row.endDate, boolInt(item.Pin), boolInt(item.DeleteLast), item.Category,
			counterBaseline,
		); err != nil {
			return fmt.Errorf("import: upsert item %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM broadcast_items WHERE chat_id = ? AND idx >= ?`, t.ChatID, len(t.Broadcasts),
	); err != nil {
		return fmt.Errorf("import: trim items: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM deletion_policies WHERE chat_id = ?`, t.ChatID); err != nil {
		return fmt.Errorf("import: clear policies: %w", err)
	}
	for category, pol := range t.Policies {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deletion_policies(chat_id, category, enabled, ttl_ms) VALUES(?,?,?,?)`,
			t.ChatID, category, boolInt(pol.Enabled), pol.TTL.Milliseconds(),
		); err != nil {
			return fmt.Errorf("import: policy %s: %w", category, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("import: commit: %w", err)
	}

	s.log.Info("tenant imported",
		logger.Field{Key: "chat_id", Value: t.ChatID},
		logger.Field{Key: "items", Value: len(t.Broadcasts)},
		logger.Field{Key: "policies", Value: len(t.Policies)})
	return nil
}

// DeleteTenant removes a tenant with its items and policies. Pending expiry
// entries are kept: messages already sent still have to disappear.
func (s *Store) DeleteTenant(ctx context.Context, chatID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM broadcast_items WHERE chat_id = ?`,
		`DELETE FROM deletion_policies WHERE chat_id = ?`,
		`DELETE FROM tenants WHERE chat_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, chatID); err != nil {
			return fmt.Errorf("delete tenant %d: %w", chatID, err)
		}
	}
	return tx.Commit()
}

// Tenant loads one tenant with all of its items (enabled or not).
func (s *Store) Tenant(ctx context.Context, chatID int64) (*tenant.Tenant, error) {
	t := &tenant.Tenant{ChatID: chatID}
	err := s.db.QueryRowContext(ctx,
		`SELECT title, time_zone FROM tenants WHERE chat_id = ?`, chatID,
	).Scan(&t.Title, &t.TimeZone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM broadcast_items WHERE chat_id = ? ORDER BY idx`, chatID)
	if err != nil {
		return nil, err
	}
	t.Broadcasts = items[chatID]

	if t.Policies, err = s.Policies(ctx, chatID); err != nil {
		return nil, err
	}
	return t, nil
}

// TenantIDs lists every stored chat id.
func (s *Store) TenantIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM tenants ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ActiveTenants returns every tenant with at least one enabled item. Only
// enabled items are included; policies are loaded for each tenant.
func (s *Store) ActiveTenants(ctx context.Context) ([]tenant.Tenant, error) {
	items, err := s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM broadcast_items WHERE enabled = 1 ORDER BY chat_id, idx`)
	if err != nil {
		return nil, fmt.Errorf("active items: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, title, time_zone FROM tenants ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("active tenants: %w", err)
	}
	var out []tenant.Tenant
	for rows.Next() {
		var t tenant.Tenant
		if err := rows.Scan(&t.ChatID, &t.Title, &t.TimeZone); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if list, ok := items[t.ChatID]; ok {
			t.Broadcasts = list
			out = append(out, t)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	policies, err := s.allPolicies(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Policies = policies[out[i].ChatID]
	}
	return out, nil
}

// Item loads one broadcast item.
func (s *Store) Item(ctx context.Context, key tenant.Key) (*tenant.BroadcastItem, error) {
	items, err := s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM broadcast_items WHERE chat_id = ? AND idx = ?`, key.ChatID, key.Index)
	if err != nil {
		return nil, err
	}
	list := items[key.ChatID]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// SaveBookkeeping persists the engine-owned fields of one item. The update
// is conditional on the revision the caller evaluated (prev.Rev); the row's
// user-editable fields are never touched. On success the stored revision is
// prev.Rev+1.
func (s *Store) SaveBookkeeping(ctx context.Context, key tenant.Key, prev, next tenant.Bookkeeping) error {
	var sentChat, sentMsg any
	if next.LastSent != nil {
		sentChat, sentMsg = next.LastSent.ChatID, next.LastSent.MessageID
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcast_items
		 SET last_fired_at = ?, counter_mark = ?, last_sent_chat = ?, last_sent_msg = ?, book_rev = ?
		 WHERE chat_id = ? AND idx = ? AND book_rev = ?`,
		UnixMilli(next.LastFiredAt), next.CounterMark, sentChat, sentMsg, prev.Rev+1,
		key.ChatID, key.Index, prev.Rev,
	)
	if err != nil {
		return fmt.Errorf("save bookkeeping %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save bookkeeping %s: %w", key, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM broadcast_items WHERE chat_id = ? AND idx = ?`, key.ChatID, key.Index).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("save bookkeeping %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("save bookkeeping %s: %w", key, err)
	}
	return fmt.Errorf("save bookkeeping %s (rev %d): %w", key, prev.Rev, ErrConflict)
}

// Policies returns the deletion policies of one chat.
func (s *Store) Policies(ctx context.Context, chatID int64) (tenant.Policies, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, category, enabled, ttl_ms FROM deletion_policies WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	all, err := scanPolicies(rows)
	if err != nil {
		return nil, err
	}
	if p, ok := all[chatID]; ok {
		return p, nil
	}
	return tenant.Policies{}, nil
}

// TimeZone returns the zone of a chat, empty when unknown.
func (s *Store) TimeZone(ctx context.Context, chatID int64) (string, error) {
	var zone string
	err := s.db.QueryRowContext(ctx, `SELECT time_zone FROM tenants WHERE chat_id = ?`, chatID).Scan(&zone)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return zone, err
}

func (s *Store) allPolicies(ctx context.Context) (map[int64]tenant.Policies, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, category, enabled, ttl_ms FROM deletion_policies`)
	if err != nil {
		return nil, err
	}
	return scanPolicies(rows)
}

func scanPolicies(rows *sql.Rows) (map[int64]tenant.Policies, error) {
	defer func() { _ = rows.Close() }()
	out := map[int64]tenant.Policies{}
	for rows.Next() {
		var (
			chatID   int64
			category string
			enabled  bool
			ttlMS    int64
		)
		if err := rows.Scan(&chatID, &category, &enabled, &ttlMS); err != nil {
			return nil, err
		}
		if out[chatID] == nil {
			out[chatID] = tenant.Policies{}
		}
		out[chatID][category] = tenant.DeletionPolicy{Enabled: enabled, TTL: time.Duration(ttlMS) * time.Millisecond}
	}
	return out, rows.Err()
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) (map[int64][]tenant.BroadcastItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := map[int64][]tenant.BroadcastItem{}
	for rows.Next() {
		chatID, item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[chatID] = append(out[chatID], *item)
	}
	return out, rows.Err()
}

type itemRow struct {
	content     string
	startMinute sql.NullInt64
	repKind     string
	repHours    int
	repMinutes  int
	repMessages int
	slotFrom    sql.NullInt64
	slotTo      sql.NullInt64
	startDate   string
	endDate     string
}

func encodeItem(item *tenant.BroadcastItem) (itemRow, error) {
	var row itemRow
	content, err := json.Marshal(item.Content)
	if err != nil {
		return row, fmt.Errorf("encode content: %w", err)
	}
	row.content = string(content)

	if item.StartTime != nil {
		row.startMinute = sql.NullInt64{Int64: int64(item.StartTime.MinuteOfDay()), Valid: true}
	}
	switch rep := item.Repetition.(type) {
	case tenant.Interval:
		row.repKind, row.repHours, row.repMinutes = string(tenant.KindInterval), rep.Hours, rep.Minutes
	case tenant.MessageCount:
		row.repKind, row.repMessages = string(tenant.KindMessageCount), rep.N
	}
	if item.Slot != nil {
		row.slotFrom = sql.NullInt64{Int64: int64(item.Slot.FromHour), Valid: true}
		row.slotTo = sql.NullInt64{Int64: int64(item.Slot.ToHour), Valid: true}
	}
	if !item.StartDate.IsZero() {
		row.startDate = item.StartDate.String()
	}
	if !item.EndDate.IsZero() {
		row.endDate = item.EndDate.String()
	}
	return row, nil
}

// scanItem decodes one row. A row whose stored rule cannot be decoded is
// returned with a nil Repetition and no StartTime, which the evaluator
// treats as never due.
func scanItem(rows *sql.Rows) (int64, *tenant.BroadcastItem, error) {
	var (
		chatID       int64
		item         tenant.BroadcastItem
		row          itemRow
		daysOfWeek   int64
		daysOfMonth  int64
		lastFiredAt  int64
		lastSentChat sql.NullInt64
		lastSentMsg  sql.NullInt64
	)
	if err := rows.Scan(&chatID, &item.Index, &item.Enabled, &row.content, &row.startMinute, &row.repKind,
		&row.repHours, &row.repMinutes, &row.repMessages, &daysOfWeek, &daysOfMonth, &row.slotFrom,
		&row.slotTo, &row.startDate, &row.endDate, &item.Pin, &item.DeleteLast, &item.Category,
		&lastFiredAt, &item.Bookkeeping.CounterMark, &lastSentChat, &lastSentMsg, &item.Bookkeeping.Rev,
	); err != nil {
		return 0, nil, err
	}

	if err := json.Unmarshal([]byte(row.content), &item.Content); err != nil {
		return 0, nil, fmt.Errorf("item %d#%d: decode content: %w", chatID, item.Index, err)
	}
	item.DaysOfWeek = tenant.DaySet(daysOfWeek)
	item.DaysOfMonth = tenant.DaySet(daysOfMonth)
	item.Bookkeeping.LastFiredAt = FromUnixMilli(lastFiredAt)
	if lastSentChat.Valid && lastSentMsg.Valid {
		item.Bookkeeping.LastSent = &tenant.MessageRef{ChatID: lastSentChat.Int64, MessageID: int(lastSentMsg.Int64)}
	}

	valid := true
	if row.startMinute.Valid {
		m := int(row.startMinute.Int64)
		if m >= 0 && m < 24*60 {
			item.StartTime = &tenant.TimeOfDay{Hour: m / 60, Minute: m % 60}
		} else {
			valid = false
		}
	}
	switch tenant.RepetitionKind(row.repKind) {
	case "":
	case tenant.KindInterval:
		if iv, err := tenant.NewInterval(row.repHours, row.repMinutes); err == nil {
			item.Repetition = iv
		} else {
			valid = false
		}
	case tenant.KindMessageCount:
		if mc, err := tenant.NewMessageCount(row.repMessages); err == nil {
			item.Repetition = mc
		} else {
			valid = false
		}
	default:
		valid = false
	}
	if row.slotFrom.Valid && row.slotTo.Valid {
		item.Slot = &tenant.Slot{FromHour: int(row.slotFrom.Int64), ToHour: int(row.slotTo.Int64)}
	}
	var err error
	if row.startDate != "" {
		if item.StartDate, err = clock.ParseDate(row.startDate); err != nil {
			valid = false
		}
	}
	if row.endDate != "" {
		if item.EndDate, err = clock.ParseDate(row.endDate); err != nil {
			valid = false
		}
	}

	if !valid {
		item.StartTime = nil
		item.Repetition = nil
	}
	return chatID, &item, nil
}
