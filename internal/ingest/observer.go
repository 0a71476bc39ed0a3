// Package ingest is the hook the message-ingestion path calls for every
// observed chat message: it feeds the message-volume counter and schedules
// ephemeral messages for deletion according to the chat's policies.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/aatumaykin/chronobot/internal/counter"
	"github.com/aatumaykin/chronobot/internal/expiry"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/tenant"
)

// Event is one observed message.
type Event struct {
	ChatID    int64
	MessageID int
	Category  string
	At        time.Time
	// Counted marks a newly posted message. Edits are observed for the
	// "edited" policy but do not move the volume counter.
	Counted bool
}

// PolicySource returns a chat's deletion policies.
type PolicySource interface {
	Policies(ctx context.Context, chatID int64) (tenant.Policies, error)
}

// Scheduler accepts expiry entries.
type Scheduler interface {
	Schedule(ctx context.Context, e expiry.Entry) error
}

// Observer implements the ingestion hook.
type Observer struct {
	counter  counter.Counter
	policies PolicySource
	queue    Scheduler
	log      *logger.Logger
	now      func() time.Time
}

// New creates an Observer.
func New(c counter.Counter, policies PolicySource, queue Scheduler, log *logger.Logger) *Observer {
	if log == nil {
		log = logger.Nop()
	}
	return &Observer{
		counter:  c,
		policies: policies,
		queue:    queue,
		log:      log,
		now:      time.Now,
	}
}

// IncrementMessageCounter records one observed message in chatID. Item
// counters are reset only by a successful dispatch, never here.
func (o *Observer) IncrementMessageCounter(ctx context.Context, chatID int64) (int64, error) {
	total, err := o.counter.Increment(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("increment message counter for chat %d: %w", chatID, err)
	}
	return total, nil
}

// Observe handles one event: counts it, then applies the deletion policy
// of its category.
func (o *Observer) Observe(ctx context.Context, ev Event) error {
	if ev.Counted {
		if _, err := o.IncrementMessageCounter(ctx, ev.ChatID); err != nil {
			return err
		}
	}
	_, err := o.Track(ctx, tenant.MessageRef{ChatID: ev.ChatID, MessageID: ev.MessageID}, ev.Category, ev.At)
	return err
}

// Track schedules deletion of ref under category when the chat has an
// enabled policy for it. Subsystems producing welcome, goodbye, punishment
// or self-destruct messages call it directly. It reports whether an entry
// was scheduled.
func (o *Observer) Track(ctx context.Context, ref tenant.MessageRef, category string, at time.Time) (bool, error) {
	if category == "" || ref.MessageID == 0 {
		return false, nil
	}
	policies, err := o.policies.Policies(ctx, ref.ChatID)
	if err != nil {
		return false, fmt.Errorf("load policies for chat %d: %w", ref.ChatID, err)
	}
	policy, ok := policies.Lookup(category)
	if !ok {
		return false, nil
	}
	if at.IsZero() {
		at = o.now()
	}

	entry := expiry.Entry{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		DueAt:     policy.DueAt(at),
		Category:  category,
	}
	if err := o.queue.Schedule(ctx, entry); err != nil {
		return false, fmt.Errorf("schedule deletion of %d/%d: %w", ref.ChatID, ref.MessageID, err)
	}

	o.log.DebugCtx(ctx, "message scheduled for deletion",
		logger.Field{Key: "chat_id", Value: ref.ChatID},
		logger.Field{Key: "message_id", Value: ref.MessageID},
		logger.Field{Key: "category", Value: category},
		logger.Field{Key: "due_at", Value: entry.DueAt})
	return true, nil
}
