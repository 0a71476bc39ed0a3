// Package dispatch performs the side effects of the engine against the
// messaging boundary: sending a due broadcast and deleting an expired
// message. Bookkeeping advances only after a confirmed send.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aatumaykin/chronobot/internal/channels"
	"github.com/aatumaykin/chronobot/internal/expiry"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/retry"
	"github.com/aatumaykin/chronobot/internal/tenant"
)

// BookkeepingStore persists the engine-owned fields of a broadcast item.
type BookkeepingStore interface {
	SaveBookkeeping(ctx context.Context, key tenant.Key, prev, next tenant.Bookkeeping) error
}

// ExpiryQueue is the subset of the expiry queue used by the executor.
type ExpiryQueue interface {
	Schedule(ctx context.Context, e expiry.Entry) error
	Cancel(ctx context.Context, chatID int64, messageID int) error
	MarkDone(ctx context.Context, e expiry.Entry) error
	MarkFailed(ctx context.Context, e expiry.Entry, cause error, nextDue time.Time) error
	Abandon(ctx context.Context, e expiry.Entry, cause error) error
}

// Broadcast is one due item together with what the evaluation saw.
type Broadcast struct {
	Key          tenant.Key
	Item         tenant.BroadcastItem
	Policies     tenant.Policies
	CounterTotal int64 // chat counter total read for the evaluation
}

// settleTimeout bounds queue updates that record the outcome of a delete.
// They run detached from the task context: a delete that used up the task
// timeout must still leave its entry failed, not in_flight.
const settleTimeout = 5 * time.Second

// Executor runs broadcast and expiry work units.
type Executor struct {
	messenger channels.Messenger
	books     BookkeepingStore
	queue     ExpiryQueue
	retry     retry.Config
	logger    *logger.Logger
	now       func() time.Time
}

// NewExecutor creates an executor. rc bounds expiry delete retries.
func NewExecutor(m channels.Messenger, books BookkeepingStore, queue ExpiryQueue, rc retry.Config, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Nop()
	}
	return &Executor{
		messenger: m,
		books:     books,
		queue:     queue,
		retry:     rc.WithDefaults(),
		logger:    log,
		now:       time.Now,
	}
}

// ExecuteBroadcast sends the item's content and, on success, schedules the
// sent message's expiry, deletes the previous instance (DeleteLast), pins
// the new one (Pin) and saves the bookkeeping. Deleting the previous
// instance and pinning are best-effort. A failed send or a failed save
// leaves bookkeeping unchanged and returns an error, so the item is due
// again on the next tick.
func (e *Executor) ExecuteBroadcast(ctx context.Context, b Broadcast) error {
	chatID := b.Key.ChatID
	item := &b.Item

	ref, err := e.messenger.SendMessage(ctx, chatID, item.Content)
	if err != nil {
		fields := append([]logger.Field{{Key: "item", Value: b.Key.String()}}, channels.LogFieldsOf(err)...)
		e.logger.WarnCtx(ctx, "broadcast send failed", fields...)
		return fmt.Errorf("broadcast %s: %w", b.Key, err)
	}
	sentAt := e.now()

	e.scheduleExpiry(ctx, b, ref, sentAt)

	prev := item.Bookkeeping
	if item.DeleteLast && prev.LastSent != nil && *prev.LastSent != ref {
		e.deletePrevious(ctx, b.Key, *prev.LastSent)
	}

	if item.Pin {
		if err := e.messenger.PinMessage(ctx, ref); err != nil {
			fields := append([]logger.Field{{Key: "item", Value: b.Key.String()}}, channels.LogFieldsOf(err)...)
			e.logger.WarnCtx(ctx, "failed to pin broadcast", fields...)
		}
	}

	next := prev.Fired(sentAt, b.CounterTotal, ref)
	if err := e.books.SaveBookkeeping(ctx, b.Key, prev, next); err != nil {
		e.logger.ErrorCtx(ctx, "broadcast sent but bookkeeping not saved", err,
			logger.Field{Key: "item", Value: b.Key.String()},
			logger.Field{Key: "message_id", Value: ref.MessageID})
		return fmt.Errorf("broadcast %s: %w", b.Key, err)
	}

	e.logger.InfoCtx(ctx, "broadcast sent",
		logger.Field{Key: "item", Value: b.Key.String()},
		logger.Field{Key: "message_id", Value: ref.MessageID},
		logger.Field{Key: "pinned", Value: item.Pin})
	return nil
}

// scheduleExpiry applies the deletion policy of the item's category to a
// freshly sent message. Failure is logged: the broadcast itself succeeded.
func (e *Executor) scheduleExpiry(ctx context.Context, b Broadcast, ref tenant.MessageRef, sentAt time.Time) {
	category := b.Item.PolicyCategory()
	policy, ok := b.Policies.Lookup(category)
	if !ok {
		return
	}
	entry := expiry.Entry{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		DueAt:     policy.DueAt(sentAt),
		Category:  category,
	}
	if err := e.queue.Schedule(ctx, entry); err != nil {
		e.logger.ErrorCtx(ctx, "failed to schedule broadcast expiry", err,
			logger.Field{Key: "item", Value: b.Key.String()},
			logger.Field{Key: "message_id", Value: ref.MessageID})
	}
}

func (e *Executor) deletePrevious(ctx context.Context, key tenant.Key, last tenant.MessageRef) {
	err := e.messenger.DeleteMessage(ctx, last)
	if err != nil && !errors.Is(err, channels.ErrMessageNotFound) {
		fields := append([]logger.Field{{Key: "item", Value: key.String()}}, channels.LogFieldsOf(err)...)
		e.logger.WarnCtx(ctx, "failed to delete previous broadcast", fields...)
		return
	}
	// удалено напрямую, запись в очереди больше не нужна
	if err := e.queue.Cancel(ctx, last.ChatID, last.MessageID); err != nil {
		e.logger.WarnCtx(ctx, "failed to cancel expiry of previous broadcast",
			logger.Field{Key: "item", Value: key.String()},
			logger.Field{Key: "error", Value: err.Error()})
	}
}

// ExecuteExpiry deletes the message of an in-flight entry. A message that
// is already gone counts as deleted. Other failures reschedule the entry
// with backoff until the attempt budget is spent, then it is abandoned.
func (e *Executor) ExecuteExpiry(ctx context.Context, entry expiry.Entry) error {
	ref := tenant.MessageRef{ChatID: entry.ChatID, MessageID: entry.MessageID}
	err := e.messenger.DeleteMessage(ctx, ref)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err == nil || errors.Is(err, channels.ErrMessageNotFound) {
		if derr := e.queue.MarkDone(sctx, entry); derr != nil && !errors.Is(derr, expiry.ErrNotFound) {
			return fmt.Errorf("mark expiry done: %w", derr)
		}
		e.logger.DebugCtx(ctx, "expired message deleted",
			logger.Field{Key: "chat_id", Value: entry.ChatID},
			logger.Field{Key: "message_id", Value: entry.MessageID},
			logger.Field{Key: "category", Value: entry.Category},
			logger.Field{Key: "already_gone", Value: err != nil})
		return nil
	}

	attempts := entry.Attempts + 1
	fields := append([]logger.Field{
		{Key: "category", Value: entry.Category},
		{Key: "attempts", Value: attempts},
	}, channels.LogFieldsOf(err)...)

	if e.retry.Exhausted(attempts) {
		e.logger.ErrorCtx(ctx, "giving up on expired message", err, fields...)
		if aerr := e.queue.Abandon(sctx, entry, err); aerr != nil && !errors.Is(aerr, expiry.ErrNotFound) {
			return errors.Join(err, fmt.Errorf("abandon expiry: %w", aerr))
		}
		return fmt.Errorf("expiry %d/%d abandoned: %w", entry.ChatID, entry.MessageID, err)
	}

	nextDue := e.retry.NextDue(e.now(), attempts, err)
	fields = append(fields, logger.Field{Key: "next_due", Value: nextDue})
	e.logger.WarnCtx(ctx, "failed to delete expired message", fields...)
	if ferr := e.queue.MarkFailed(sctx, entry, err, nextDue); ferr != nil && !errors.Is(ferr, expiry.ErrNotFound) {
		return errors.Join(err, fmt.Errorf("mark expiry failed: %w", ferr))
	}
	return fmt.Errorf("expiry %d/%d: %w", entry.ChatID, entry.MessageID, err)
}
