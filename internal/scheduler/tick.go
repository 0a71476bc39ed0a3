package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/chronobot/internal/channels"
	"github.com/aatumaykin/chronobot/internal/clock"
	"github.com/aatumaykin/chronobot/internal/dispatch"
	"github.com/aatumaykin/chronobot/internal/expiry"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/recurrence"
	"github.com/aatumaykin/chronobot/internal/storage"
	"github.com/aatumaykin/chronobot/internal/tenant"
	"github.com/aatumaykin/chronobot/internal/workers"
)

// TickReport is the per-tick health signal.
type TickReport struct {
	TickID            string
	Started           time.Time
	Duration          time.Duration
	Tenants           int
	TenantErrors      int // tenants skipped because their counter could not be read
	Evaluated         int
	Due               int
	Dispatched        int
	BroadcastFailures int
	SkippedInFlight   int
	ExpiriesPopped    int
	Expired           int
	ExpiryFailures    int
	Overrun           bool
}

// Failed reports whether any unit of work failed.
func (r TickReport) Failed() bool {
	return r.TenantErrors > 0 || r.BroadcastFailures > 0 || r.ExpiryFailures > 0
}

func (r TickReport) fields() []logger.Field {
	return []logger.Field{
		{Key: "tick_id", Value: r.TickID},
		{Key: "duration_ms", Value: r.Duration.Milliseconds()},
		{Key: "tenants", Value: r.Tenants},
		{Key: "tenant_errors", Value: r.TenantErrors},
		{Key: "evaluated", Value: r.Evaluated},
		{Key: "due", Value: r.Due},
		{Key: "dispatched", Value: r.Dispatched},
		{Key: "broadcast_failures", Value: r.BroadcastFailures},
		{Key: "skipped_in_flight", Value: r.SkippedInFlight},
		{Key: "expiries_popped", Value: r.ExpiriesPopped},
		{Key: "expired", Value: r.Expired},
		{Key: "expiry_failures", Value: r.ExpiryFailures},
		{Key: "overrun", Value: r.Overrun},
	}
}

// Evaluation is the verdict for one enabled item.
type Evaluation struct {
	Key           tenant.Key
	Local         clock.LocalTime
	MessagesSince int64
	Verdict       recurrence.Verdict
	broadcast     dispatch.Broadcast
}

// Plan evaluates every enabled item without dispatching anything. Local
// time is resolved per tenant right before its items are evaluated. A
// tenant whose counter cannot be read is reported in the error and skipped.
func (s *Scheduler) Plan(ctx context.Context) ([]Evaluation, int, error) {
	tenants, err := s.deps.Tenants.ActiveTenants(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load active tenants: %w", err)
	}

	var (
		out  []Evaluation
		errs []error
	)
	for i := range tenants {
		t := &tenants[i]
		total, err := s.deps.Counter.Total(ctx, t.ChatID)
		if err != nil {
			errs = append(errs, fmt.Errorf("chat %d: read counter: %w", t.ChatID, err))
			continue
		}
		local := clock.At(t.TimeZone, s.now())

		for j := range t.Broadcasts {
			item := &t.Broadcasts[j]
			key := tenant.Key{ChatID: t.ChatID, Index: item.Index}
			since := item.Bookkeeping.MessagesSince(total)
			out = append(out, Evaluation{
				Key:           key,
				Local:         local,
				MessagesSince: since,
				Verdict:       recurrence.Evaluate(item, local, since),
				broadcast: dispatch.Broadcast{
					Key:          key,
					Item:         *item,
					Policies:     t.Policies,
					CounterTotal: total,
				},
			})
		}
	}
	return out, len(tenants), errors.Join(errs...)
}

// Tick runs one full cycle and returns its report. It returns only after
// every work unit finished or timed out.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	report := TickReport{TickID: uuid.NewString(), Started: s.now()}
	ctx = logger.WithFields(ctx, logger.Field{Key: "tick_id", Value: report.TickID})

	var tasks []workers.Task

	evals, tenants, err := s.Plan(ctx)
	report.Tenants = tenants
	if err != nil {
		report.TenantErrors = countJoined(err)
		s.logger.ErrorCtx(ctx, "tenant evaluation failed", err)
	}
	for _, ev := range evals {
		report.Evaluated++
		if !ev.Verdict.Due {
			s.logger.DebugCtx(ctx, "item not due",
				logger.Field{Key: "item", Value: ev.Key.String()},
				logger.Field{Key: "reason", Value: string(ev.Verdict.Reason)})
			continue
		}
		report.Due++
		b := ev.broadcast
		tasks = append(tasks, workers.Task{
			ID:   "broadcast:" + b.Key.String(),
			Type: workers.TypeBroadcast,
			Key:  "broadcast:" + b.Key.String(),
			Run: func(ctx context.Context) error {
				return s.deps.Dispatcher.ExecuteBroadcast(ctx, b)
			},
		})
	}

	entries, err := s.popDue(ctx, report.Started)
	if err != nil {
		s.logger.ErrorCtx(ctx, "failed to pop due expiries", err)
	}
	report.ExpiriesPopped = len(entries)
	for _, e := range entries {
		// PopDue already claimed the entry, no key needed
		tasks = append(tasks, workers.Task{
			ID:   fmt.Sprintf("expiry:%d/%d", e.ChatID, e.MessageID),
			Type: workers.TypeExpiry,
			Run: func(ctx context.Context) error {
				return s.deps.Dispatcher.ExecuteExpiry(ctx, e)
			},
		})
	}

	for _, res := range s.pool.Run(ctx, tasks) {
		outcome := outcomeOf(res)
		s.deps.Recorder.ObserveDispatch(res.Type, outcome)

		switch {
		case res.Type == workers.TypeBroadcast && res.Skipped:
			report.SkippedInFlight++
		case res.Type == workers.TypeBroadcast && res.Error != nil:
			report.BroadcastFailures++
		case res.Type == workers.TypeBroadcast:
			report.Dispatched++
		case res.Error != nil:
			report.ExpiryFailures++
		default:
			report.Expired++
		}
	}

	report.Duration = s.now().Sub(report.Started)
	report.Overrun = report.Duration > s.cfg.Interval

	s.finishTick(ctx, report)
	return report
}

// popDue drains every entry due at now in batches.
func (s *Scheduler) popDue(ctx context.Context, now time.Time) ([]expiry.Entry, error) {
	var all []expiry.Entry
	for {
		batch, err := s.deps.Expiries.PopDue(ctx, now, s.cfg.ExpiryBatchSize)
		if err != nil {
			return all, err
		}
		all = append(all, batch...)
		if len(batch) < s.cfg.ExpiryBatchSize {
			return all, nil
		}
	}
}

func (s *Scheduler) finishTick(ctx context.Context, report TickReport) {
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	rec := s.deps.Recorder
	rec.ObserveTick(report.Duration, report.Tenants, report.Overrun)
	rec.SetPoolInFlight(s.pool.InFlight())
	if stats, err := s.deps.Expiries.Stats(ctx); err == nil {
		for _, st := range []expiry.Status{expiry.StatusPending, expiry.StatusInFlight, expiry.StatusFailed, expiry.StatusDone, expiry.StatusAbandoned} {
			rec.SetExpiryBacklog(string(st), stats[st])
		}
	}

	if report.Failed() || report.Overrun {
		s.logger.WarnCtx(ctx, "tick completed with problems", report.fields()...)
		return
	}
	s.logger.InfoCtx(ctx, "tick completed", report.fields()...)
}

// outcomeOf labels a work unit result for metrics.
func outcomeOf(res workers.Result) string {
	switch {
	case res.Skipped:
		return "skipped"
	case res.Error == nil:
		return "ok"
	case res.Panicked:
		return "panic"
	case errors.Is(res.Error, storage.ErrConflict):
		return "conflict"
	}
	var de *channels.DeliveryError
	if errors.As(res.Error, &de) {
		return string(de.Kind)
	}
	if res.TimedOut {
		return string(channels.KindTimeout)
	}
	return "error"
}

func countJoined(err error) int {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return len(j.Unwrap())
	}
	return 1
}
