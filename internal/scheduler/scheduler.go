// Package scheduler is the orchestrating loop of the engine. Every tick it
// evaluates the enabled broadcast items of all tenants, claims the expiry
// entries due at tick start and runs both kinds of work on a bounded worker
// pool. Ticks never overlap: a tick that overruns its interval defers the
// next one to the following interval boundary.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aatumaykin/chronobot/internal/dispatch"
	"github.com/aatumaykin/chronobot/internal/expiry"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/tenant"
	"github.com/aatumaykin/chronobot/internal/workers"
)

const (
	DefaultInterval        = time.Minute
	DefaultExpiryBatchSize = 500
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultPurgeSchedule   = "@daily"
)

// Config holds loop settings.
type Config struct {
	Interval        time.Duration
	Workers         int
	DispatchTimeout time.Duration // per work unit, enforced by the pool
	ExpiryBatchSize int
	Retention       time.Duration // done/abandoned expiry rows older than this are purged
	PurgeSchedule   string        // robfig/cron expression, empty disables the purge job
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ExpiryBatchSize <= 0 {
		c.ExpiryBatchSize = DefaultExpiryBatchSize
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	return c
}

// TenantSource lists tenants with at least one enabled item.
type TenantSource interface {
	ActiveTenants(ctx context.Context) ([]tenant.Tenant, error)
}

// CounterReader reads chat message totals.
type CounterReader interface {
	Total(ctx context.Context, chatID int64) (int64, error)
}

// ExpiryStore is the part of the expiry queue the loop drives.
type ExpiryStore interface {
	PopDue(ctx context.Context, now time.Time, limit int) ([]expiry.Entry, error)
	RecoverInFlight(ctx context.Context) (int64, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
	Stats(ctx context.Context) (map[expiry.Status]int64, error)
}

// Dispatcher executes work units.
type Dispatcher interface {
	ExecuteBroadcast(ctx context.Context, b dispatch.Broadcast) error
	ExecuteExpiry(ctx context.Context, e expiry.Entry) error
}

// Recorder receives the health signal. *metrics.PrometheusMetrics
// implements it.
type Recorder interface {
	ObserveTick(duration time.Duration, tenants int, overrun bool)
	ObserveDispatch(kind, outcome string)
	SetExpiryBacklog(status string, count int64)
	SetPoolInFlight(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTick(time.Duration, int, bool) {}
func (nopRecorder) ObserveDispatch(string, string)       {}
func (nopRecorder) SetExpiryBacklog(string, int64)       {}
func (nopRecorder) SetPoolInFlight(int)                  {}

// Deps are the collaborators of the loop.
type Deps struct {
	Tenants    TenantSource
	Counter    CounterReader
	Expiries   ExpiryStore
	Dispatcher Dispatcher
	Recorder   Recorder // optional
}

// Scheduler runs ticks.
type Scheduler struct {
	cfg    Config
	deps   Deps
	pool   *workers.WorkerPool
	cron   *cron.Cron
	logger *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	last    TickReport
}

// New creates a scheduler.
func New(cfg Config, deps Deps, log *logger.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		pool:   workers.NewPool(cfg.Workers, cfg.DispatchTimeout, log),
		logger: log,
		now:    time.Now,
	}
}

// Start recovers expiry entries left in flight by a previous process,
// schedules the maintenance job and starts the tick loop. The first tick
// runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	if _, err := s.deps.Expiries.RecoverInFlight(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	if err := s.startMaintenance(loopCtx); err != nil {
		cancel()
		return err
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	s.logger.Info("scheduler started",
		logger.Field{Key: "interval", Value: s.cfg.Interval.String()},
		logger.Field{Key: "workers", Value: s.pool.WorkerCount()})

	go s.run(loopCtx, s.done)
	return nil
}

// Stop cancels the loop context: a running tick aborts its in-flight sends
// and deletes, which then fail like any other dispatch and are retried
// later. Stop waits for the tick to return and for work units that
// outlived their timeout, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	s.logger.Info("scheduler stopping")
	cancel()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for tick: %w", ctx.Err()))
	}
	if s.cron != nil {
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
		}
	}
	if err := s.pool.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for in-flight work: %w", err))
	}

	m := s.pool.Metrics()
	s.logger.Info("scheduler stopped",
		logger.Field{Key: "tasks_submitted", Value: m.TasksSubmitted},
		logger.Field{Key: "tasks_failed", Value: m.TasksFailed},
		logger.Field{Key: "tasks_skipped", Value: m.TasksSkipped},
		logger.Field{Key: "tasks_timed_out", Value: m.TasksTimedOut},
		logger.Field{Key: "busy_time", Value: m.TotalDuration})
	return errors.Join(errs...)
}

// LastReport returns the report of the most recent tick.
func (s *Scheduler) LastReport() TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	next := s.now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		report := s.Tick(ctx)

		next = next.Add(s.cfg.Interval)
		now := s.now()
		missed := 0
		for !next.After(now) {
			next = next.Add(s.cfg.Interval)
			missed++
		}
		if missed > 0 {
			s.logger.Warn("tick overran its interval, next tick deferred",
				logger.Field{Key: "tick_id", Value: report.TickID},
				logger.Field{Key: "duration", Value: report.Duration.String()},
				logger.Field{Key: "missed_ticks", Value: missed})
		}
		timer.Reset(next.Sub(now))
	}
}
