package builders

import (
	"github.com/aatumaykin/chronobot/internal/channels"
	"github.com/aatumaykin/chronobot/internal/config"
	"github.com/aatumaykin/chronobot/internal/dispatch"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/retry"
	"github.com/aatumaykin/chronobot/internal/scheduler"
)

type SchedulerBuilder struct {
	config *config.Config
	logger *logger.Logger
}

func NewSchedulerBuilder(cfg *config.Config, log *logger.Logger) *SchedulerBuilder {
	return &SchedulerBuilder{
		config: cfg,
		logger: log,
	}
}

// Build wires the dispatch executor and the scheduler loop. recorder may be
// nil.
func (b *SchedulerBuilder) Build(p *Persistence, messenger channels.Messenger, recorder scheduler.Recorder) *scheduler.Scheduler {
	ec := b.config.Expiry
	exec := dispatch.NewExecutor(messenger, p.Store, p.Queue, retry.Config{
		MaxAttempts:    ec.MaxAttempts,
		InitialBackoff: ec.InitialBackoff(),
		MaxBackoff:     ec.MaxBackoff(),
	}, b.logger)

	sc := b.config.Scheduler
	return scheduler.New(scheduler.Config{
		Interval:        sc.Interval(),
		Workers:         sc.Workers,
		DispatchTimeout: sc.DispatchTimeout(),
		ExpiryBatchSize: sc.ExpiryBatchSize,
		Retention:       ec.Retention(),
		PurgeSchedule:   ec.PurgeSchedule,
	}, scheduler.Deps{
		Tenants:    p.Store,
		Counter:    p.Counter,
		Expiries:   p.Queue,
		Dispatcher: exec,
		Recorder:   recorder,
	}, b.logger)
}
