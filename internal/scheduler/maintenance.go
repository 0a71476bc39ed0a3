package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aatumaykin/chronobot/internal/logger"
)

// startMaintenance registers the purge job. Runs never overlap.
func (s *Scheduler) startMaintenance(ctx context.Context) error {
	if s.cfg.PurgeSchedule == "" {
		return nil
	}

	cl := cronLogger{log: s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.cfg.PurgeSchedule, func() {
		if _, err := s.Purge(ctx); err != nil {
			s.logger.Error("expiry purge failed", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", s.cfg.PurgeSchedule, err)
	}

	s.cron = c
	c.Start()
	s.logger.Info("maintenance scheduled", logger.Field{Key: "purge_schedule", Value: s.cfg.PurgeSchedule})
	return nil
}

// Purge removes finished expiry entries older than the retention period.
func (s *Scheduler) Purge(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.deps.Expiries.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged finished expiry entries",
			logger.Field{Key: "count", Value: n},
			logger.Field{Key: "older_than", Value: cutoff})
	}
	return n, nil
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, err, kvFields(keysAndValues)...)
}

func kvFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Field{Key: fmt.Sprint(kv[i]), Value: kv[i+1]})
	}
	return fields
}
