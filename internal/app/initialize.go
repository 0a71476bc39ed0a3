package app

import (
	"context"
	"fmt"

	"github.com/aatumaykin/chronobot/internal/app/builders"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/tenantsync"
	"github.com/aatumaykin/chronobot/internal/version"
)

// Initialize builds all components without starting background work:
// storage, metrics, Telegram client, ingestion hook, scheduler, and the
// initial import of the tenants directory.
func (a *App) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// 1. Create application context
	a.ctx, a.cancel = context.WithCancel(ctx)

	var fields []logger.Field
	for k, v := range version.StartupFields() {
		fields = append(fields, logger.Field{Key: k, Value: v})
	}
	a.logger.Info("chronobot starting", fields...)

	// 2. Storage, counter, expiry queue
	p, err := builders.NewStorageBuilder(a.config, a.logger).Build(a.ctx)
	if err != nil {
		return err
	}
	a.persistence = p

	// 3. Metrics
	a.telemetry = builders.NewMetricsBuilder(a.config, a.logger).Build(p.Store.Ping)

	// 4. Telegram client
	client, err := builders.NewTelegramBuilder(a.config, a.logger, a.bot).Build(a.ctx)
	if err != nil {
		return err
	}
	a.telegram = client

	// 5. Ingestion hook and scheduler
	a.observer = newObserver(p, a.logger)
	a.scheduler = builders.NewSchedulerBuilder(a.config, a.logger).Build(p, client, a.telemetry.Metrics)

	// 6. Tenant documents
	if dir := a.config.Tenants.Dir; dir != "" {
		a.syncer = tenantsync.New(dir, p.Store, p.Counter, a.logger)
		if _, err := a.syncer.ImportDir(a.ctx); err != nil {
			// битые документы не мешают остальным тенантам
			a.logger.Warn("some tenant documents were rejected",
				logger.Field{Key: "error", Value: err.Error()})
		}
	}

	a.started = true
	return nil
}

// Start launches the metrics endpoint, the scheduler loop, update polling
// and the tenant watcher.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return fmt.Errorf("application is not initialized")
	}

	if srv := a.telemetry.Server; srv != nil {
		if err := srv.Start(); err != nil {
			return err
		}
	}

	if err := a.scheduler.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if a.config.Telegram.PollUpdates {
		a.startIngestion(a.ctx)
	}

	if a.syncer != nil && a.config.Tenants.Watch {
		a.goBackground("tenant watcher", a.syncer.Watch)
	}
	return nil
}

// goBackground runs fn until the app context ends and logs its failure.
func (a *App) goBackground(name string, fn func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := fn(a.ctx); err != nil {
			a.logger.Error(name+" stopped", err)
		}
	}()
}
