// Package app provides the main application structure for chronobot.
// It coordinates the storage layer, the Telegram client, the scheduler loop,
// update ingestion, tenant hot reload and the metrics endpoint.
package app

import (
	"context"
	"sync"

	"github.com/aatumaykin/chronobot/internal/app/builders"
	"github.com/aatumaykin/chronobot/internal/channels/telegram"
	"github.com/aatumaykin/chronobot/internal/config"
	"github.com/aatumaykin/chronobot/internal/ingest"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/scheduler"
	"github.com/aatumaykin/chronobot/internal/tenantsync"
)

// App represents the main application structure.
// It holds references to all major components and manages their lifecycle.
type App struct {
	// Configuration and core services
	config *config.Config
	logger *logger.Logger

	// Storage, counter and expiry queue
	persistence *builders.Persistence

	// Messaging boundary
	bot      telegram.BotInterface // optional override, used by tests
	telegram *telegram.Client

	// Engine
	scheduler *scheduler.Scheduler
	observer  *ingest.Observer
	syncer    *tenantsync.Syncer
	telemetry *builders.Telemetry

	// Background goroutines (poller, watcher)
	wg sync.WaitGroup

	// Context management
	ctx    context.Context
	cancel context.CancelFunc

	// Thread-safety
	mu      sync.Mutex
	started bool
}

// Option configures an App.
type Option func(*App)

// WithBot replaces the Bot API client.
func WithBot(bot telegram.BotInterface) Option {
	return func(a *App) { a.bot = bot }
}

// New creates a new App instance with the provided configuration and logger.
// Components are built in Initialize().
func New(cfg *config.Config, log *logger.Logger, opts ...Option) *App {
	a := &App{
		config: cfg,
		logger: log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until the context is cancelled.
// It performs the following steps:
//  1. Initializes all components via Initialize()
//  2. Starts the scheduler and background work via Start()
//  3. Waits for the context to be cancelled
//  4. Performs graceful shutdown via Shutdown()
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		_ = a.Shutdown()
		return err
	}

	if err := a.Start(); err != nil {
		_ = a.Shutdown()
		return err
	}

	a.logger.Info("Application is running")

	<-ctx.Done()

	return a.Shutdown()
}

// Scheduler returns the scheduler, available after Initialize.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Observer returns the ingestion hook, available after Initialize.
func (a *App) Observer() *ingest.Observer {
	return a.observer
}

// Persistence returns the storage layer, available after Initialize.
func (a *App) Persistence() *builders.Persistence {
	return a.persistence
}
