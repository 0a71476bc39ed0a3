package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/chronobot/internal/app"
	"github.com/aatumaykin/chronobot/internal/logger"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler (main command)",
	Long: `Start chronobot with the given configuration: open storage, verify the
Telegram token, import tenant documents, then run the scheduler loop, update
polling and the metrics endpoint until SIGINT or SIGTERM.`,
	RunE: serveHandler,
}

func serveHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	logger.SetDefault(log)

	log.Info("Starting chronobot",
		logger.Field{Key: "config", Value: configPath},
		logger.Field{Key: "storage", Value: cfg.Storage.Path},
		logger.Field{Key: "counter", Value: cfg.Counter.Driver},
		logger.Field{Key: "tick_seconds", Value: cfg.Scheduler.TickSeconds},
		logger.Field{Key: "workers", Value: cfg.Scheduler.Workers},
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, log, appOptions...).Run(ctx); err != nil {
		log.Error("chronobot stopped with error", err)
		return err
	}

	log.Info("chronobot stopped gracefully")
	return nil
}
