package app

import (
	"context"
	"errors"
	"time"
)

// shutdownTimeout bounds waiting for in-flight dispatches.
const shutdownTimeout = 30 * time.Second

// Shutdown performs graceful shutdown of all components.
// It stops the application in the following order:
//  1. Cancels the application context (polling and the watcher end)
//  2. Stops the scheduler, waiting for the current tick to drain
//  3. Stops the metrics endpoint
//  4. Closes the counter and the database
//
// The method is thread-safe and can be called more than once.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel == nil {
		return nil
	}

	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error

	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Error("Failed to stop scheduler", err)
			errs = append(errs, err)
		}
	}

	a.wg.Wait()

	if a.telemetry != nil && a.telemetry.Server != nil {
		if err := a.telemetry.Server.Shutdown(ctx); err != nil {
			a.logger.Error("Failed to stop metrics server", err)
			errs = append(errs, err)
		}
	}

	if a.persistence != nil {
		if err := a.persistence.Close(); err != nil {
			a.logger.Error("Failed to close storage", err)
			errs = append(errs, err)
		}
		a.persistence = nil
	}

	a.cancel = nil
	a.started = false

	a.logger.Info("Application shutdown complete")
	return errors.Join(errs...)
}
