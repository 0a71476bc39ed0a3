package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aatumaykin/chronobot/internal/logger"
)

// processTask handles a single task execution with metrics and error handling.
func (p *WorkerPool) processTask(ctx context.Context, workerID int, task Task) Result {
	if !p.acquire(task.Key) {
		p.incrementSkipped()
		p.logger.WarnCtx(ctx, "task skipped, previous run still in flight",
			logger.Field{Key: "task_id", Value: task.ID},
			logger.Field{Key: "task_type", Value: task.Type},
			logger.Field{Key: "key", Value: task.Key})
		return Result{TaskID: task.ID, Type: task.Type, Skipped: true}
	}

	startTime := time.Now()
	p.logger.DebugCtx(ctx, "processing task",
		logger.Field{Key: "worker_id", Value: workerID},
		logger.Field{Key: "task_id", Value: task.ID},
		logger.Field{Key: "task_type", Value: task.Type})

	result := p.execute(ctx, task)
	result.Duration = time.Since(startTime)

	switch {
	case result.Error == nil:
		p.incrementCompleted()
	case result.TimedOut:
		p.incrementTimedOut()
	default:
		p.incrementFailed()
	}
	p.recordDuration(result.Duration)

	p.logger.DebugCtx(ctx, "task processed",
		logger.Field{Key: "worker_id", Value: workerID},
		logger.Field{Key: "task_id", Value: task.ID},
		logger.Field{Key: "duration_ms", Value: result.Duration.Milliseconds()},
		logger.Field{Key: "error", Value: result.Error})

	return result
}

// execute runs the task body with panic recovery and the per-task timeout.
// When the timeout fires first the body keeps running in the background and
// its key stays in flight until it returns.
func (p *WorkerPool) execute(parent context.Context, task Task) Result {
	result := Result{TaskID: task.ID, Type: task.Type}
	if task.Run == nil {
		p.release(task.Key)
		result.Error = fmt.Errorf("task %s has no executor", task.ID)
		return result
	}

	ctx, cancel := context.WithTimeout(parent, p.taskTimeout)
	defer cancel()

	done := make(chan Result, 1)

	p.running.Add(1)
	go func() {
		defer p.running.Done()

		var err error
		defer func() {
			out := Result{Error: err}
			if r := recover(); r != nil {
				out = Result{Error: fmt.Errorf("panic during task execution: %v", r), Panicked: true}
				p.logger.ErrorCtx(ctx, "task panic recovered", out.Error,
					logger.Field{Key: "task_id", Value: task.ID})
			}
			p.release(task.Key)
			done <- out
		}()

		err = task.Run(ctx)
	}()

	var out Result
	select {
	case out = <-done:
	case <-ctx.Done():
		select {
		case out = <-done:
		default:
			result.Error = ctx.Err()
			result.TimedOut = errors.Is(result.Error, context.DeadlineExceeded)
			p.logger.WarnCtx(parent, "task abandoned after timeout",
				logger.Field{Key: "task_id", Value: task.ID},
				logger.Field{Key: "timeout", Value: p.taskTimeout.String()})
			return result
		}
	}

	result.Error = out.Error
	result.Panicked = out.Panicked
	result.TimedOut = out.Error != nil && errors.Is(out.Error, context.DeadlineExceeded)
	return result
}
