// Package workers provides the bounded worker pool that executes one
// scheduler tick's work units: broadcast dispatches and expiry deletions.
// Run blocks until every submitted task has produced a result, which is
// what keeps ticks from overlapping.
package workers

import (
	"context"
	"time"
)

// Task types.
const (
	TypeBroadcast = "broadcast"
	TypeExpiry    = "expiry"
)

// Task represents a unit of work to be executed by a worker.
type Task struct {
	ID   string // Unique task identifier, used in logs
	Type string // TypeBroadcast or TypeExpiry
	// Key serializes work on one resource: while a task with the same Key
	// is still running (even past its timeout), a new one is skipped.
	Key string
	Run TaskExecutor
}

// Result represents the outcome of a task execution.
type Result struct {
	TaskID   string
	Type     string
	Error    error         // Error if execution failed
	Duration time.Duration // Execution duration
	Skipped  bool          // Key was still in flight
	Panicked bool
	TimedOut bool
}

// PoolMetrics tracks execution metrics for the worker pool.
type PoolMetrics struct {
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksFailed    uint64
	TasksSkipped   uint64
	TasksTimedOut  uint64
	TotalDuration  time.Duration
}

// TaskExecutor is the task body. It must honour ctx.
type TaskExecutor func(ctx context.Context) error

// Constants for worker pool configuration
const (
	DefaultTaskTimeout = 30 * time.Second
	DefaultPoolSize    = 8
)
