package workers

import (
	"context"
	"sync"
	"time"

	"github.com/aatumaykin/chronobot/internal/logger"
)

// WorkerPool caps concurrent work units and tracks keys still in flight.
type WorkerPool struct {
	workers     int
	taskTimeout time.Duration
	logger      *logger.Logger

	mu       sync.Mutex
	metrics  PoolMetrics
	inFlight map[string]struct{}
	running  sync.WaitGroup // task bodies, including ones past their timeout
}

// NewPool creates a new worker pool with the specified configuration.
func NewPool(workers int, taskTimeout time.Duration, log *logger.Logger) *WorkerPool {
	if workers <= 0 {
		workers = DefaultPoolSize
	}
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}
	return &WorkerPool{
		workers:     workers,
		taskTimeout: taskTimeout,
		logger:      log,
		inFlight:    make(map[string]struct{}),
	}
}

// Run executes tasks on at most WorkerCount goroutines and returns one
// result per task, in input order, after all of them finished or timed out.
func (p *WorkerPool) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	type job struct {
		idx  int
		task Task
	}
	queue := make(chan job)

	workers := min(p.workers, len(tasks))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range queue {
				results[j.idx] = p.processTask(ctx, id, j.task)
			}
		}(i)
	}

	for i, task := range tasks {
		p.incrementSubmitted()
		queue <- job{idx: i, task: task}
	}
	close(queue)
	wg.Wait()

	return results
}

// Wait blocks until every task body has returned, including ones abandoned
// after a timeout. Used on shutdown.
func (p *WorkerPool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WorkerCount returns the number of workers.
func (p *WorkerPool) WorkerCount() int {
	return p.workers
}

// InFlight returns the number of keys whose task body is still running.
func (p *WorkerPool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// acquire marks key as in flight; false if it already is.
func (p *WorkerPool) acquire(key string) bool {
	if key == "" {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[key]; busy {
		return false
	}
	p.inFlight[key] = struct{}{}
	return true
}

func (p *WorkerPool) release(key string) {
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, key)
}
