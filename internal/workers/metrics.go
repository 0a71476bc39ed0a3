package workers

import (
	"time"
)

// Metrics returns the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

func (p *WorkerPool) incrementSubmitted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.TasksSubmitted++
}

func (p *WorkerPool) incrementCompleted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.TasksCompleted++
}

func (p *WorkerPool) incrementFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.TasksFailed++
}

func (p *WorkerPool) incrementSkipped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.TasksSkipped++
}

func (p *WorkerPool) incrementTimedOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.TasksFailed++
	p.metrics.TasksTimedOut++
}

// recordDuration records task execution duration.
func (p *WorkerPool) recordDuration(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.TotalDuration += d
}
