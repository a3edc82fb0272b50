package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dandantas/kestrel/internal/model"
)

// ExecutorFunc is a function that runs one workflow step invocation
type ExecutorFunc func(ctx context.Context, execution *model.WorkflowExecution)

// Job represents one due workflow step invocation
type Job struct {
	Execution *model.WorkflowExecution
	Context   context.Context
}

// Pool manages a pool of worker goroutines executing workflow steps
// concurrently across models
type Pool struct {
	workers    int
	jobs       chan Job
	executorFn ExecutorFunc
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewPool creates a new worker pool
func NewPool(workers int, queueSize int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers: workers,
		jobs:    make(chan Job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetExecutor sets the executor function that will process jobs
func (p *Pool) SetExecutor(fn ExecutorFunc) {
	p.executorFn = fn
}

// Start starts the worker pool
func (p *Pool) Start() {
	slog.Info("Starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops the worker pool gracefully, draining queued jobs first
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool")

	close(p.jobs)
	p.wg.Wait()
	p.cancel()

	slog.Info("Worker pool stopped")
}

// Submit submits a step invocation to the worker pool
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		slog.Debug("Step invocation submitted to worker pool",
			"workflow_id", job.Execution.WorkflowID,
			"model_id", job.Execution.ModelID,
			"step", job.Execution.StepName,
		)
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// QueueLength returns the current number of queued invocations
func (p *Pool) QueueLength() int {
	return len(p.jobs)
}

// worker is the worker goroutine that processes step invocations
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	slog.Debug("Worker started", "worker_id", id)

	for job := range p.jobs {
		slog.Debug("Worker processing step invocation",
			"worker_id", id,
			"workflow_id", job.Execution.WorkflowID,
			"model_id", job.Execution.ModelID,
			"step", job.Execution.StepName,
		)

		p.executorFn(job.Context, job.Execution)
	}

	slog.Debug("Worker stopped", "worker_id", id)
}
