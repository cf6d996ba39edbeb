package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// WorkerPool manages a pool of worker goroutines that take jobs from a
// queue and run them through the executor. It handles graceful shutdown
// and worker lifecycle.
type WorkerPool struct {
	// queue provides the jobs to be processed
	queue Queue

	// executor runs each job
	executor *Executor

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is used for cancellation and shutdown signaling
	ctx context.Context

	// cancel is the function to call to cancel the context
	cancel context.CancelFunc

	// logger for structured logging
	logger *slog.Logger

	// retryDelay is the pause after a failed dequeue
	retryDelay time.Duration
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 2,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(queue Queue, executor *Executor, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	// Apply defaults for invalid config values
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	return &WorkerPool{
		queue:       queue,
		executor:    executor,
		workerCount: workerCount,
		logger:      logger,
		retryDelay:  time.Second,
	}
}

// Start launches the workers. Jobs run with a context derived from ctx that
// is not cancelled by Stop, so in-flight jobs finish.
func (p *WorkerPool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	jobCtx := context.WithoutCancel(ctx)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(jobCtx, i)
	}
	p.logger.Info("worker pool started", "worker_count", p.workerCount)
}

// Stop signals the workers to stop and waits for in-flight jobs.
func (p *WorkerPool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// worker takes jobs from the queue until the pool is stopped
func (p *WorkerPool) worker(jobCtx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("starting worker")

	for {
		delivery, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				logger.Debug("stopping worker")
				return
			}
			logger.Error("failed to dequeue task", "error", err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
			continue
		}

		p.process(jobCtx, logger, delivery)
	}
}

// process executes one delivery and acknowledges it unless the store was
// unavailable, in which case the queue may deliver it again.
func (p *WorkerPool) process(ctx context.Context, logger *slog.Logger, d *Delivery) {
	outcome, err := p.executor.Execute(ctx, d.Job)
	if err != nil {
		logger.Error("task execution interrupted, leaving for redelivery",
			"task_id", d.Job.TaskID,
			"task_type", d.Job.Type,
			"error", err)
		return
	}
	if err := d.Ack(ctx); err != nil {
		logger.Error("failed to acknowledge task", "task_id", d.Job.TaskID, "error", err)
		return
	}
	logger.Debug("task processed",
		"task_id", d.Job.TaskID,
		"skipped", outcome.Skipped,
		"status", outcome.Status)
}
