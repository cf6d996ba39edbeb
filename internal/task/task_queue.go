package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Delivery is a job handed to a worker. Ack it once the job has been
// executed so it is not delivered again.
type Delivery struct {
	Job Job
	ack func(ctx context.Context) error
}

// Ack confirms the job was executed.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Queue carries jobs from submitters to workers.
type Queue interface {
	// Enqueue adds a job. It returns ErrQueueFull or ErrQueueClosed when
	// the job cannot be accepted.
	Enqueue(ctx context.Context, job Job) error

	// Dequeue waits for the next job. It returns ErrQueueClosed after Close
	// and ctx.Err() when ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)

	// Durable reports whether queued jobs survive a process restart. Jobs
	// in a non-durable queue are recovered from the task store on start.
	Durable() bool

	// Close stops the queue from accepting jobs.
	Close() error
}

// MemoryQueue implements a buffered in-process job queue. Jobs are lost
// when the process exits, so the runner recovers them from the store.
type MemoryQueue struct {
	mu     sync.RWMutex
	jobs   chan Job
	logger *slog.Logger
	closed bool
}

// NewMemoryQueue creates a new job queue with the specified buffer size
func NewMemoryQueue(size int, logger *slog.Logger) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{
		jobs:   make(chan Job, size),
		logger: logger,
	}
}

// Enqueue adds a job to the queue for processing
// Returns an error if the queue is full or closed
func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	// Try to add the job to the channel
	select {
	case q.jobs <- job:
		q.logger.Debug("task enqueued",
			"task_id", job.TaskID,
			"task_type", job.Type,
			"queue_len", len(q.jobs),
			"queue_cap", cap(q.jobs))
		return nil
	default:
		// Channel is full
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.jobs))
	}
}

// Dequeue waits for the next job. Buffered jobs are still handed out after
// Close.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-q.jobs:
		if !ok {
			return nil, ErrQueueClosed
		}
		return &Delivery{Job: job}, nil
	}
}

// Durable is false: jobs live only in process memory.
func (q *MemoryQueue) Durable() bool {
	return false
}

// Len returns the number of buffered jobs.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

// Close closes the queue, preventing further job submission
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.jobs)
		q.logger.Info("task queue closed")
	}
	return nil
}
