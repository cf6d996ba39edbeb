package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/insurance-ai/backoffice/internal/stream"
)

// TasksTopic is the topic name, under the namespace, that carries jobs.
const TasksTopic = "tasks"

// StreamQueueConfig holds StreamQueue settings.
type StreamQueueConfig struct {
	Namespace string
	// Group is shared by every worker process.
	Group    string
	Consumer string
	// VisibilityTimeout is how long a delivered job may stay unacknowledged
	// before another worker takes it over. Keep it above the task time limit.
	VisibilityTimeout time.Duration
	// Block bounds each wait for new jobs.
	Block time.Duration
	// ClaimInterval is how often stale deliveries are taken over.
	ClaimInterval time.Duration
}

// DefaultStreamQueueConfig returns a StreamQueueConfig with reasonable defaults
func DefaultStreamQueueConfig() StreamQueueConfig {
	return StreamQueueConfig{
		Namespace:         "insurance_ai",
		Group:             "workers",
		Consumer:          "worker",
		VisibilityTimeout: time.Hour,
		Block:             time.Second,
		ClaimInterval:     30 * time.Second,
	}
}

// StreamQueue is a durable job queue on the stream transport. Jobs are
// acknowledged after execution, so a job whose worker died is delivered
// again once its visibility timeout passes.
type StreamQueue struct {
	transport stream.Transport
	topic     string
	config    StreamQueueConfig
	logger    *slog.Logger

	mu        sync.Mutex
	lastClaim time.Time
	closed    bool
}

// NewStreamQueue creates the worker group if needed and returns the queue.
func NewStreamQueue(
	ctx context.Context,
	transport stream.Transport,
	config StreamQueueConfig,
	logger *slog.Logger,
) (*StreamQueue, error) {
	defaults := DefaultStreamQueueConfig()
	if config.Group == "" {
		config.Group = defaults.Group
	}
	if config.Consumer == "" {
		config.Consumer = defaults.Consumer
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = defaults.VisibilityTimeout
	}
	if config.Block <= 0 {
		config.Block = defaults.Block
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = defaults.ClaimInterval
	}

	q := &StreamQueue{
		transport: transport,
		topic:     stream.Topic(config.Namespace, TasksTopic),
		config:    config,
		logger:    logger.With("component", "stream_queue", "consumer", config.Consumer),
	}
	if err := transport.EnsureGroup(ctx, q.topic, config.Group); err != nil {
		return nil, fmt.Errorf("failed to create worker group: %w", err)
	}
	return q, nil
}

// Topic returns the topic the queue reads and writes.
func (q *StreamQueue) Topic() string {
	return q.topic
}

// Enqueue appends job to the tasks topic.
func (q *StreamQueue) Enqueue(ctx context.Context, job Job) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	id, err := q.transport.Append(ctx, q.topic, map[string]string{stream.PayloadField: string(b)})
	if err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", job.TaskID, err)
	}
	q.logger.Debug("task enqueued", "task_id", job.TaskID, "task_type", job.Type, "entry_id", id)
	return nil
}

// Dequeue returns the next stale or new job. Undecodable entries are
// acknowledged and dropped.
func (q *StreamQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if q.isClosed() {
			return nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := q.next(ctx)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}

		job, err := decodeJob(*msg)
		if err != nil {
			q.logger.Warn("dropping undecodable job", "entry_id", msg.ID, "error", err)
			q.ack(ctx, msg.ID)
			continue
		}

		id := msg.ID
		return &Delivery{
			Job: job,
			ack: func(ctx context.Context) error {
				return q.ack(ctx, id)
			},
		}, nil
	}
}

// next claims one stale entry when a claim is due, otherwise reads one new
// entry. It returns nil when nothing arrived within the block time.
func (q *StreamQueue) next(ctx context.Context) (*stream.Message, error) {
	if q.claimDue() {
		msgs, err := q.transport.Claim(ctx, stream.ClaimArgs{
			Topic:    q.topic,
			Group:    q.config.Group,
			Consumer: q.config.Consumer,
			MinIdle:  q.config.VisibilityTimeout,
			Count:    1,
		})
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			q.logger.Info("claimed stale task delivery", "entry_id", msgs[0].ID)
			q.resetClaim()
			return &msgs[0], nil
		}
	}

	msgs, err := q.transport.ReadGroup(ctx, stream.ReadArgs{
		Group:    q.config.Group,
		Consumer: q.config.Consumer,
		Topics:   []string{q.topic},
		Count:    1,
		Block:    q.config.Block,
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// claimDue reports whether a claim is due and, if so, records it.
func (q *StreamQueue) claimDue() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if time.Since(q.lastClaim) < q.config.ClaimInterval {
		return false
	}
	q.lastClaim = time.Now()
	return true
}

// resetClaim makes the next Dequeue claim again, draining a backlog of
// stale entries one per call.
func (q *StreamQueue) resetClaim() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastClaim = time.Time{}
}

func (q *StreamQueue) ack(ctx context.Context, id string) error {
	if err := q.transport.Ack(ctx, q.topic, q.config.Group, id); err != nil {
		q.logger.Error("failed to acknowledge task delivery", "entry_id", id, "error", err)
		return err
	}
	return nil
}

// Durable is true: jobs live in the stream until acknowledged.
func (q *StreamQueue) Durable() bool {
	return true
}

// Close stops the queue. The transport is left open for its other users.
func (q *StreamQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *StreamQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func decodeJob(msg stream.Message) (Job, error) {
	raw, ok := msg.Fields[stream.PayloadField]
	if !ok {
		return Job{}, errors.New("missing payload field")
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, err
	}
	if job.TaskID == "" {
		return Job{}, errors.New("job has no task id")
	}
	return job, nil
}
