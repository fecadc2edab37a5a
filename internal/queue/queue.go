// Package queue distributes evaluation tasks to worker processes over NATS.
// Workers join a queue group so each task is delivered to exactly one of
// them; results are observed through the evaluation_runs table, not replies.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Task kinds dispatched to workers
const (
	TaskBacktest    = "backtest"
	TaskWalkForward = "walk_forward"
	TaskMonteCarlo  = "monte_carlo"
	TaskMLTuning    = "ml_tuning"
)

const workerGroup = "tradepulse-workers"

// Task is the envelope published for one background evaluation
type Task struct {
	ID        uuid.UUID       `json:"id"`
	Kind      string          `json:"kind"`
	RunID     uuid.UUID       `json:"run_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// TaskHandler processes one dequeued task
type TaskHandler func(ctx context.Context, task *Task) error

// Config configures the queue connection
type Config struct {
	URL    string
	Prefix string
	Name   string
}

// DefaultConfig returns the local development configuration
func DefaultConfig() Config {
	return Config{
		URL:    nats.DefaultURL,
		Prefix: "tradepulse.tasks.",
		Name:   "tradepulse",
	}
}

// Queue is a NATS-backed task queue
type Queue struct {
	nc     *nats.Conn
	prefix string
}

// New connects to NATS and returns a queue handle
func New(cfg Config) (*Queue, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "tradepulse.tasks."
	}

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().
		Str("nats_url", cfg.URL).
		Str("prefix", cfg.Prefix).
		Msg("Task queue initialized")

	return &Queue{nc: nc, prefix: cfg.Prefix}, nil
}

// Enqueue publishes a task for the given run. The payload carries the
// kind-specific request and is decoded by the worker handler.
func (q *Queue) Enqueue(ctx context.Context, kind string, runID uuid.UUID, payload interface{}) (uuid.UUID, error) {
	select {
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	default:
	}

	if !q.nc.IsConnected() {
		return uuid.Nil, fmt.Errorf("task queue not connected")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := Task{
		ID:        uuid.New(),
		Kind:      kind,
		RunID:     runID,
		Payload:   payloadJSON,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(task)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	subject := q.prefix + kind
	if err := q.nc.Publish(subject, data); err != nil {
		return uuid.Nil, fmt.Errorf("failed to publish task: %w", err)
	}

	log.Debug().
		Str("task_id", task.ID.String()).
		Str("kind", kind).
		Str("run_id", runID.String()).
		Str("subject", subject).
		Msg("Task enqueued")

	return task.ID, nil
}

// Consume joins the worker queue group for one task kind. Each published
// task reaches exactly one consumer in the group.
func (q *Queue) Consume(kind string, handler TaskHandler) (*Subscription, error) {
	subject := q.prefix + kind

	sub, err := q.nc.QueueSubscribe(subject, workerGroup, func(natsMsg *nats.Msg) {
		var task Task
		if err := json.Unmarshal(natsMsg.Data, &task); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("Failed to unmarshal task")
			return
		}

		if err := handler(context.Background(), &task); err != nil {
			log.Error().
				Err(err).
				Str("task_id", task.ID.String()).
				Str("kind", task.Kind).
				Str("run_id", task.RunID.String()).
				Msg("Task handler error")
			return
		}

		log.Debug().
			Str("task_id", task.ID.String()).
			Str("kind", task.Kind).
			Msg("Task handled")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	log.Info().
		Str("kind", kind).
		Str("subject", subject).
		Str("group", workerGroup).
		Msg("Consuming tasks")

	return &Subscription{sub: sub, subject: subject}, nil
}

// Stats reports connection statistics for health endpoints
func (q *Queue) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	if q.nc != nil {
		stats["connected"] = q.nc.IsConnected()
		stats["status"] = q.nc.Status().String()
		stats["in_msgs"] = q.nc.Stats().InMsgs
		stats["out_msgs"] = q.nc.Stats().OutMsgs
		stats["reconnects"] = q.nc.Stats().Reconnects
	}
	return stats
}

// Connected reports whether the NATS connection is live
func (q *Queue) Connected() bool {
	return q.nc != nil && q.nc.IsConnected()
}

// Close drains and closes the connection
func (q *Queue) Close() {
	if q.nc != nil {
		q.nc.Close()
		log.Info().Msg("Task queue closed")
	}
}

// Subscription is an active consumer registration
type Subscription struct {
	sub     *nats.Subscription
	subject string
}

// Unsubscribe stops consuming tasks
func (s *Subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	log.Info().Str("subject", s.subject).Msg("Stopped consuming tasks")
	return nil
}
