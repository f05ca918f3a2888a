package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/conveyor-io/conveyor/internal/jobs"
)

// Producer publishes job dispatch messages.
type Producer struct {
	writer      *kafka.Writer
	logger      *slog.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// NewProducer creates a Kafka producer for job dispatch.
func NewProducer(cfg *Config, logger *slog.Logger) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Producer{
		writer:      writer,
		logger:      logger,
		maxAttempts: maxAttempts,
		retryDelay:  cfg.RetryDelay,
	}, nil
}

// Enqueue publishes the first dispatch for a job, retrying transient failures
// with a fixed delay. Returns ErrEnqueueFailed once attempts are exhausted;
// the caller then marks the job row failed.
func (p *Producer) Enqueue(ctx context.Context, kind jobs.Kind, jobID string) error {
	return p.Publish(ctx, &Message{JobID: jobID, Kind: kind, Attempt: 1})
}

// Publish sends an already-built dispatch message. Workers use it to requeue
// a job with a bumped attempt counter.
func (p *Producer) Publish(ctx context.Context, msg *Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}

	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = p.writer.WriteMessages(ctx, kafka.Message{
			Key:   msg.Key(),
			Value: payload,
			Time:  time.Now(),
		})
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			break
		}

		p.logger.Warn("enqueue attempt failed",
			slog.String("job_id", msg.JobID),
			slog.String("kind", string(msg.Kind)),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)

		if attempt < p.maxAttempts {
			select {
			case <-time.After(p.retryDelay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrEnqueueFailed, ctx.Err())
			}
		}
	}

	return fmt.Errorf("%w: %w", ErrEnqueueFailed, lastErr)
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
