package queue

import (
	"context"
	"fmt"
	"log/slog"

	kafka "github.com/segmentio/kafka-go"
)

// Consumer reads job dispatch messages within a consumer group. Offsets are
// committed only after the worker finishes the job, so a crash mid-job
// redelivers the dispatch and the claim update keeps the replay harmless.
type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// NewConsumer creates a Kafka consumer for job dispatch.
func NewConsumer(cfg *Config, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})

	return &Consumer{reader: reader, logger: logger}, nil
}

// Fetch blocks for the next dispatch. The raw Kafka message is returned for
// the later commit.
func (c *Consumer) Fetch(ctx context.Context) (*Message, kafka.Message, error) {
	raw, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, kafka.Message{}, fmt.Errorf("fetching dispatch: %w", err)
	}

	msg, err := DecodeMessage(raw.Value)
	if err != nil {
		// Poison message: log, commit, move on.
		c.logger.Error("dropping undecodable dispatch message",
			slog.String("key", string(raw.Key)),
			slog.String("error", err.Error()),
		)

		if commitErr := c.reader.CommitMessages(ctx, raw); commitErr != nil {
			return nil, kafka.Message{}, fmt.Errorf("committing poison message: %w", commitErr)
		}

		return nil, kafka.Message{}, err
	}

	return msg, raw, nil
}

// Commit acknowledges a processed dispatch.
func (c *Consumer) Commit(ctx context.Context, raw kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, raw); err != nil {
		return fmt.Errorf("committing dispatch: %w", err)
	}

	return nil
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
