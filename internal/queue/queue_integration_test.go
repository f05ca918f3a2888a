package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/conveyor-io/conveyor/internal/jobs"
)

// setupTestBroker starts a single-node Kafka container and returns a queue
// config pointed at it.
func setupTestBroker(ctx context.Context, t *testing.T) *Config {
	t.Helper()

	container, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("conveyor-test"),
	)
	require.NoError(t, err, "Failed to start kafka container")

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "Failed to get broker addresses")

	return &Config{
		Brokers:     brokers,
		Topic:       "conveyor.jobs.test",
		GroupID:     "conveyor-test-workers",
		MaxAttempts: 3,
		RetryDelay:  time.Second,
	}
}

func TestDispatchRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := setupTestBroker(ctx, t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	producer, err := NewProducer(cfg, logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = producer.Close() })

	consumer, err := NewConsumer(cfg, logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = consumer.Close() })

	jobID := jobs.NewJobID()
	require.NoError(t, producer.Enqueue(ctx, jobs.KindImport, jobID))

	fetchCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	msg, raw, err := consumer.Fetch(fetchCtx)
	require.NoError(t, err)

	assert.Equal(t, jobID, msg.JobID)
	assert.Equal(t, jobs.KindImport, msg.Kind)
	assert.Equal(t, 1, msg.Attempt)

	require.NoError(t, consumer.Commit(ctx, raw))
}

func TestRequeueBumpsAttempt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := setupTestBroker(ctx, t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	producer, err := NewProducer(cfg, logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = producer.Close() })

	consumer, err := NewConsumer(cfg, logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = consumer.Close() })

	jobID := jobs.NewJobID()
	require.NoError(t, producer.Publish(ctx, &Message{JobID: jobID, Kind: jobs.KindExport, Attempt: 2}))

	fetchCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	msg, raw, err := consumer.Fetch(fetchCtx)
	require.NoError(t, err)

	assert.Equal(t, jobID, msg.JobID)
	assert.Equal(t, jobs.KindExport, msg.Kind)
	assert.Equal(t, 2, msg.Attempt)

	require.NoError(t, consumer.Commit(ctx, raw))
}
