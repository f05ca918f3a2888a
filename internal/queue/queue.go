// Package queue moves job dispatch messages between the API and the workers
// over Kafka. One message per job; the message key pins all messages for a
// job to one partition so a job is never processed twice concurrently.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conveyor-io/conveyor/internal/config"
	"github.com/conveyor-io/conveyor/internal/jobs"
)

// Sentinel errors for queue operations.
var (
	// ErrNoBrokers is returned when the broker list is empty.
	ErrNoBrokers = errors.New("queue broker list cannot be empty")

	// ErrEnqueueFailed is returned when a dispatch message could not be
	// published after retries.
	ErrEnqueueFailed = errors.New("enqueue failed")

	// ErrMalformedDispatch is returned for dispatch payloads that cannot be
	// decoded. The consumer commits these so they are not redelivered.
	ErrMalformedDispatch = errors.New("malformed dispatch message")
)

const (
	defaultTopic       = "conveyor.jobs"
	defaultGroupID     = "conveyor-workers"
	defaultMaxAttempts = 3
	defaultRetryDelay  = 60 * time.Second
)

// Config holds Kafka connection settings.
type Config struct {
	Brokers     []string
	Topic       string
	GroupID     string
	MaxAttempts int
	RetryDelay  time.Duration
}

// LoadConfig loads queue configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Brokers:     config.ParseCommaSeparatedList(config.GetEnvStr("CONVEYOR_QUEUE_BROKERS", "localhost:9092")),
		Topic:       config.GetEnvStr("CONVEYOR_QUEUE_TOPIC", defaultTopic),
		GroupID:     config.GetEnvStr("CONVEYOR_QUEUE_GROUP", defaultGroupID),
		MaxAttempts: config.GetEnvInt("CONVEYOR_QUEUE_MAX_ATTEMPTS", defaultMaxAttempts),
		RetryDelay:  config.GetEnvDuration("CONVEYOR_QUEUE_RETRY_DELAY", defaultRetryDelay),
	}
}

// Validate checks the queue configuration.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	for _, b := range c.Brokers {
		if strings.TrimSpace(b) == "" {
			return ErrNoBrokers
		}
	}

	return nil
}

// Message is one job dispatch. Attempt starts at 1 and counts redeliveries
// when a worker requeues a job after an infrastructure failure.
type Message struct {
	JobID   string    `json:"jobId"`
	Kind    jobs.Kind `json:"kind"`
	Attempt int       `json:"attempt"`
}

// Key returns the partitioning key for a dispatch: "<kind>-<jobID>".
func (m *Message) Key() []byte {
	return []byte(fmt.Sprintf("%s-%s", m.Kind, m.JobID))
}

// Encode serializes the dispatch payload.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a dispatch payload.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDispatch, err)
	}

	if m.JobID == "" || !m.Kind.IsValid() {
		return nil, fmt.Errorf("%w: missing job id or kind", ErrMalformedDispatch)
	}

	if m.Attempt < 1 {
		m.Attempt = 1
	}

	return &m, nil
}
