package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-io/conveyor/internal/jobs"
)

func TestConfigValidate(t *testing.T) {
	require.ErrorIs(t, (&Config{}).Validate(), ErrNoBrokers)
	require.ErrorIs(t, (&Config{Brokers: []string{" "}}).Validate(), ErrNoBrokers)
	require.NoError(t, (&Config{Brokers: []string{"localhost:9092"}}).Validate())
}

func TestMessageKey(t *testing.T) {
	msg := &Message{JobID: "job-1", Kind: jobs.KindImport}
	assert.Equal(t, "import-job-1", string(msg.Key()))

	msg = &Message{JobID: "job-1", Kind: jobs.KindExport}
	assert.Equal(t, "export-job-1", string(msg.Key()))
}

func TestMessageRoundTrip(t *testing.T) {
	msg := &Message{JobID: "job-42", Kind: jobs.KindExport, Attempt: 2}

	payload, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestDecodeMessageNormalizesAttempt(t *testing.T) {
	decoded, err := DecodeMessage([]byte(`{"jobId":"job-1","kind":"import"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.Attempt)
}

func TestDecodeMessageRejectsMalformed(t *testing.T) {
	_, err := DecodeMessage([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformedDispatch)

	_, err = DecodeMessage([]byte(`{}`))
	require.ErrorIs(t, err, ErrMalformedDispatch)

	_, err = DecodeMessage([]byte(`{"jobId":"x","kind":"reindex"}`))
	require.ErrorIs(t, err, ErrMalformedDispatch)
}
