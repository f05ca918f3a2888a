// Package parse provides streaming readers for the two supported import
// payload formats. Both readers pull one record at a time so arbitrarily
// large files never load fully into memory.
package parse

import (
	"io"

	"github.com/conveyor-io/conveyor/internal/apperr"
	"github.com/conveyor-io/conveyor/internal/jobs"
)

// Record is one raw record pulled from an import payload.
type Record struct {
	// Index is the zero-based record ordinal within the payload.
	Index int64
	// Line is the 1-based source line for line-oriented formats, 0 otherwise.
	Line int64
	// Data is the decoded JSON object, keys untouched.
	Data map[string]any
}

// Reader pulls records from an import payload. Next returns io.EOF after the
// last record; any other error is fatal for the run.
type Reader interface {
	Next() (*Record, error)
}

// NewReader builds the format-appropriate reader. maxRecords caps how many
// records the payload may contain; pulling one past the cap fails with
// TOO_MANY_RECORDS.
func NewReader(format jobs.Format, r io.Reader, maxRecords int64) (Reader, error) {
	switch format {
	case jobs.FormatNDJSON:
		return newNDJSONReader(r, maxRecords), nil
	case jobs.FormatJSON:
		return newJSONArrayReader(r, maxRecords), nil
	default:
		return nil, apperr.Newf(apperr.CodeUnsupportedFormat, "unsupported import format %q", format)
	}
}

func tooManyRecords(maxRecords int64) error {
	return apperr.Newf(
		apperr.CodeTooManyRecords, "payload exceeds the %d record limit", maxRecords,
	).WithDetails(map[string]any{"maxRecords": maxRecords})
}
