package parse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/conveyor-io/conveyor/internal/apperr"
)

// maxLineBytes bounds a single NDJSON line. Lines beyond this fail the run
// rather than silently truncating.
const maxLineBytes = 16 * 1024 * 1024

// ndjsonReader decodes newline-delimited JSON. Blank lines are skipped and do
// not consume record indexes; every non-blank line must be a JSON object.
type ndjsonReader struct {
	scanner    *bufio.Scanner
	maxRecords int64
	index      int64
	line       int64
	done       bool
}

func newNDJSONReader(r io.Reader, maxRecords int64) *ndjsonReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	return &ndjsonReader{scanner: scanner, maxRecords: maxRecords}
}

func (r *ndjsonReader) Next() (*Record, error) {
	if r.done {
		return nil, io.EOF
	}

	for r.scanner.Scan() {
		r.line++

		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}

		if r.index >= r.maxRecords {
			r.done = true

			return nil, tooManyRecords(r.maxRecords)
		}

		var data map[string]any
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			r.done = true

			return nil, parseLineError(r.line, err)
		}

		rec := &Record{Index: r.index, Line: r.line, Data: data}
		r.index++

		return rec, nil
	}

	r.done = true

	if err := r.scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return nil, apperr.Newf(
				apperr.CodeParseError, "line %d exceeds the %d byte limit", r.line+1, maxLineBytes,
			).WithDetails(map[string]any{"line": r.line + 1})
		}

		return nil, fmt.Errorf("reading payload: %w", err)
	}

	return nil, io.EOF
}

func parseLineError(line int64, err error) error {
	return apperr.Newf(
		apperr.CodeParseError, "line %d is not a valid JSON object: %v", line, err,
	).WithDetails(map[string]any{"line": line})
}
