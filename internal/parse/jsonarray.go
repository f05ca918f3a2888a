package parse

import (
	"encoding/json"
	"io"

	"github.com/conveyor-io/conveyor/internal/apperr"
)

// jsonArrayReader decodes a payload that is a single top-level JSON array of
// objects, streaming elements through json.Decoder tokens so the array is
// never buffered whole.
type jsonArrayReader struct {
	decoder    *json.Decoder
	maxRecords int64
	index      int64
	started    bool
	done       bool
}

func newJSONArrayReader(r io.Reader, maxRecords int64) *jsonArrayReader {
	return &jsonArrayReader{decoder: json.NewDecoder(r), maxRecords: maxRecords}
}

func (r *jsonArrayReader) Next() (*Record, error) {
	if r.done {
		return nil, io.EOF
	}

	if !r.started {
		if err := r.consumeOpenBracket(); err != nil {
			r.done = true

			return nil, err
		}

		r.started = true
	}

	if !r.decoder.More() {
		r.done = true

		// Consume the closing bracket so trailing garbage still surfaces.
		if _, err := r.decoder.Token(); err != nil {
			return nil, apperr.Newf(apperr.CodeParseError, "malformed JSON array: %v", err)
		}

		return nil, io.EOF
	}

	if r.index >= r.maxRecords {
		r.done = true

		return nil, tooManyRecords(r.maxRecords)
	}

	var data map[string]any
	if err := r.decoder.Decode(&data); err != nil {
		r.done = true

		return nil, apperr.Newf(
			apperr.CodeParseError, "record %d is not a valid JSON object: %v", r.index, err,
		).WithDetails(map[string]any{"index": r.index})
	}

	rec := &Record{Index: r.index, Data: data}
	r.index++

	return rec, nil
}

func (r *jsonArrayReader) consumeOpenBracket() error {
	tok, err := r.decoder.Token()
	if err == io.EOF {
		return apperr.New(apperr.CodeEmptyFile, "payload is empty")
	}

	if err != nil {
		return apperr.Newf(apperr.CodeParseError, "payload is not valid JSON: %v", err)
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return apperr.New(apperr.CodeParseError, "payload must be a top-level JSON array")
	}

	return nil
}
