// Package apperr defines the numeric error taxonomy shared by the import and
// export pipelines, the HTTP layer, and the persisted error journal.
//
// Codes are grouped by decade:
//   - 1000 validation errors (per-record, journaled, never fatal)
//   - 2000 file errors (intake, parsing caps)
//   - 3000 processing errors
//   - 4000 resource errors (HTTP-facing)
//   - 5000 system errors
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable numeric identifier for an error condition.
type Code int

// Validation errors (1000-1099).
const (
	CodeMissingRequiredField Code = 1001
	CodeInvalidType          Code = 1002
	CodeInvalidFormat        Code = 1003
	CodeValueTooLong         Code = 1004
	CodeValueTooShort        Code = 1005
	CodeInvalidEnumValue     Code = 1006
	CodeDuplicateValue       Code = 1007
	CodeInvalidReference     Code = 1008
	CodeCircularReference    Code = 1009
)

// File errors (2000-2099).
const (
	CodeFileTooLarge      Code = 2001
	CodeUnsupportedFormat Code = 2002
	CodeFileReadError     Code = 2003
	CodeFileWriteError    Code = 2004
	CodeURLFetchError     Code = 2005
	CodeURLNotAllowed     Code = 2006
	CodeEmptyFile         Code = 2007
	CodeTooManyRecords    Code = 2008
)

// Processing errors (3000-3099).
const (
	CodeParseError             Code = 3001
	CodeInvalidRecordStructure Code = 3002
	CodeBatchFailed            Code = 3003
	CodeStreamError            Code = 3004
	CodeEncodingError          Code = 3005
)

// Resource errors (4000-4099).
const (
	CodeJobNotFound         Code = 4001
	CodeUnauthorized        Code = 4002
	CodeForbidden           Code = 4003
	CodeRateLimited         Code = 4004
	CodeConcurrentLimit     Code = 4005
	CodeDownloadExpired     Code = 4006
	CodeUnsupportedResource Code = 4007
)

// System errors (5000-5099).
const (
	CodeDatabaseError Code = 5001
	CodeStorageError  Code = 5002
	CodeQueueError    Code = 5003
	CodeInternalError Code = 5004
	CodeTimeout       Code = 5005
)

// names maps every code to its stable human-readable name.
// Names are part of the persisted error-journal contract.
var names = map[Code]string{
	CodeMissingRequiredField: "MISSING_REQUIRED_FIELD",
	CodeInvalidType:          "INVALID_TYPE",
	CodeInvalidFormat:        "INVALID_FORMAT",
	CodeValueTooLong:         "VALUE_TOO_LONG",
	CodeValueTooShort:        "VALUE_TOO_SHORT",
	CodeInvalidEnumValue:     "INVALID_ENUM_VALUE",
	CodeDuplicateValue:       "DUPLICATE_VALUE",
	CodeInvalidReference:     "INVALID_REFERENCE",
	CodeCircularReference:    "CIRCULAR_REFERENCE",
	CodeFileTooLarge:         "FILE_TOO_LARGE",
	CodeUnsupportedFormat:    "UNSUPPORTED_FORMAT",
	CodeFileReadError:        "FILE_READ_ERROR",
	CodeFileWriteError:       "FILE_WRITE_ERROR",
	CodeURLFetchError:        "URL_FETCH_ERROR",
	CodeURLNotAllowed:        "URL_NOT_ALLOWED",
	CodeEmptyFile:            "EMPTY_FILE",
	CodeTooManyRecords:       "TOO_MANY_RECORDS",
	CodeParseError:           "PARSE_ERROR",
	CodeInvalidRecordStructure: "INVALID_RECORD_STRUCTURE",
	CodeBatchFailed:            "BATCH_FAILED",
	CodeStreamError:            "STREAM_ERROR",
	CodeEncodingError:          "ENCODING_ERROR",
	CodeJobNotFound:            "JOB_NOT_FOUND",
	CodeUnauthorized:           "UNAUTHORIZED",
	CodeForbidden:              "FORBIDDEN",
	CodeRateLimited:            "RATE_LIMITED",
	CodeConcurrentLimit:        "CONCURRENT_LIMIT",
	CodeDownloadExpired:        "DOWNLOAD_EXPIRED",
	CodeUnsupportedResource:    "UNSUPPORTED_RESOURCE",
	CodeDatabaseError:          "DATABASE_ERROR",
	CodeStorageError:           "STORAGE_ERROR",
	CodeQueueError:             "QUEUE_ERROR",
	CodeInternalError:          "INTERNAL_ERROR",
	CodeTimeout:                "TIMEOUT",
}

// Name returns the stable upper-snake name for a code.
// Unknown codes report as INTERNAL_ERROR to keep journal rows well-formed.
func (c Code) Name() string {
	if name, ok := names[c]; ok {
		return name
	}

	return names[CodeInternalError]
}

// IsValidation reports whether the code belongs to the per-record validation
// decade. Validation errors are journaled and counted, never raised.
func (c Code) IsValidation() bool {
	return c >= 1000 && c < 2000
}

// Error is a taxonomy-tagged error. Field, Value and Details are optional and
// carried into ImportError journal rows verbatim.
type Error struct {
	Code    Code
	Message string
	Field   string
	Value   string
	Details map[string]any
}

// New creates a taxonomy error with just a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a taxonomy error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithField attaches the offending field name.
func (e *Error) WithField(field string) *Error {
	e.Field = field

	return e
}

// WithValue attaches the sanitized offending value.
func (e *Error) WithValue(value string) *Error {
	e.Value = value

	return e
}

// WithDetails attaches structured context.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details

	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%d): %s [field=%s]", e.Code.Name(), e.Code, e.Message, e.Field)
	}

	return fmt.Sprintf("%s (%d): %s", e.Code.Name(), e.Code, e.Message)
}

// CodeOf extracts the taxonomy code from err, walking the wrap chain.
// Returns CodeInternalError when err carries no taxonomy code.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	return CodeInternalError
}
