// Package jobs provides the domain model for bulk import and export jobs:
// job classification, lifecycle states, counters, and the persisted error
// journal shape.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a job as an import or an export.
type Kind string

// Job kinds.
const (
	KindImport Kind = "import"
	KindExport Kind = "export"
)

// IsValid reports whether the kind is one of the known job kinds.
func (k Kind) IsValid() bool {
	return k == KindImport || k == KindExport
}

// Resource identifies the entity family a job moves.
type Resource string

// Resources.
const (
	ResourceUsers    Resource = "users"
	ResourceArticles Resource = "articles"
	ResourceComments Resource = "comments"
)

// IsValid reports whether the resource is one of the known entity families.
func (r Resource) IsValid() bool {
	switch r {
	case ResourceUsers, ResourceArticles, ResourceComments:
		return true
	}

	return false
}

// Format identifies the artifact wire shape.
type Format string

// Formats.
const (
	FormatNDJSON Format = "ndjson"
	FormatJSON   Format = "json"
)

// IsValid reports whether the format is one of the two supported shapes.
func (f Format) IsValid() bool {
	return f == FormatNDJSON || f == FormatJSON
}

// Ext returns the artifact file extension for the format.
func (f Format) Ext() string {
	if f == FormatJSON {
		return "json"
	}

	return "ndjson"
}

// Status is a job lifecycle state.
type Status string

// Lifecycle states.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPartial   Status = "partial"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValid reports whether the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusPartial, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}

	return false
}

// IsTerminal reports whether the status is terminal. Terminal states are
// immutable; only the claimant writes them.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPartial, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}

	return false
}

// SourceType identifies where an import job reads its records from.
type SourceType string

// Import source types.
const (
	SourceUpload SourceType = "upload"
	SourceURL    SourceType = "url"
)

// FatalRecordIndex is the reserved record index for whole-job failures in the
// error journal. Per-record errors always carry a non-negative index.
const FatalRecordIndex = -1

// TruncationReasonMaxRecords marks exports cut short by the record cap.
const TruncationReasonMaxRecords = "max_records_reached"

type (
	// Job is the common core of an import or export job row. Kind-specific
	// fields are pointers and nil when they do not apply.
	Job struct {
		ID      string   `json:"id"`
		OwnerID string   `json:"ownerId"`
		Kind    Kind     `json:"kind"`
		Resource Resource `json:"resource"`
		Format  Format   `json:"format"`
		Status  Status   `json:"status"`

		CreatedAt  time.Time  `json:"createdAt"`
		StartedAt  *time.Time `json:"startedAt,omitempty"`
		FinishedAt *time.Time `json:"finishedAt,omitempty"`

		TotalRecords     *int64 `json:"totalRecords,omitempty"`
		ProcessedRecords int64  `json:"processedRecords"`
		SuccessCount     int64  `json:"successCount"`
		ErrorCount       int64  `json:"errorCount"`

		IdempotencyKey string `json:"-"`
		RequestHash    string `json:"-"`

		// Export-only.
		Filters        map[string]any `json:"filters,omitempty"`
		Fields         []string       `json:"fields,omitempty"`
		OutputLocation string         `json:"-"`
		DownloadURL    string         `json:"downloadUrl,omitempty"`
		FileSize       *int64         `json:"fileSize,omitempty"`
		ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
		Truncation     *Truncation    `json:"truncation,omitempty"`

		// Import-only.
		SourceType     SourceType    `json:"sourceType,omitempty"`
		SourceLocation string        `json:"-"`
		FileName       string        `json:"fileName,omitempty"`
		ErrorSummary   *ErrorSummary `json:"errorSummary,omitempty"`
	}

	// Truncation records that an async export hit the record cap. The job
	// still succeeds; TotalRecords carries the untruncated count.
	Truncation struct {
		Truncated   bool   `json:"truncated"`
		Reason      string `json:"reason"`
		RecordLimit int64  `json:"recordLimit"`
	}

	// ErrorSummary describes the persisted error journal of an import job.
	// ReportLocation is internal; the API strips it before serialization.
	ErrorSummary struct {
		ReportStatus           string `json:"reportStatus"`
		PersistedErrorCount    int64  `json:"persistedErrorCount"`
		PersistenceFailures    int64  `json:"persistenceFailures"`
		ReportLocation         string `json:"reportLocation,omitempty"`
		ReportFormat           Format `json:"reportFormat"`
		ReportGenerationFailed bool   `json:"reportGenerationFailed"`
	}

	// ImportError is one journaled record-level (or fatal, index -1) error.
	ImportError struct {
		JobID       string         `json:"-"`
		RecordIndex int64          `json:"recordIndex"`
		RecordID    string         `json:"recordId,omitempty"`
		ErrorCode   int            `json:"errorCode"`
		ErrorName   string         `json:"errorName"`
		Message     string         `json:"message"`
		Field       string         `json:"field,omitempty"`
		Value       string         `json:"value,omitempty"`
		Details     map[string]any `json:"details,omitempty"`
		CreatedAt   time.Time      `json:"createdAt"`
	}
)

// NewJobID returns a fresh opaque job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// Sanitized returns a copy of the summary safe for API responses: the internal
// report location is removed, the rest passes through.
func (s *ErrorSummary) Sanitized() *ErrorSummary {
	if s == nil {
		return nil
	}

	out := *s
	out.ReportLocation = ""

	return &out
}
