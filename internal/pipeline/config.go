// Package pipeline runs import and export jobs end to end: the streaming
// export generator, the async export run, and the import run of
// parse → validate → upsert → journal → report → finalize.
package pipeline

import (
	"time"

	"github.com/conveyor-io/conveyor/internal/config"
)

const (
	defaultImportBatchSize  = 1000
	defaultImportMaxRecords = 1_000_000
	defaultExportBatchSize  = 1000
	defaultExportMaxRecords = 1_000_000
	defaultStreamMaxLimit   = 1000
	defaultRetentionHours   = 24
	defaultCancelInterval   = 500

	// errorBufferSize is how many journal rows accumulate before a flush.
	errorBufferSize = 500

	// reportPageSize is the journal page size when generating error reports.
	reportPageSize = 1000
)

// Config holds pipeline limits and artifact retention settings.
type Config struct {
	// ImportBatchSize is the number of validated records per upsert batch.
	ImportBatchSize int

	// ImportMaxRecords caps the records one import payload may contain.
	ImportMaxRecords int64

	// ExportBatchSize is the page size for export cursor scans.
	ExportBatchSize int

	// ExportMaxRecords caps the records one async export artifact may contain.
	ExportMaxRecords int64

	// StreamMaxLimit caps the per-request limit of the streaming export.
	StreamMaxLimit int

	// FileRetention is how long export artifacts stay downloadable.
	FileRetention time.Duration

	// DownloadBaseURL prefixes generated download URLs when set.
	DownloadBaseURL string

	// CancelCheckInterval is the record interval between cancellation polls.
	// Zero disables polling.
	CancelCheckInterval int64
}

// LoadConfig loads pipeline configuration from environment variables.
func LoadConfig() *Config {
	retentionHours := config.GetEnvInt("CONVEYOR_FILE_RETENTION_HOURS", defaultRetentionHours)

	return &Config{
		ImportBatchSize:     config.GetEnvInt("CONVEYOR_IMPORT_BATCH_SIZE", defaultImportBatchSize),
		ImportMaxRecords:    config.GetEnvInt64("CONVEYOR_IMPORT_MAX_RECORDS", defaultImportMaxRecords),
		ExportBatchSize:     config.GetEnvInt("CONVEYOR_EXPORT_BATCH_SIZE", defaultExportBatchSize),
		ExportMaxRecords:    config.GetEnvInt64("CONVEYOR_EXPORT_MAX_RECORDS", defaultExportMaxRecords),
		StreamMaxLimit:      config.GetEnvInt("CONVEYOR_STREAM_MAX_LIMIT", defaultStreamMaxLimit),
		FileRetention:       time.Duration(retentionHours) * time.Hour,
		DownloadBaseURL:     config.GetEnvStr("CONVEYOR_DOWNLOAD_BASE_URL", ""),
		CancelCheckInterval: config.GetEnvInt64("CONVEYOR_CANCEL_CHECK_INTERVAL", defaultCancelInterval),
	}
}
