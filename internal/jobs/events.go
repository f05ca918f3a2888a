package jobs

import (
	"log/slog"
	"math"
	"time"
)

const minDurationMs = 1

// Emitter writes structured lifecycle events for job runs. One JSON object is
// emitted per event; warn/error escalate the sink channel by terminal status.
type Emitter struct {
	logger *slog.Logger
}

// NewEmitter creates an Emitter on top of the given structured logger.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{logger: logger}
}

// JobStarted emits the job.started event with initial counters.
func (e *Emitter) JobStarted(job *Job) {
	e.logger.Info("job.started",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("resource", string(job.Resource)),
		slog.String("format", string(job.Format)),
		slog.Int64("processed_records", job.ProcessedRecords),
		slog.Int64("success_count", job.SuccessCount),
		slog.Int64("error_count", job.ErrorCount),
	)
}

// JobCompleted emits the job.completed event with terminal counters and, when
// the start time is known, derived throughput metrics:
//
//	durationMs    = max(finishedAt - startedAt, 1)
//	rowsPerSecond = processedRecords * 1000 / durationMs, 3 decimals
//	errorRate     = errorCount / max(processedRecords, 1), 6 decimals
func (e *Emitter) JobCompleted(job *Job) {
	attrs := []any{
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("resource", string(job.Resource)),
		slog.String("status", string(job.Status)),
		slog.Int64("processed_records", job.ProcessedRecords),
		slog.Int64("success_count", job.SuccessCount),
		slog.Int64("error_count", job.ErrorCount),
	}

	if job.StartedAt != nil {
		finished := time.Now()
		if job.FinishedAt != nil {
			finished = *job.FinishedAt
		}

		durationMs := finished.Sub(*job.StartedAt).Milliseconds()
		if durationMs < minDurationMs {
			durationMs = minDurationMs // floor so downstream division is safe
		}

		attrs = append(attrs,
			slog.Int64("duration_ms", durationMs),
			slog.Float64("rows_per_second", RowsPerSecond(job.ProcessedRecords, durationMs)),
			slog.Float64("error_rate", ErrorRate(job.ErrorCount, job.ProcessedRecords)),
		)
	}

	switch job.Status {
	case StatusFailed:
		e.logger.Error("job.completed", attrs...)
	case StatusPartial, StatusCancelled:
		e.logger.Warn("job.completed", attrs...)
	default:
		e.logger.Info("job.completed", attrs...)
	}
}

// RowsPerSecond computes throughput rounded to 3 decimal places.
func RowsPerSecond(processed, durationMs int64) float64 {
	if durationMs < minDurationMs {
		durationMs = minDurationMs
	}

	rate := float64(processed) * 1000 / float64(durationMs)

	return math.Round(rate*1000) / 1000
}

// ErrorRate computes the error fraction rounded to 6 decimal places.
// A zero-record run reports rate against a denominator of one.
func ErrorRate(errorCount, processed int64) float64 {
	denom := processed
	if denom < 1 {
		denom = 1
	}

	rate := float64(errorCount) / float64(denom)

	return math.Round(rate*1e6) / 1e6
}
