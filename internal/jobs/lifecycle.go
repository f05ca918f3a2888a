// Package jobs provides the job lifecycle state machine.
// Handles status transitions and terminal-status derivation.
//
// Architecture:
//   - Application layer (this file): validates transitions before writes
//   - Database layer (job store): the conditional single-row claim update is
//     the mutual-exclusion primitive; the state machine here is the
//     client-friendly guard in front of it
package jobs

import (
	"errors"
	"fmt"
)

// Sentinel errors for state transition validation.
// These can be used with errors.Is() for error checking.
var (
	// ErrInvalidTransition indicates a transition outside the lifecycle DAG.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTerminalStatusImmutable indicates an attempt to leave a terminal status.
	ErrTerminalStatusImmutable = errors.New("terminal status is immutable")

	// ErrUnknownStatus indicates a status outside the known lifecycle states.
	ErrUnknownStatus = errors.New("unknown job status")
)

// ValidateStatusTransition validates a transition along the job lifecycle DAG:
//
//	queued → running → {succeeded, partial, failed, cancelled}
//	queued → cancelled (pre-run cancellation)
//
// Same-state writes are idempotent and allowed for non-terminal states
// (counter updates re-write the current status).
func ValidateStatusTransition(from, to Status) error {
	if !from.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, from)
	}

	if !to.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}

	if from.IsTerminal() {
		if from == to {
			return nil // idempotent terminal re-write
		}

		return fmt.Errorf("%w: %s → %s", ErrTerminalStatusImmutable, from, to)
	}

	if from == to {
		return nil
	}

	switch from {
	case StatusQueued:
		if to == StatusRunning || to == StatusCancelled || to == StatusFailed {
			// queued → failed covers enqueue failures marked before any claim.
			return nil
		}
	case StatusRunning:
		if to.IsTerminal() {
			return nil
		}
	}

	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}

// DeriveImportStatus computes the terminal status of an import run.
//
//	fatal                        → failed
//	errorCount = 0               → succeeded
//	successCount > 0             → partial
//	successCount = 0, errors > 0 → failed
func DeriveImportStatus(successCount, errorCount int64, fatal bool) Status {
	if fatal {
		return StatusFailed
	}

	if errorCount == 0 {
		return StatusSucceeded
	}

	if successCount > 0 {
		return StatusPartial
	}

	return StatusFailed
}

// DeriveExportStatus computes the terminal status of an export run.
// Hitting the record cap is not a failure; only a fatal error fails an export.
func DeriveExportStatus(fatal bool) Status {
	if fatal {
		return StatusFailed
	}

	return StatusSucceeded
}
