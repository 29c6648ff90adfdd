package scanning

import (
	"fmt"
)

// JobStatus represents the current state of a scan job. It enables tracking of
// the job lifecycle from creation through completion, cancellation, or failure.
type JobStatus string

const (
	// JobStatusPending indicates a job record has been created but the
	// executor has not yet been launched. Jobs are promoted to running
	// inside the controller's start critical section, so this state is
	// never observable through the controller API.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusRunning indicates the executor is actively processing items.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusPaused indicates the executor is parked waiting for a resume
	// or cancel request.
	JobStatusPaused JobStatus = "PAUSED"

	// JobStatusCompleted indicates the executor exhausted the item set.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusCancelled indicates the job was cancelled before completing.
	JobStatusCancelled JobStatus = "CANCELLED"

	// JobStatusFailed indicates the job encountered an unrecoverable error.
	JobStatusFailed JobStatus = "FAILED"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether the status permits no further transitions.
// Terminal jobs accept no state changes and no checkpoint writes.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled || s == JobStatusFailed
}

// IsActive reports whether a job in this status counts against the
// single-flight limit.
func (s JobStatus) IsActive() bool {
	return s == JobStatusRunning || s == JobStatusPaused
}

// ParseJobStatus converts a string to a JobStatus.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "PENDING":
		return JobStatusPending
	case "RUNNING":
		return JobStatusRunning
	case "PAUSED":
		return JobStatusPaused
	case "COMPLETED":
		return JobStatusCompleted
	case "CANCELLED":
		return JobStatusCancelled
	case "FAILED":
		return JobStatusFailed
	default:
		return "" // represents unspecified
	}
}

// validateTransition checks if a status transition is valid and returns an
// error if not.
func (s JobStatus) validateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target
// status. It enforces the job lifecycle rules to prevent invalid state changes.
func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		// From Pending, can only move to Running.
		return target == JobStatusRunning
	case JobStatusRunning:
		// From Running, can move to Paused, Completed, Cancelled, or Failed.
		return target == JobStatusPaused ||
			target == JobStatusCompleted ||
			target == JobStatusCancelled ||
			target == JobStatusFailed
	case JobStatusPaused:
		// From Paused, can move back to Running or be cancelled outright.
		// A paused executor that hits an unrecoverable error while
		// unwinding may also fail.
		return target == JobStatusRunning ||
			target == JobStatusCancelled ||
			target == JobStatusFailed
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}
