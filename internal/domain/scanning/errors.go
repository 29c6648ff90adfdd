package scanning

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound indicates the requested scan job does not exist.
	ErrJobNotFound = errors.New("scan job not found")

	// ErrNoActiveJob indicates no job is currently running or paused.
	ErrNoActiveJob = errors.New("no active scan job")

	// ErrNoInterruptedJob indicates startup recovery found nothing to resume.
	ErrNoInterruptedJob = errors.New("no interrupted scan job")
)

// ItemProcessingError wraps a per-item step failure. Item failures are
// isolated: the executor records them and moves on without aborting the job.
type ItemProcessingError struct {
	Item ItemRef
	Step string
	Err  error
}

func (e *ItemProcessingError) Error() string {
	return fmt.Sprintf("item %q (rating key %s) failed during %s: %v", e.Item.Title, e.Item.RatingKey, e.Step, e.Err)
}

func (e *ItemProcessingError) Unwrap() error { return e.Err }

// CheckpointWriteError wraps a failed checkpoint persistence attempt,
// preserving the position that could not be saved.
type CheckpointWriteError struct {
	JobID    int64
	Position int
	Err      error
}

func (e *CheckpointWriteError) Error() string {
	return fmt.Sprintf("job %d: checkpoint write at position %d failed: %v", e.JobID, e.Position, e.Err)
}

func (e *CheckpointWriteError) Unwrap() error { return e.Err }
