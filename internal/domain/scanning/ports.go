package scanning

import (
	"context"
	"time"
)

// JobRepository defines the persistence operations for scan jobs. All durable
// state (status, counters, checkpoints, transition history) flows through this
// port.
type JobRepository interface {
	// CreateJob persists a new job record and assigns its identifier.
	CreateJob(ctx context.Context, job *Job) error

	// UpdateJob persists the job's current status, counters, labels, and
	// timeline.
	UpdateJob(ctx context.Context, job *Job) error

	// SaveCheckpoint durably records a resume point for the job. The write is
	// atomic: readers observe either the previous checkpoint or this one.
	SaveCheckpoint(ctx context.Context, jobID int64, cp Checkpoint) error

	// GetJob retrieves a job by ID, returning ErrJobNotFound when absent.
	GetJob(ctx context.Context, jobID int64) (*Job, error)

	// FindActiveJob returns the job currently in RUNNING or PAUSED state.
	// Returns ErrNoActiveJob when every job is pending or terminal.
	FindActiveJob(ctx context.Context) (*Job, error)

	// ListJobs returns recent jobs in reverse start order.
	ListJobs(ctx context.Context, limit, offset int) ([]JobSnapshot, error)

	// RecordTransition appends a status change to the job's audit trail.
	RecordTransition(ctx context.Context, jobID int64, from, to JobStatus, reason string) error

	// ListTransitions returns a job's audit trail in occurrence order.
	ListTransitions(ctx context.Context, jobID int64) ([]TransitionRecord, error)
}

// TransitionRecord is one entry of a job's status audit trail.
type TransitionRecord struct {
	JobID      int64
	From       JobStatus
	To         JobStatus
	Reason     string
	OccurredAt time.Time
}

// ItemSource enumerates the work for a scan job. The enumeration happens once
// at job start and its order must be deterministic so checkpoint positions
// stay meaningful across restarts.
type ItemSource interface {
	Enumerate(ctx context.Context, kind JobKind) ([]ItemRef, error)
}

// ItemProcessor runs the per-item step functions selected by the job kind.
// Implementations must honor ctx cancellation on long calls.
type ItemProcessor interface {
	Process(ctx context.Context, kind JobKind, item ItemRef) (StepResult, error)
}

// IssueSink records metadata issues and applied editions discovered while
// processing items. The executor forwards step outputs here and counts them;
// it never inspects their contents.
type IssueSink interface {
	RecordIssues(ctx context.Context, jobID int64, issues []IssueRecord) error
	RecordEdition(ctx context.Context, jobID int64, item ItemRef, edition string) error
}
