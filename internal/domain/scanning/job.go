package scanning

import (
	"fmt"
	"time"
)

// Job coordinates and tracks one execution attempt of a library scan. It owns
// the authoritative state, counters, and checkpoint for that attempt. At most
// one Job is active (running or paused) system-wide; the controller enforces
// this.
type Job struct {
	id          int64
	kind        JobKind
	status      JobStatus
	triggeredBy TriggerSource

	total           int
	processed       int
	issuesFound     int64
	editionsApplied int64
	itemErrors      int64

	currentItem    string
	currentLibrary string
	failureReason  string

	checkpoint *Checkpoint
	timeline   *Timeline
}

// JobOption defines functional options for configuring a new Job.
type JobOption func(*Job)

// WithTimeProvider sets a custom time provider for the job.
func WithTimeProvider(tp TimeProvider) JobOption {
	return func(j *Job) { j.timeline = NewTimeline(tp) }
}

// NewJob creates a new Job instance. The job starts in PENDING; the controller
// promotes it to RUNNING inside its start critical section.
func NewJob(kind JobKind, triggeredBy TriggerSource, opts ...JobOption) *Job {
	job := &Job{
		kind:        kind,
		status:      JobStatusPending,
		triggeredBy: triggeredBy,
		timeline:    NewTimeline(new(realTimeProvider)),
	}

	for _, opt := range opts {
		opt(job)
	}

	return job
}

// ReconstructJob creates a Job instance from stored fields, bypassing creation
// invariants. This should only be used by repositories when loading from
// storage.
func ReconstructJob(
	id int64,
	kind JobKind,
	status JobStatus,
	triggeredBy TriggerSource,
	total, processed int,
	issuesFound, editionsApplied, itemErrors int64,
	currentItem, currentLibrary, failureReason string,
	checkpoint *Checkpoint,
	timeline *Timeline,
) *Job {
	return &Job{
		id:              id,
		kind:            kind,
		status:          status,
		triggeredBy:     triggeredBy,
		total:           total,
		processed:       processed,
		issuesFound:     issuesFound,
		editionsApplied: editionsApplied,
		itemErrors:      itemErrors,
		currentItem:     currentItem,
		currentLibrary:  currentLibrary,
		failureReason:   failureReason,
		checkpoint:      checkpoint,
		timeline:        timeline,
	}
}

// ID returns the monotonic identifier assigned when the job record was
// persisted. Zero until AssignID is called.
func (j *Job) ID() int64 { return j.id }

// AssignID sets the persisted identifier. This should only be called by
// repositories after inserting the job record.
func (j *Job) AssignID(id int64) { j.id = id }

// Kind returns which per-item step functions this job runs.
func (j *Job) Kind() JobKind { return j.kind }

// Status returns the current execution status of the scan job.
func (j *Job) Status() JobStatus { return j.status }

// TriggeredBy returns what initiated this job.
func (j *Job) TriggeredBy() TriggerSource { return j.triggeredBy }

// Total returns the item count fixed at job start. Zero until SetTotal.
func (j *Job) Total() int { return j.total }

// Processed returns the count of fully completed items.
func (j *Job) Processed() int { return j.processed }

// IssuesFound returns the number of issue records reported by step functions.
func (j *Job) IssuesFound() int64 { return j.issuesFound }

// EditionsApplied returns the number of edition changes reported by step
// functions.
func (j *Job) EditionsApplied() int64 { return j.editionsApplied }

// ItemErrors returns the number of isolated per-item failures.
func (j *Job) ItemErrors() int64 { return j.itemErrors }

// CurrentItem returns the last-known item label. Best-effort, not
// authoritative.
func (j *Job) CurrentItem() string { return j.currentItem }

// CurrentLibrary returns the last-known library label. Best-effort, not
// authoritative.
func (j *Job) CurrentLibrary() string { return j.currentLibrary }

// FailureReason returns the human-readable reason for a FAILED job.
func (j *Job) FailureReason() string { return j.failureReason }

// LastCheckpoint returns the most recently persisted checkpoint, nil when none
// has been written.
func (j *Job) LastCheckpoint() *Checkpoint { return j.checkpoint }

// StartedAt returns when this job began executing.
func (j *Job) StartedAt() time.Time { return j.timeline.StartedAt() }

// PausedAt returns when this job was last paused, zero if not paused.
func (j *Job) PausedAt() time.Time { return j.timeline.PausedAt() }

// CompletedAt returns when this job reached a terminal state, zero otherwise.
func (j *Job) CompletedAt() time.Time { return j.timeline.CompletedAt() }

// LastUpdateTime returns when this job's state was last modified.
func (j *Job) LastUpdateTime() time.Time { return j.timeline.LastUpdate() }

// SetTotal fixes the item count for the duration of the job. The total is a
// snapshot of the enumeration taken at start and is never recomputed mid-run.
func (j *Job) SetTotal(total int) error {
	if j.total != 0 {
		return fmt.Errorf("job %d total already fixed at %d", j.id, j.total)
	}
	if total < 0 {
		return fmt.Errorf("job %d total cannot be negative", j.id)
	}
	j.total = total
	j.timeline.UpdateLastUpdate()
	return nil
}

// UpdateStatus changes the job's status after validating the transition.
// It returns an error if the transition is not valid.
func (j *Job) UpdateStatus(newStatus JobStatus) error {
	if err := j.status.validateTransition(newStatus); err != nil {
		return err
	}

	switch {
	case j.status == JobStatusPending && newStatus == JobStatusRunning:
		j.timeline.MarkStarted()
	case newStatus == JobStatusPaused:
		j.timeline.MarkPaused()
	case j.status == JobStatusPaused && newStatus == JobStatusRunning:
		j.timeline.ClearPaused()
	}

	if newStatus.IsTerminal() {
		j.timeline.MarkCompleted()
	}

	j.status = newStatus
	return nil
}

// Fail transitions the job to FAILED and records the reason.
func (j *Job) Fail(reason string) error {
	if err := j.UpdateStatus(JobStatusFailed); err != nil {
		return err
	}
	j.failureReason = reason
	return nil
}

// BeginItem records the item the executor is about to process. Labels are
// best-effort position hints; they are not part of the checkpoint contract.
func (j *Job) BeginItem(item ItemRef) {
	j.currentItem = item.Title
	j.currentLibrary = item.LibraryName
	j.timeline.UpdateLastUpdate()
}

// CompleteItem increments the processed counter after an item's step functions
// finished (successfully or with an isolated failure). The counter never
// exceeds the fixed total.
func (j *Job) CompleteItem() error {
	if j.processed >= j.total {
		return fmt.Errorf("job %d processed count %d would exceed total %d", j.id, j.processed, j.total)
	}
	j.processed++
	j.timeline.UpdateLastUpdate()
	return nil
}

// AddIssues increments the issue counter by n.
func (j *Job) AddIssues(n int) {
	if n > 0 {
		j.issuesFound += int64(n)
	}
}

// RecordEditionApplied increments the applied-edition counter.
func (j *Job) RecordEditionApplied() { j.editionsApplied++ }

// RecordItemError counts an isolated per-item failure.
func (j *Job) RecordItemError() { j.itemErrors++ }

// BuildCheckpoint captures the current position and counters as a checkpoint.
// The position equals the count of fully completed items, so the persisted
// value is never ahead of the in-memory counter.
func (j *Job) BuildCheckpoint() Checkpoint {
	return NewCheckpoint(j.processed, j.issuesFound, j.editionsApplied, j.itemErrors, j.currentLibrary)
}

// RecordCheckpoint stores the last successfully persisted checkpoint.
func (j *Job) RecordCheckpoint(cp Checkpoint) {
	j.checkpoint = &cp
}

// ResumePosition returns the index of the first not-yet-completed item,
// derived from the last persisted checkpoint. Zero for a fresh start.
func (j *Job) ResumePosition() int {
	if j.checkpoint == nil {
		return 0
	}
	return j.checkpoint.Position()
}

// Snapshot returns an immutable copy of the job's observable state, safe to
// hand to any goroutine.
func (j *Job) Snapshot() JobSnapshot {
	return JobSnapshot{
		ID:              j.id,
		Kind:            j.kind,
		Status:          j.status,
		TriggeredBy:     j.triggeredBy,
		Total:           j.total,
		Processed:       j.processed,
		IssuesFound:     j.issuesFound,
		EditionsApplied: j.editionsApplied,
		ItemErrors:      j.itemErrors,
		CurrentItem:     j.currentItem,
		CurrentLibrary:  j.currentLibrary,
		FailureReason:   j.failureReason,
		StartedAt:       j.timeline.StartedAt(),
		PausedAt:        j.timeline.PausedAt(),
		CompletedAt:     j.timeline.CompletedAt(),
	}
}
