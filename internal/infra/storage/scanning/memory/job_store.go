// Package memory provides a map-backed scanning.JobRepository. It honors the
// same contract as the PostgreSQL store, minus durability, and exists for
// tests and for running the service without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/metafix/metafix/internal/domain/scanning"
)

var _ scanning.JobRepository = (*JobStore)(nil)

// jobRecord is the stored form of a job: plain values, detached from any
// caller-held aggregate.
type jobRecord struct {
	snapshot   scanning.JobSnapshot
	checkpoint *scanning.Checkpoint
}

type transitionRecord struct {
	from, to   scanning.JobStatus
	reason     string
	occurredAt time.Time
}

// JobStore is an in-memory scanning.JobRepository.
type JobStore struct {
	mu          sync.RWMutex
	nextID      int64
	jobs        map[int64]jobRecord
	transitions map[int64][]transitionRecord

	// FailCheckpoints makes every SaveCheckpoint call return failErr while
	// set. Tests use it to exercise the checkpoint failure escalation path.
	failCheckpoints bool
	failErr         error
}

// NewJobStore creates an empty in-memory job repository.
func NewJobStore() *JobStore {
	return &JobStore{
		nextID:      1,
		jobs:        make(map[int64]jobRecord),
		transitions: make(map[int64][]transitionRecord),
	}
}

// FailCheckpointWrites toggles forced checkpoint write failures.
func (s *JobStore) FailCheckpointWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCheckpoints = err != nil
	s.failErr = err
}

func (s *JobStore) CreateJob(_ context.Context, job *scanning.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.AssignID(s.nextID)
	s.nextID++
	s.jobs[job.ID()] = jobRecord{snapshot: job.Snapshot(), checkpoint: copyCheckpoint(job.LastCheckpoint())}
	return nil
}

func (s *JobStore) UpdateJob(_ context.Context, job *scanning.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[job.ID()]
	if !ok {
		return scanning.ErrJobNotFound
	}
	rec.snapshot = job.Snapshot()
	s.jobs[job.ID()] = rec
	return nil
}

func (s *JobStore) SaveCheckpoint(_ context.Context, jobID int64, cp scanning.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCheckpoints {
		return s.failErr
	}

	rec, ok := s.jobs[jobID]
	if !ok || rec.snapshot.Status.IsTerminal() {
		return scanning.ErrJobNotFound
	}
	rec.checkpoint = &cp
	rec.snapshot.Processed = cp.Position()
	rec.snapshot.IssuesFound = cp.IssuesFound()
	rec.snapshot.EditionsApplied = cp.EditionsApplied()
	rec.snapshot.ItemErrors = cp.ItemErrors()
	s.jobs[jobID] = rec
	return nil
}

func (s *JobStore) GetJob(_ context.Context, jobID int64) (*scanning.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, scanning.ErrJobNotFound
	}
	return reconstruct(rec), nil
}

func (s *JobStore) FindActiveJob(_ context.Context) (*scanning.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *jobRecord
	for id := s.nextID - 1; id >= 1; id-- {
		if rec, ok := s.jobs[id]; ok && rec.snapshot.Status.IsActive() {
			found = &rec
			break
		}
	}
	if found == nil {
		return nil, scanning.ErrNoActiveJob
	}
	return reconstruct(*found), nil
}

func (s *JobStore) ListJobs(_ context.Context, limit, offset int) ([]scanning.JobSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snaps []scanning.JobSnapshot
	skipped := 0
	for id := s.nextID - 1; id >= 1 && len(snaps) < limit; id-- {
		rec, ok := s.jobs[id]
		if !ok {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		snaps = append(snaps, rec.snapshot)
	}
	return snaps, nil
}

func (s *JobStore) RecordTransition(_ context.Context, jobID int64, from, to scanning.JobStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions[jobID] = append(s.transitions[jobID], transitionRecord{from: from, to: to, reason: reason, occurredAt: time.Now()})
	return nil
}

func (s *JobStore) ListTransitions(_ context.Context, jobID int64) ([]scanning.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scanning.TransitionRecord
	for _, tr := range s.transitions[jobID] {
		out = append(out, scanning.TransitionRecord{
			JobID:      jobID,
			From:       tr.from,
			To:         tr.to,
			Reason:     tr.reason,
			OccurredAt: tr.occurredAt,
		})
	}
	return out, nil
}

// Transitions returns the recorded transitions for a job as from->to pairs,
// for test assertions.
func (s *JobStore) Transitions(jobID int64) [][2]scanning.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out [][2]scanning.JobStatus
	for _, tr := range s.transitions[jobID] {
		out = append(out, [2]scanning.JobStatus{tr.from, tr.to})
	}
	return out
}

// LastCheckpoint returns the stored checkpoint for a job, nil when none was
// written, for test assertions.
func (s *JobStore) LastCheckpoint(jobID int64) *scanning.Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	return copyCheckpoint(rec.checkpoint)
}

func reconstruct(rec jobRecord) *scanning.Job {
	snap := rec.snapshot
	return scanning.ReconstructJob(
		snap.ID,
		snap.Kind,
		snap.Status,
		snap.TriggeredBy,
		snap.Total, snap.Processed,
		snap.IssuesFound, snap.EditionsApplied, snap.ItemErrors,
		snap.CurrentItem, snap.CurrentLibrary, snap.FailureReason,
		copyCheckpoint(rec.checkpoint),
		scanning.ReconstructTimeline(snap.StartedAt, snap.PausedAt, snap.CompletedAt),
	)
}

func copyCheckpoint(cp *scanning.Checkpoint) *scanning.Checkpoint {
	if cp == nil {
		return nil
	}
	dup := *cp
	return &dup
}
