// Package postgres persists scan jobs, checkpoints, and the lifecycle audit
// trail in PostgreSQL. It is the durable half of the crash-safety story: every
// resume decision after a restart is driven entirely by what this package
// wrote.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/metafix/metafix/internal/domain/scanning"
	"github.com/metafix/metafix/internal/infra/storage"
)

var _ scanning.JobRepository = (*jobStore)(nil)

// jobStore implements scanning.JobRepository using PostgreSQL as the backing
// store.
type jobStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a new PostgreSQL-backed job repository with tracing
// capabilities.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *jobStore {
	return &jobStore{db: pool, tracer: tracer}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const createJobQuery = `
INSERT INTO scan_jobs (
	kind, status, triggered_by, total_items, processed_items,
	issues_found, editions_applied, item_errors,
	current_item, current_library, failure_reason,
	started_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id`

// CreateJob persists a new scan job and assigns its identifier. The write is
// durable before return; the generated id is monotonic across jobs.
func (r *jobStore) CreateJob(ctx context.Context, job *scanning.Job) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("kind", job.Kind().String()),
		attribute.String("status", string(job.Status())),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_job", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		var id int64
		err := r.db.QueryRow(ctx, createJobQuery,
			job.Kind().String(),
			string(job.Status()),
			job.TriggeredBy().String(),
			job.Total(),
			job.Processed(),
			job.IssuesFound(),
			job.EditionsApplied(),
			job.ItemErrors(),
			job.CurrentItem(),
			job.CurrentLibrary(),
			job.FailureReason(),
			job.StartedAt(),
			job.LastUpdateTime(),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("CreateJob insert error: %w", err)
		}

		job.AssignID(id)
		return nil
	})
}

const updateJobQuery = `
UPDATE scan_jobs SET
	status = $2,
	total_items = $3,
	processed_items = $4,
	issues_found = $5,
	editions_applied = $6,
	item_errors = $7,
	current_item = $8,
	current_library = $9,
	failure_reason = $10,
	started_at = $11,
	paused_at = $12,
	completed_at = $13,
	updated_at = $14
WHERE id = $1`

// UpdateJob modifies an existing job's state in the database.
func (r *jobStore) UpdateJob(ctx context.Context, job *scanning.Job) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int64("job_id", job.ID()),
		attribute.String("status", string(job.Status())),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_job", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		tag, err := r.db.Exec(ctx, updateJobQuery,
			job.ID(),
			string(job.Status()),
			job.Total(),
			job.Processed(),
			job.IssuesFound(),
			job.EditionsApplied(),
			job.ItemErrors(),
			job.CurrentItem(),
			job.CurrentLibrary(),
			job.FailureReason(),
			job.StartedAt(),
			nullableTime(job.PausedAt()),
			nullableTime(job.CompletedAt()),
			job.LastUpdateTime(),
		)
		if err != nil {
			return fmt.Errorf("UpdateJob error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return scanning.ErrJobNotFound
		}
		return nil
	})
}

const saveCheckpointQuery = `
UPDATE scan_jobs SET
	checkpoint = $2,
	processed_items = $3,
	issues_found = $4,
	editions_applied = $5,
	item_errors = $6,
	updated_at = now()
WHERE id = $1 AND status IN ('RUNNING', 'PAUSED')`

// SaveCheckpoint durably records a resume point. The checkpoint and the
// counters it captures land in one UPDATE, so readers always observe a
// consistent pair. Terminal jobs reject checkpoint writes.
func (r *jobStore) SaveCheckpoint(ctx context.Context, jobID int64, cp scanning.Checkpoint) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int64("job_id", jobID),
		attribute.Int("position", cp.Position()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.save_checkpoint", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		payload, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("SaveCheckpoint marshal error: %w", err)
		}

		tag, err := r.db.Exec(ctx, saveCheckpointQuery,
			jobID, payload, cp.Position(), cp.IssuesFound(), cp.EditionsApplied(), cp.ItemErrors())
		if err != nil {
			return fmt.Errorf("SaveCheckpoint error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return scanning.ErrJobNotFound
		}
		return nil
	})
}

const jobColumns = `
	id, kind, status, triggered_by, total_items, processed_items,
	issues_found, editions_applied, item_errors,
	current_item, current_library, failure_reason,
	checkpoint, started_at, paused_at, completed_at`

const getJobQuery = `SELECT ` + jobColumns + ` FROM scan_jobs WHERE id = $1`

// GetJob retrieves a job by ID.
func (r *jobStore) GetJob(ctx context.Context, jobID int64) (*scanning.Job, error) {
	dbAttrs := append(defaultDBAttributes, attribute.Int64("job_id", jobID))

	var job *scanning.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_job", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, getJobQuery, jobID)
		var err error
		job, err = scanJobRow(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return scanning.ErrJobNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

const findActiveJobQuery = `SELECT ` + jobColumns + `
FROM scan_jobs WHERE status IN ('RUNNING', 'PAUSED') ORDER BY id DESC LIMIT 1`

// FindActiveJob returns the job currently counted against the single-flight
// limit, reconstructed with its last checkpoint.
func (r *jobStore) FindActiveJob(ctx context.Context) (*scanning.Job, error) {
	var job *scanning.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.find_active_job", defaultDBAttributes, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, findActiveJobQuery)
		var err error
		job, err = scanJobRow(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return scanning.ErrNoActiveJob
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

const listJobsQuery = `SELECT ` + jobColumns + `
FROM scan_jobs ORDER BY id DESC LIMIT $1 OFFSET $2`

// ListJobs returns recent jobs in reverse start order.
func (r *jobStore) ListJobs(ctx context.Context, limit, offset int) ([]scanning.JobSnapshot, error) {
	dbAttrs := append(defaultDBAttributes, attribute.Int("limit", limit), attribute.Int("offset", offset))

	var snaps []scanning.JobSnapshot
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_jobs", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, listJobsQuery, limit, offset)
		if err != nil {
			return fmt.Errorf("ListJobs query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			job, err := scanJobRow(rows)
			if err != nil {
				return err
			}
			snaps = append(snaps, job.Snapshot())
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

const recordTransitionQuery = `
INSERT INTO scan_job_events (job_id, from_status, to_status, reason)
VALUES ($1, $2, $3, $4)`

// RecordTransition appends a status change to the job's audit trail.
func (r *jobStore) RecordTransition(ctx context.Context, jobID int64, from, to scanning.JobStatus, reason string) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int64("job_id", jobID),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.record_transition", dbAttrs, func(ctx context.Context) error {
		if _, err := r.db.Exec(ctx, recordTransitionQuery, jobID, string(from), string(to), reason); err != nil {
			return fmt.Errorf("RecordTransition insert error: %w", err)
		}
		return nil
	})
}

const listTransitionsQuery = `
SELECT job_id, from_status, to_status, reason, occurred_at
FROM scan_job_events WHERE job_id = $1 ORDER BY id`

// ListTransitions returns a job's audit trail in occurrence order.
func (r *jobStore) ListTransitions(ctx context.Context, jobID int64) ([]scanning.TransitionRecord, error) {
	dbAttrs := append(defaultDBAttributes, attribute.Int64("job_id", jobID))

	var transitions []scanning.TransitionRecord
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_transitions", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, listTransitionsQuery, jobID)
		if err != nil {
			return fmt.Errorf("ListTransitions query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var tr scanning.TransitionRecord
			var from, to string
			if err := rows.Scan(&tr.JobID, &from, &to, &tr.Reason, &tr.OccurredAt); err != nil {
				return fmt.Errorf("ListTransitions scan error: %w", err)
			}
			tr.From = scanning.ParseJobStatus(from)
			tr.To = scanning.ParseJobStatus(to)
			transitions = append(transitions, tr)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return transitions, nil
}

// scanJobRow reconstructs a Job aggregate from one result row.
func scanJobRow(row pgx.Row) (*scanning.Job, error) {
	var (
		id                            int64
		kind, status, triggeredBy     string
		total, processed              int
		issues, editions, itemErrors  int64
		item, library, failureReason  string
		checkpointRaw                 []byte
		startedAt                     time.Time
		pausedAt, completedAt         *time.Time
	)

	if err := row.Scan(
		&id, &kind, &status, &triggeredBy, &total, &processed,
		&issues, &editions, &itemErrors,
		&item, &library, &failureReason,
		&checkpointRaw, &startedAt, &pausedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	var checkpoint *scanning.Checkpoint
	if len(checkpointRaw) > 0 {
		var cp scanning.Checkpoint
		if err := json.Unmarshal(checkpointRaw, &cp); err != nil {
			return nil, fmt.Errorf("checkpoint unmarshal error: %w", err)
		}
		checkpoint = &cp
	}

	timeline := scanning.ReconstructTimeline(startedAt, derefTime(pausedAt), derefTime(completedAt))

	jobKind, err := scanning.ParseJobKind(kind)
	if err != nil {
		return nil, fmt.Errorf("stored job %d: %w", id, err)
	}

	return scanning.ReconstructJob(
		id,
		jobKind,
		scanning.ParseJobStatus(status),
		scanning.ParseTriggerSource(triggeredBy),
		total, processed,
		issues, editions, itemErrors,
		item, library, failureReason,
		checkpoint, timeline,
	), nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
