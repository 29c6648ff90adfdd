package scanning

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/metafix/metafix/internal/domain/events"
	domain "github.com/metafix/metafix/internal/domain/scanning"
	"github.com/metafix/metafix/pkg/common/logger"
)

const (
	// DefaultCheckpointInterval is how many completed items pass between
	// periodic checkpoint writes.
	DefaultCheckpointInterval = 100

	// DefaultMaxCheckpointFailures is how many consecutive exhausted
	// checkpoint write attempts the executor tolerates before failing the job.
	DefaultMaxCheckpointFailures = 3

	// DefaultCheckpointRetryBudget bounds the retry window for a single
	// checkpoint write before it counts as one failed attempt.
	DefaultCheckpointRetryBudget = 3 * time.Second
)

// jobExecutor drives one scan job through its item loop. It is the only
// goroutine that mutates the job aggregate while the job runs; the controller
// communicates through execSignals and reads state through snapshots.
type jobExecutor struct {
	run   *activeRun
	items []domain.ItemRef

	repo      domain.JobRepository
	processor domain.ItemProcessor
	sink      domain.IssueSink
	publisher events.DomainEventPublisher

	checkpointInterval    int
	maxCheckpointFailures int
	checkpointRetryBudget time.Duration
	progressLimiter       *rate.Limiter

	logger *logger.Logger
	tracer trace.Tracer
}

func newJobExecutor(
	run *activeRun,
	items []domain.ItemRef,
	repo domain.JobRepository,
	processor domain.ItemProcessor,
	sink domain.IssueSink,
	publisher events.DomainEventPublisher,
	cfg ExecutorConfig,
	log *logger.Logger,
	tracer trace.Tracer,
) *jobExecutor {
	return &jobExecutor{
		run:                   run,
		items:                 items,
		repo:                  repo,
		processor:             processor,
		sink:                  sink,
		publisher:             publisher,
		checkpointInterval:    cfg.checkpointInterval(),
		maxCheckpointFailures: cfg.maxCheckpointFailures(),
		checkpointRetryBudget: cfg.checkpointRetryBudget(),
		progressLimiter:       rate.NewLimiter(cfg.progressRate(), 1),
		logger:                log.With("component", "job_executor", "job_id", run.jobID()),
		tracer:                tracer,
	}
}

// ExecutorConfig tunes the executor's checkpoint and progress cadence. The
// zero value gets sane defaults.
type ExecutorConfig struct {
	// CheckpointInterval is the number of completed items between periodic
	// checkpoint writes. Defaults to DefaultCheckpointInterval.
	CheckpointInterval int

	// MaxCheckpointFailures is the number of consecutive failed checkpoint
	// writes that fail the job. Defaults to DefaultMaxCheckpointFailures.
	MaxCheckpointFailures int

	// ProgressEventsPerSecond throttles progress events on the bus. The final
	// item's progress event always goes out regardless. Defaults to 10/s.
	ProgressEventsPerSecond float64

	// CheckpointRetryBudget bounds the backoff retry window of one checkpoint
	// write. Defaults to DefaultCheckpointRetryBudget.
	CheckpointRetryBudget time.Duration
}

func (c ExecutorConfig) checkpointInterval() int {
	if c.CheckpointInterval > 0 {
		return c.CheckpointInterval
	}
	return DefaultCheckpointInterval
}

func (c ExecutorConfig) maxCheckpointFailures() int {
	if c.MaxCheckpointFailures > 0 {
		return c.MaxCheckpointFailures
	}
	return DefaultMaxCheckpointFailures
}

func (c ExecutorConfig) checkpointRetryBudget() time.Duration {
	if c.CheckpointRetryBudget > 0 {
		return c.CheckpointRetryBudget
	}
	return DefaultCheckpointRetryBudget
}

func (c ExecutorConfig) progressRate() rate.Limit {
	if c.ProgressEventsPerSecond > 0 {
		return rate.Limit(c.ProgressEventsPerSecond)
	}
	return rate.Limit(10)
}

// Run processes items from the job's resume position until completion,
// cancellation, failure, or context shutdown. Signals are checked at item
// boundaries only; an in-flight item always finishes.
//
// A context cancellation is treated as a crash-stop: the executor returns
// without a terminal transition, leaving the persisted state for startup
// recovery.
func (e *jobExecutor) Run(ctx context.Context) {
	defer e.run.finished()

	ctx, span := e.tracer.Start(ctx, "job_executor.run",
		trace.WithAttributes(
			attribute.Int64("job_id", e.run.jobID()),
			attribute.Int("item_count", len(e.items)),
		),
	)
	defer span.End()

	start := e.run.resumePosition()
	e.logger.Info(ctx, "executor starting", "position", start, "total", len(e.items))

	consecutiveCheckpointFailures := 0

	for i := start; i < len(e.items); i++ {
		if ctx.Err() != nil {
			e.logger.Warn(ctx, "executor stopping on context cancellation", "position", i)
			span.SetStatus(codes.Error, "context cancelled")
			return
		}

		if e.signals().Cancelled() {
			e.finish(ctx, domain.JobStatusCancelled)
			return
		}

		if e.signals().PauseRequested() {
			if !e.park(ctx) {
				span.SetStatus(codes.Error, "context cancelled while paused")
				return
			}
			// Re-check cancel: RequestCancel unparks a paused executor.
			if e.signals().Cancelled() {
				e.finish(ctx, domain.JobStatusCancelled)
				return
			}
		}

		e.processItem(ctx, e.items[i])

		processed := e.run.snapshot().Processed
		if processed%e.checkpointInterval == 0 && processed < len(e.items) {
			if err := e.writeCheckpoint(ctx); err != nil {
				consecutiveCheckpointFailures++
				e.logger.Error(ctx, "checkpoint write failed",
					"consecutive_failures", consecutiveCheckpointFailures, "err", err)
				if consecutiveCheckpointFailures >= e.maxCheckpointFailures {
					e.failJob(ctx, "checkpoint writes failed repeatedly: "+err.Error())
					span.SetStatus(codes.Error, "checkpoint writes exhausted")
					return
				}
			} else {
				consecutiveCheckpointFailures = 0
			}
		}

		// Intermediate progress is rate limited; the final item's event always
		// goes out, so subscribers see processed == total before the terminal
		// event.
		if i == len(e.items)-1 || e.progressLimiter.Allow() {
			e.publishProgress(ctx)
		}
	}

	e.finish(ctx, domain.JobStatusCompleted)
}

func (e *jobExecutor) signals() *execSignals { return e.run.signals }

// processItem runs the step functions for one item and folds the outputs into
// the job. A step failure is isolated: it is counted and logged, never fatal.
func (e *jobExecutor) processItem(ctx context.Context, item domain.ItemRef) {
	e.run.withJob(func(j *domain.Job) { j.BeginItem(item) })

	kind := e.run.snapshot().Kind
	jobID := e.run.jobID()

	result, err := e.processor.Process(ctx, kind, item)
	if err != nil {
		procErr := &domain.ItemProcessingError{Item: item, Step: string(kind), Err: err}
		e.logger.Warn(ctx, "item processing failed", "rating_key", item.RatingKey, "err", procErr)
		e.run.withJob(func(j *domain.Job) { j.RecordItemError() })
	} else {
		if len(result.Issues) > 0 {
			if err := e.sink.RecordIssues(ctx, jobID, result.Issues); err != nil {
				e.logger.Error(ctx, "recording issues failed", "rating_key", item.RatingKey, "err", err)
			}
			e.run.withJob(func(j *domain.Job) { j.AddIssues(len(result.Issues)) })
			for _, issue := range result.Issues {
				e.publish(ctx, domain.NewJobEvent(domain.EventTypeIssue, jobID, domain.NewIssuePayload(jobID, issue)))
			}
		}
		if result.AppliedEdition != nil {
			if err := e.sink.RecordEdition(ctx, jobID, item, *result.AppliedEdition); err != nil {
				e.logger.Error(ctx, "recording edition failed", "rating_key", item.RatingKey, "err", err)
			}
			e.run.withJob(func(j *domain.Job) { j.RecordEditionApplied() })
		}
	}

	e.run.withJob(func(j *domain.Job) {
		if err := j.CompleteItem(); err != nil {
			e.logger.Error(ctx, "item completion rejected", "err", err)
		}
	})
}

// park performs the pause transition, writes the pause checkpoint, and blocks
// until resumed or cancelled. Returns false only when the context ended while
// parked; the pause then persists as interrupted state for recovery.
func (e *jobExecutor) park(ctx context.Context) bool {
	ctx, span := e.tracer.Start(ctx, "job_executor.park")
	defer span.End()

	e.transition(ctx, domain.JobStatusPaused, "pause requested")

	if err := e.writeCheckpoint(ctx); err != nil {
		e.logger.Error(ctx, "pause checkpoint write failed", "err", err)
	}
	e.publish(ctx, domain.NewJobEvent(domain.EventTypePaused, e.run.jobID(), domain.NewJobProgressPayload(e.run.snapshot())))
	e.logger.Info(ctx, "executor paused", "position", e.run.snapshot().Processed)

	gate := e.signals().resumeGate()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return false
		}
	}

	if e.signals().Cancelled() {
		// The cancel path owns the terminal transition and event.
		return true
	}

	e.transition(ctx, domain.JobStatusRunning, "resume requested")
	e.publish(ctx, domain.NewJobEvent(domain.EventTypeResumed, e.run.jobID(), domain.NewJobProgressPayload(e.run.snapshot())))
	e.logger.Info(ctx, "executor resumed", "position", e.run.snapshot().Processed)
	return true
}

// finish writes the final checkpoint, applies the terminal transition, and
// publishes the terminal event. Checkpoint precedes the transition because
// terminal jobs accept no checkpoint writes.
func (e *jobExecutor) finish(ctx context.Context, status domain.JobStatus) {
	if err := e.writeCheckpoint(ctx); err != nil {
		e.logger.Error(ctx, "final checkpoint write failed", "err", err)
	}

	e.transition(ctx, status, "")

	var eventType events.EventType
	switch status {
	case domain.JobStatusCompleted:
		eventType = domain.EventTypeCompleted
	case domain.JobStatusCancelled:
		eventType = domain.EventTypeCancelled
	default:
		eventType = domain.EventTypeFailed
	}
	e.publish(ctx, domain.NewJobEvent(eventType, e.run.jobID(), domain.NewJobProgressPayload(e.run.snapshot())))
	e.logger.Info(ctx, "executor finished", "status", status, "processed", e.run.snapshot().Processed)
}

// failJob applies the FAILED transition with a reason and publishes the
// failure event. No checkpoint precedes it: failing is what happens when
// checkpoints cannot be written.
func (e *jobExecutor) failJob(ctx context.Context, reason string) {
	from := e.run.snapshot().Status
	e.run.withJob(func(j *domain.Job) {
		if err := j.Fail(reason); err != nil {
			e.logger.Error(ctx, "fail transition rejected", "err", err)
		}
	})
	e.persistState(ctx, from, domain.JobStatusFailed, reason)
	e.publish(ctx, domain.NewJobEvent(domain.EventTypeFailed, e.run.jobID(), domain.NewJobProgressPayload(e.run.snapshot())))
	e.logger.Error(ctx, "job failed", "reason", reason)
}

// transition applies a status change to the aggregate and persists it. A
// persistence failure is logged; the in-memory transition stands.
func (e *jobExecutor) transition(ctx context.Context, to domain.JobStatus, reason string) {
	from := e.run.snapshot().Status
	e.run.withJob(func(j *domain.Job) {
		if err := j.UpdateStatus(to); err != nil {
			e.logger.Error(ctx, "status transition rejected", "from", from, "to", to, "err", err)
		}
	})
	e.persistState(ctx, from, to, reason)
}

func (e *jobExecutor) persistState(ctx context.Context, from, to domain.JobStatus, reason string) {
	jobID := e.run.jobID()
	// The executor is the aggregate's only writer while the run lives, so the
	// job is stable for the duration of this call. Persisting outside run.mu
	// keeps status reads from queuing behind storage I/O.
	if err := e.repo.UpdateJob(ctx, e.run.job); err != nil {
		e.logger.Error(ctx, "persisting job state failed", "status", to, "err", err)
	}
	if err := e.repo.RecordTransition(ctx, jobID, from, to, reason); err != nil {
		e.logger.Error(ctx, "recording transition failed", "from", from, "to", to, "err", err)
	}
}

// writeCheckpoint durably saves the current position, retrying transient
// failures with exponential backoff inside a bounded window. On success the
// checkpoint becomes the job's new resume point.
func (e *jobExecutor) writeCheckpoint(ctx context.Context) error {
	var cp domain.Checkpoint
	e.run.withJob(func(j *domain.Job) { cp = j.BuildCheckpoint() })
	jobID := e.run.jobID()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 100 * time.Millisecond
	expBackoff.MaxElapsedTime = e.checkpointRetryBudget

	operation := func() error {
		return e.repo.SaveCheckpoint(ctx, jobID, cp)
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return &domain.CheckpointWriteError{JobID: jobID, Position: cp.Position(), Err: err}
	}

	e.run.withJob(func(j *domain.Job) { j.RecordCheckpoint(cp) })
	return nil
}

func (e *jobExecutor) publishProgress(ctx context.Context) {
	e.publish(ctx, domain.NewJobEvent(domain.EventTypeProgress, e.run.jobID(), domain.NewJobProgressPayload(e.run.snapshot())))
}

// publish offers an event to the bus. The bus never blocks; an error here
// means the bus is closed, which only happens during shutdown.
func (e *jobExecutor) publish(ctx context.Context, event events.DomainEvent) {
	if err := e.publisher.PublishDomainEvent(ctx, event); err != nil {
		e.logger.Debug(ctx, "event publish failed", "type", event.Type, "err", err)
	}
}
