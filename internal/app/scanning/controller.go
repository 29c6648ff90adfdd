package scanning

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/metafix/metafix/internal/domain/events"
	domain "github.com/metafix/metafix/internal/domain/scanning"
	"github.com/metafix/metafix/pkg/common/logger"
)

// ErrJobAlreadyRunning indicates a start request lost the single-flight race:
// another job is running, paused, or interrupted and awaiting a decision.
var ErrJobAlreadyRunning = errors.New("a scan job is already active")

// activeRun bundles the live job with its control signals. The executor is the
// sole mutator of the job; every access goes through the run's mutex so the
// controller can take consistent snapshots at any time.
type activeRun struct {
	mu         sync.Mutex
	job        *domain.Job
	signals    *execSignals
	done       chan struct{}
	cancelExec context.CancelFunc
}

func newActiveRun(job *domain.Job) *activeRun {
	return &activeRun{
		job:     job,
		signals: newExecSignals(),
		done:    make(chan struct{}),
	}
}

func (r *activeRun) withJob(f func(*domain.Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(r.job)
}

func (r *activeRun) snapshot() domain.JobSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Snapshot()
}

func (r *activeRun) jobID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.ID()
}

func (r *activeRun) resumePosition() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.ResumePosition()
}

func (r *activeRun) finished() { close(r.done) }

func (r *activeRun) isFinished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// JobController is the single authority over the scan job lifecycle. It
// enforces the one-active-job rule, serializes concurrent transition requests,
// and owns startup recovery. All control methods are safe for concurrent use.
type JobController struct {
	repo      domain.JobRepository
	source    domain.ItemSource
	processor domain.ItemProcessor
	sink      domain.IssueSink
	publisher events.DomainEventPublisher

	execCfg ExecutorConfig

	logger *logger.Logger
	tracer trace.Tracer

	// mu guards the single-flight slot. It is held only for slot checks and
	// pointer swaps, never across storage I/O: slow operations reserve the
	// slot via busy, release mu, and reacquire it to install their result, so
	// Status and CurrentSnapshot stay fast regardless of repository latency.
	mu          sync.Mutex
	active      *activeRun
	interrupted *domain.Job
	busy        bool

	wg sync.WaitGroup
}

// NewJobController assembles the controller from its collaborators.
func NewJobController(
	repo domain.JobRepository,
	source domain.ItemSource,
	processor domain.ItemProcessor,
	sink domain.IssueSink,
	publisher events.DomainEventPublisher,
	execCfg ExecutorConfig,
	log *logger.Logger,
	tracer trace.Tracer,
) *JobController {
	return &JobController{
		repo:      repo,
		source:    source,
		processor: processor,
		sink:      sink,
		publisher: publisher,
		execCfg:   execCfg,
		logger:    log.With("component", "job_controller"),
		tracer:    tracer,
	}
}

// Start creates a new scan job and launches its executor. It fails with
// ErrJobAlreadyRunning when another job is active or an interrupted job still
// awaits a resume-or-discard decision. The slot is reserved before the first
// storage call, so concurrent starts see exactly one winner while the winner
// enumerates and persists outside the lock; a successful return means the job
// is RUNNING with a fixed total.
func (c *JobController) Start(ctx context.Context, kind domain.JobKind, triggeredBy domain.TriggerSource) (domain.JobSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "job_controller.start",
		trace.WithAttributes(
			attribute.String("kind", kind.String()),
			attribute.String("triggered_by", triggeredBy.String()),
		),
	)
	defer span.End()

	c.mu.Lock()
	if c.activeLocked() != nil || c.interrupted != nil || c.busy {
		c.mu.Unlock()
		span.SetStatus(codes.Error, "job already active")
		return domain.JobSnapshot{}, ErrJobAlreadyRunning
	}
	c.busy = true
	c.mu.Unlock()
	defer c.releaseSlot()

	job := domain.NewJob(kind, triggeredBy)
	if err := c.repo.CreateJob(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "creating job failed")
		return domain.JobSnapshot{}, fmt.Errorf("creating scan job: %w", err)
	}
	span.SetAttributes(attribute.Int64("job_id", job.ID()))

	items, err := c.source.Enumerate(ctx, kind)
	if err != nil {
		c.abortStart(ctx, job, fmt.Sprintf("enumerating items: %v", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "enumeration failed")
		return domain.JobSnapshot{}, fmt.Errorf("enumerating items: %w", err)
	}

	if err := job.SetTotal(len(items)); err != nil {
		return domain.JobSnapshot{}, err
	}
	if err := job.UpdateStatus(domain.JobStatusRunning); err != nil {
		return domain.JobSnapshot{}, err
	}
	if err := c.repo.UpdateJob(ctx, job); err != nil {
		span.RecordError(err)
		return domain.JobSnapshot{}, fmt.Errorf("persisting job start: %w", err)
	}
	if err := c.repo.RecordTransition(ctx, job.ID(), domain.JobStatusPending, domain.JobStatusRunning, ""); err != nil {
		c.logger.Error(ctx, "recording start transition failed", "job_id", job.ID(), "err", err)
	}

	c.logger.Info(ctx, "scan job started",
		"job_id", job.ID(), "kind", kind, "total", len(items), "triggered_by", triggeredBy)

	// Publish the initial progress before the executor starts so subscribers
	// never see executor events ahead of it.
	snap := job.Snapshot()
	c.publishEvent(ctx, domain.NewJobEvent(domain.EventTypeProgress, snap.ID, domain.NewJobProgressPayload(snap)))

	c.mu.Lock()
	c.launchLocked(ctx, job, items)
	c.mu.Unlock()
	return snap, nil
}

// releaseSlot clears the in-flight slot reservation.
func (c *JobController) releaseSlot() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// abortStart fails a job that never reached RUNNING.
func (c *JobController) abortStart(ctx context.Context, job *domain.Job, reason string) {
	// PENDING cannot fail directly; pass through RUNNING first.
	if err := job.UpdateStatus(domain.JobStatusRunning); err == nil {
		_ = job.Fail(reason)
	}
	if err := c.repo.UpdateJob(ctx, job); err != nil {
		c.logger.Error(ctx, "persisting aborted job failed", "job_id", job.ID(), "err", err)
	}
}

// launchLocked installs the active run and starts its executor goroutine.
// Caller holds c.mu.
func (c *JobController) launchLocked(ctx context.Context, job *domain.Job, items []domain.ItemRef) {
	run := newActiveRun(job)
	c.active = run

	exec := newJobExecutor(run, items, c.repo, c.processor, c.sink, c.publisher, c.execCfg, c.logger, c.tracer)

	// The executor outlives the request; it runs against the controller's
	// lifetime, not the caller's. Shutdown cancels it, which reads as a
	// crash-stop the next startup recovers from.
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run.cancelExec = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		exec.Run(execCtx)
	}()
}

// Pause requests a cooperative pause of the running job. Returns (false, nil)
// when no job is running or it is already pausing, paused, or cancelling.
// Out of any number of concurrent pause requests exactly one returns true.
func (c *JobController) Pause(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run := c.activeLocked()
	if run == nil {
		return false, nil
	}
	if !run.signals.RequestPause() {
		return false, nil
	}
	c.logger.Info(ctx, "pause requested", "job_id", run.jobID())
	return true, nil
}

// Resume unparks a paused job. Returns (false, nil) when no job is paused.
func (c *JobController) Resume(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run := c.activeLocked()
	if run == nil {
		return false, nil
	}
	if !run.signals.RequestResume() {
		return false, nil
	}
	c.logger.Info(ctx, "resume requested", "job_id", run.jobID())
	return true, nil
}

// Cancel requests cancellation of the active job, clearing any pending pause
// so a parked executor unwinds. The in-flight item finishes first.
func (c *JobController) Cancel(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run := c.activeLocked()
	if run == nil {
		return false, nil
	}
	if !run.signals.RequestCancel() {
		return false, nil
	}
	c.logger.Info(ctx, "cancel requested", "job_id", run.jobID())
	return true, nil
}

// Status returns a snapshot of the active job, or ErrNoActiveJob when the
// system is idle.
func (c *JobController) Status(ctx context.Context) (domain.JobSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run := c.activeLocked()
	if run == nil {
		return domain.JobSnapshot{}, domain.ErrNoActiveJob
	}
	return run.snapshot(), nil
}

// CurrentSnapshot returns the active job's snapshot for subscriber greetings,
// nil when idle. Unlike Status it also reports an undecided interrupted job.
func (c *JobController) CurrentSnapshot(ctx context.Context) *domain.JobSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if run := c.activeLocked(); run != nil {
		snap := run.snapshot()
		return &snap
	}
	if c.interrupted != nil {
		snap := c.interrupted.Snapshot()
		return &snap
	}
	return nil
}

// activeLocked returns the live run, clearing it first if its executor has
// finished. Caller holds c.mu.
func (c *JobController) activeLocked() *activeRun {
	if c.active != nil && c.active.isFinished() {
		c.active = nil
	}
	return c.active
}

// RecoverOnStartup looks for a job left RUNNING or PAUSED by a previous
// process. A found job is parked as interrupted, awaiting an explicit
// resume-or-discard decision; nothing restarts automatically.
func (c *JobController) RecoverOnStartup(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "job_controller.recover_on_startup")
	defer span.End()

	job, err := c.repo.FindActiveJob(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveJob) {
			c.logger.Info(ctx, "no interrupted scan job found")
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("finding interrupted job: %w", err)
	}

	c.mu.Lock()
	c.interrupted = job
	c.mu.Unlock()

	span.SetAttributes(attribute.Int64("job_id", job.ID()))
	c.logger.Info(ctx, "interrupted scan job found, awaiting decision",
		"job_id", job.ID(), "status", job.Status(), "position", job.ResumePosition(), "total", job.Total())
	return nil
}

// GetInterruptedJob returns the parked interrupted job, or ErrNoInterruptedJob.
func (c *JobController) GetInterruptedJob(ctx context.Context) (domain.JobSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interrupted == nil {
		return domain.JobSnapshot{}, domain.ErrNoInterruptedJob
	}
	return c.interrupted.Snapshot(), nil
}

// DiscardInterrupted marks the interrupted job CANCELLED and clears it. The
// persisted checkpoint remains for post-mortem inspection.
func (c *JobController) DiscardInterrupted(ctx context.Context) (domain.JobSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "job_controller.discard_interrupted")
	defer span.End()

	job, err := c.claimInterrupted()
	if err != nil {
		return domain.JobSnapshot{}, err
	}

	from := job.Status()
	if err := job.UpdateStatus(domain.JobStatusCancelled); err != nil {
		c.restoreInterrupted(job)
		span.RecordError(err)
		return domain.JobSnapshot{}, fmt.Errorf("discarding interrupted job: %w", err)
	}
	if err := c.repo.UpdateJob(ctx, job); err != nil {
		c.restoreInterrupted(job)
		span.RecordError(err)
		return domain.JobSnapshot{}, fmt.Errorf("persisting discarded job: %w", err)
	}
	if err := c.repo.RecordTransition(ctx, job.ID(), from, domain.JobStatusCancelled, "discarded after interruption"); err != nil {
		c.logger.Error(ctx, "recording discard transition failed", "job_id", job.ID(), "err", err)
	}

	c.releaseSlot()
	snap := job.Snapshot()
	c.publishEvent(ctx, domain.NewJobEvent(domain.EventTypeCancelled, snap.ID, domain.NewJobProgressPayload(snap)))
	c.logger.Info(ctx, "interrupted scan job discarded", "job_id", snap.ID)
	return snap, nil
}

// ResumeInterrupted re-runs the interrupted job's executor from its last
// checkpoint. Items completed before the last checkpoint are never
// re-processed; items after it may run again (at-least-once).
func (c *JobController) ResumeInterrupted(ctx context.Context) (domain.JobSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "job_controller.resume_interrupted")
	defer span.End()

	job, err := c.claimInterrupted()
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	span.SetAttributes(attribute.Int64("job_id", job.ID()))

	// Enumeration order is deterministic, so re-enumerating reproduces the
	// index space the checkpoint position refers to.
	items, err := c.source.Enumerate(ctx, job.Kind())
	if err != nil {
		c.restoreInterrupted(job)
		span.RecordError(err)
		return domain.JobSnapshot{}, fmt.Errorf("re-enumerating items: %w", err)
	}

	if job.Status() == domain.JobStatusPaused {
		from := job.Status()
		if err := job.UpdateStatus(domain.JobStatusRunning); err != nil {
			c.restoreInterrupted(job)
			return domain.JobSnapshot{}, err
		}
		if err := c.repo.RecordTransition(ctx, job.ID(), from, domain.JobStatusRunning, "resumed after interruption"); err != nil {
			c.logger.Error(ctx, "recording resume transition failed", "job_id", job.ID(), "err", err)
		}
	}
	if err := c.repo.UpdateJob(ctx, job); err != nil {
		c.restoreInterrupted(job)
		span.RecordError(err)
		return domain.JobSnapshot{}, fmt.Errorf("persisting resumed job: %w", err)
	}

	c.logger.Info(ctx, "interrupted scan job resuming",
		"job_id", job.ID(), "position", job.ResumePosition(), "total", len(items))

	snap := job.Snapshot()
	c.publishEvent(ctx, domain.NewJobEvent(domain.EventTypeResumed, snap.ID, domain.NewJobProgressPayload(snap)))

	c.mu.Lock()
	c.launchLocked(ctx, job, items)
	c.busy = false
	c.mu.Unlock()
	return snap, nil
}

// claimInterrupted takes exclusive ownership of the parked interrupted job and
// reserves the single-flight slot, so the following storage work can run
// without holding c.mu. A concurrent claimer sees the slot empty and fails.
func (c *JobController) claimInterrupted() (*domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interrupted == nil {
		return nil, domain.ErrNoInterruptedJob
	}
	if c.activeLocked() != nil || c.busy {
		return nil, ErrJobAlreadyRunning
	}
	job := c.interrupted
	c.interrupted = nil
	c.busy = true
	return job, nil
}

// restoreInterrupted parks the job again after a failed resume or discard.
func (c *JobController) restoreInterrupted(job *domain.Job) {
	c.mu.Lock()
	c.interrupted = job
	c.busy = false
	c.mu.Unlock()
}

// History returns recent jobs in reverse start order.
func (c *JobController) History(ctx context.Context, limit, offset int) ([]domain.JobSnapshot, error) {
	return c.repo.ListJobs(ctx, limit, offset)
}

// Shutdown stops the active executor, if any, by cancelling its context and
// waits for it to return. The job's persisted state is left as-is so the next
// startup surfaces it as interrupted.
func (c *JobController) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if run := c.activeLocked(); run != nil && run.cancelExec != nil {
		run.cancelExec()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the active executor goroutine, if any, has returned.
func (c *JobController) Wait() { c.wg.Wait() }

func (c *JobController) publishEvent(ctx context.Context, event events.DomainEvent) {
	if err := c.publisher.PublishDomainEvent(ctx, event); err != nil {
		c.logger.Debug(ctx, "event publish failed", "type", event.Type, "err", err)
	}
}
