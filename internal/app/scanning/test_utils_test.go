package scanning

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/metafix/metafix/internal/domain/events"
	domain "github.com/metafix/metafix/internal/domain/scanning"
	storagemem "github.com/metafix/metafix/internal/infra/storage/scanning/memory"
	"github.com/metafix/metafix/pkg/common/logger"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

// captureBus records every published event in order.
type captureBus struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (b *captureBus) PublishDomainEvent(_ context.Context, event events.DomainEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *captureBus) types() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.EventType, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

func (b *captureBus) countOf(t events.EventType) int {
	n := 0
	for _, typ := range b.types() {
		if typ == t {
			n++
		}
	}
	return n
}

func (b *captureBus) lastType() events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return ""
	}
	return b.events[len(b.events)-1].Type
}

// fakeSource enumerates a deterministic item list.
type fakeSource struct {
	items []domain.ItemRef
	err   error
}

func sourceOf(n int) *fakeSource {
	items := make([]domain.ItemRef, n)
	for i := range items {
		items[i] = domain.ItemRef{
			RatingKey:   strconv.Itoa(i),
			Title:       "item-" + strconv.Itoa(i),
			MediaType:   "movie",
			LibraryName: "Movies",
		}
	}
	return &fakeSource{items: items}
}

func (s *fakeSource) Enumerate(context.Context, domain.JobKind) ([]domain.ItemRef, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

// recordingProcessor tracks which items were processed. When gated, each item
// consumes one token from proceed, giving tests precise control over where
// the executor sits in its loop.
type recordingProcessor struct {
	mu      sync.Mutex
	seen    []string
	failOn  map[string]error
	issues  map[string][]domain.IssueRecord
	edition map[string]string
	proceed chan struct{}
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{}
}

func (p *recordingProcessor) gated() *recordingProcessor {
	p.proceed = make(chan struct{})
	return p
}

// allow feeds n tokens, letting the executor process n items.
func (p *recordingProcessor) allow(n int) {
	for i := 0; i < n; i++ {
		p.proceed <- struct{}{}
	}
}

func (p *recordingProcessor) Process(ctx context.Context, _ domain.JobKind, item domain.ItemRef) (domain.StepResult, error) {
	if p.proceed != nil {
		select {
		case <-p.proceed:
		case <-ctx.Done():
			return domain.StepResult{}, ctx.Err()
		}
	}

	p.mu.Lock()
	p.seen = append(p.seen, item.RatingKey)
	p.mu.Unlock()

	if err := p.failOn[item.RatingKey]; err != nil {
		return domain.StepResult{}, err
	}

	var res domain.StepResult
	res.Issues = p.issues[item.RatingKey]
	if ed, ok := p.edition[item.RatingKey]; ok {
		res.AppliedEdition = &ed
	}
	return res, nil
}

func (p *recordingProcessor) seenKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

// fakeSink counts forwarded issues and editions.
type fakeSink struct {
	mu       sync.Mutex
	issues   int
	editions int
}

func (s *fakeSink) RecordIssues(_ context.Context, _ int64, issues []domain.IssueRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues += len(issues)
	return nil
}

func (s *fakeSink) RecordEdition(context.Context, int64, domain.ItemRef, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editions++
	return nil
}

// checkpointRecorder wraps the in-memory store and records every checkpoint
// position handed to SaveCheckpoint.
type checkpointRecorder struct {
	*storagemem.JobStore
	mu        sync.Mutex
	positions []int
}

func newCheckpointRecorder() *checkpointRecorder {
	return &checkpointRecorder{JobStore: storagemem.NewJobStore()}
}

func (r *checkpointRecorder) SaveCheckpoint(ctx context.Context, jobID int64, cp domain.Checkpoint) error {
	r.mu.Lock()
	r.positions = append(r.positions, cp.Position())
	r.mu.Unlock()
	return r.JobStore.SaveCheckpoint(ctx, jobID, cp)
}

func (r *checkpointRecorder) savedPositions() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.positions...)
}

// slowJobStore wraps the in-memory store and delays every UpdateJob call,
// simulating a slow persistence backend.
type slowJobStore struct {
	*storagemem.JobStore
	delay time.Duration
}

func newSlowJobStore(delay time.Duration) *slowJobStore {
	return &slowJobStore{JobStore: storagemem.NewJobStore(), delay: delay}
}

func (s *slowJobStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.JobStore.UpdateJob(ctx, job)
}

// newControllerWith builds a controller around a custom repository.
func newControllerWith(t *testing.T, repo domain.JobRepository, source *fakeSource, processor *recordingProcessor, bus *captureBus, cfg ExecutorConfig) *JobController {
	t.Helper()
	c := NewJobController(
		repo, source, processor, new(fakeSink), bus,
		cfg, testLogger(), noop.NewTracerProvider().Tracer("test"),
	)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(shutdownCtx)
	})
	return c
}

type controllerFixture struct {
	controller *JobController
	repo       *checkpointRecorder
	source     *fakeSource
	processor  *recordingProcessor
	sink       *fakeSink
	bus        *captureBus
}

func newFixture(t *testing.T, itemCount int, cfg ExecutorConfig, processor *recordingProcessor) *controllerFixture {
	t.Helper()

	f := &controllerFixture{
		repo:      newCheckpointRecorder(),
		source:    sourceOf(itemCount),
		processor: processor,
		sink:      new(fakeSink),
		bus:       new(captureBus),
	}
	f.controller = NewJobController(
		f.repo, f.source, f.processor, f.sink, f.bus,
		cfg, testLogger(), noop.NewTracerProvider().Tracer("test"),
	)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.controller.Shutdown(shutdownCtx)
	})
	return f
}

// jobStatus reads the persisted status for assertions.
func (f *controllerFixture) jobStatus(t *testing.T, jobID int64) domain.JobStatus {
	t.Helper()
	job, err := f.repo.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("loading job %d: %v", jobID, err)
	}
	return job.Status()
}
