package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	appscanning "github.com/metafix/metafix/internal/app/scanning"
	domain "github.com/metafix/metafix/internal/domain/scanning"
	membus "github.com/metafix/metafix/internal/infra/eventbus/memory"
	storagemem "github.com/metafix/metafix/internal/infra/storage/scanning/memory"
	"github.com/metafix/metafix/pkg/common/logger"
)

const (
	waitTimeout  = 5 * time.Second
	pollInterval = 5 * time.Millisecond
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

type staticSource struct{ items []domain.ItemRef }

func sourceOf(n int) staticSource {
	items := make([]domain.ItemRef, n)
	for i := range items {
		items[i] = domain.ItemRef{
			RatingKey:   strconv.Itoa(i),
			Title:       "item-" + strconv.Itoa(i),
			MediaType:   "movie",
			LibraryName: "Movies",
		}
	}
	return staticSource{items: items}
}

func (s staticSource) Enumerate(context.Context, domain.JobKind) ([]domain.ItemRef, error) {
	return s.items, nil
}

// gatedProcessor blocks every item until released, pinning jobs in RUNNING
// for as long as a test needs them there.
type gatedProcessor struct {
	release chan struct{}
	once    sync.Once
}

func newGatedProcessor() *gatedProcessor {
	return &gatedProcessor{release: make(chan struct{})}
}

func (p *gatedProcessor) releaseAll() { p.once.Do(func() { close(p.release) }) }

func (p *gatedProcessor) Process(ctx context.Context, _ domain.JobKind, _ domain.ItemRef) (domain.StepResult, error) {
	select {
	case <-p.release:
		return domain.StepResult{}, nil
	case <-ctx.Done():
		return domain.StepResult{}, ctx.Err()
	}
}

type instantProcessor struct{}

func (instantProcessor) Process(context.Context, domain.JobKind, domain.ItemRef) (domain.StepResult, error) {
	return domain.StepResult{}, nil
}

// memIssueStore implements both the executor's sink and the API's reader.
type memIssueStore struct {
	mu    sync.Mutex
	byJob map[int64][]domain.IssueRecord
}

func newMemIssueStore() *memIssueStore {
	return &memIssueStore{byJob: make(map[int64][]domain.IssueRecord)}
}

func (s *memIssueStore) RecordIssues(_ context.Context, jobID int64, issues []domain.IssueRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byJob[jobID] = append(s.byJob[jobID], issues...)
	return nil
}

func (s *memIssueStore) RecordEdition(context.Context, int64, domain.ItemRef, string) error {
	return nil
}

func (s *memIssueStore) ListIssues(_ context.Context, jobID int64) ([]domain.IssueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.IssueRecord(nil), s.byJob[jobID]...), nil
}

type apiFixture struct {
	engine     *gin.Engine
	controller *appscanning.JobController
	store      *storagemem.JobStore
	issues     *memIssueStore
	broker     *membus.Broker
}

func newAPIFixture(t *testing.T, itemCount int, processor domain.ItemProcessor) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := testLogger()
	tracer := noop.NewTracerProvider().Tracer("test")
	store := storagemem.NewJobStore()
	issues := newMemIssueStore()
	broker := membus.NewBroker(log)

	controller := appscanning.NewJobController(
		store, sourceOf(itemCount), processor, issues, broker,
		appscanning.ExecutorConfig{}, log, tracer,
	)
	engine := gin.New()
	Routes(engine, Config{
		Log:        log,
		Controller: controller,
		Repo:       store,
		Issues:     issues,
		Bus:        broker,
	})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = controller.Shutdown(ctx)
		_ = broker.Close()
	})

	return &apiFixture{engine: engine, controller: controller, store: store, issues: issues, broker: broker}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decodeJob(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func waitForStatus(t *testing.T, f *apiFixture, jobID int64, want domain.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		job, err := f.store.GetJob(context.Background(), jobID)
		if err == nil && job.Status() == want {
			return
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("job %d never reached %s", jobID, want)
}

func TestStartScan_Accepted(t *testing.T) {
	proc := newGatedProcessor()
	f := newAPIFixture(t, 3, proc)
	defer proc.releaseAll()

	w := f.do(t, http.MethodPost, "/v1/scans", map[string]string{"kind": "artwork"})
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decodeJob(t, w)
	assert.Equal(t, "artwork", body["kind"])
	assert.Equal(t, "RUNNING", body["status"])
	assert.Equal(t, float64(3), body["total"])
}

func TestStartScan_DefaultsToCombined(t *testing.T) {
	proc := newGatedProcessor()
	f := newAPIFixture(t, 1, proc)
	defer proc.releaseAll()

	w := f.do(t, http.MethodPost, "/v1/scans", map[string]string{})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "combined", decodeJob(t, w)["kind"])
}

func TestStartScan_InvalidKind(t *testing.T) {
	f := newAPIFixture(t, 1, instantProcessor{})

	w := f.do(t, http.MethodPost, "/v1/scans", map[string]string{"kind": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartScan_ConflictWhileActive(t *testing.T) {
	proc := newGatedProcessor()
	f := newAPIFixture(t, 3, proc)
	defer proc.releaseAll()

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/scans", map[string]string{"kind": "combined"}).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/scans", map[string]string{"kind": "combined"}).Code)
}

func TestPauseResumeCancelFlow(t *testing.T) {
	proc := newGatedProcessor()
	f := newAPIFixture(t, 100, proc)
	defer proc.releaseAll()

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/scans", map[string]string{"kind": "combined"}).Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/scans/pause", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/scans/pause", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/scans/resume", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/scans/cancel", nil).Code)
}

func TestSignalsWithoutActiveJob(t *testing.T) {
	f := newAPIFixture(t, 1, instantProcessor{})

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/scans/pause", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/scans/resume", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/scans/cancel", nil).Code)
}

func TestCurrentScan(t *testing.T) {
	proc := newGatedProcessor()
	f := newAPIFixture(t, 3, proc)
	defer proc.releaseAll()

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/scans/current", nil).Code)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/scans", map[string]string{"kind": "combined"}).Code)

	w := f.do(t, http.MethodGet, "/v1/scans/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RUNNING", decodeJob(t, w)["status"])
}

func TestGetScan(t *testing.T) {
	f := newAPIFixture(t, 2, instantProcessor{})

	w := f.do(t, http.MethodPost, "/v1/scans", map[string]string{"kind": "combined"})
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := int64(decodeJob(t, w)["id"].(float64))
	waitForStatus(t, f, jobID, domain.JobStatusCompleted)

	got := f.do(t, http.MethodGet, "/v1/scans/"+strconv.FormatInt(jobID, 10), nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "COMPLETED", decodeJob(t, got)["status"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/scans/999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/scans/abc", nil).Code)
}

func TestListScans(t *testing.T) {
	f := newAPIFixture(t, 1, instantProcessor{})

	w := f.do(t, http.MethodPost, "/v1/scans", map[string]string{"kind": "combined"})
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := int64(decodeJob(t, w)["id"].(float64))
	waitForStatus(t, f, jobID, domain.JobStatusCompleted)

	list := f.do(t, http.MethodGet, "/v1/scans", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var out struct {
		Jobs []jobResponse `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &out))
	require.Len(t, out.Jobs, 1)
	assert.Equal(t, jobID, out.Jobs[0].ID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/scans?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/scans?offset=-1", nil).Code)
}

func TestListScanEvents(t *testing.T) {
	f := newAPIFixture(t, 1, instantProcessor{})

	w := f.do(t, http.MethodPost, "/v1/scans", map[string]string{"kind": "combined"})
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := int64(decodeJob(t, w)["id"].(float64))
	waitForStatus(t, f, jobID, domain.JobStatusCompleted)

	got := f.do(t, http.MethodGet, "/v1/scans/"+strconv.FormatInt(jobID, 10)+"/events", nil)
	require.Equal(t, http.StatusOK, got.Code)
	var out struct {
		Events []transitionResponse `json:"events"`
	}
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &out))
	require.NotEmpty(t, out.Events)
	assert.Equal(t, "PENDING", out.Events[0].From)
	assert.Equal(t, "RUNNING", out.Events[0].To)
	assert.Equal(t, "COMPLETED", out.Events[len(out.Events)-1].To)
}

func TestListScanIssues(t *testing.T) {
	f := newAPIFixture(t, 1, instantProcessor{})
	require.NoError(t, f.issues.RecordIssues(context.Background(), 7, []domain.IssueRecord{{
		RatingKey: "42",
		Title:     "Blade Runner",
		MediaType: "movie",
		IssueType: "missing_poster",
	}}))

	got := f.do(t, http.MethodGet, "/v1/scans/7/issues", nil)
	require.Equal(t, http.StatusOK, got.Code)
	var out struct {
		Issues []issueResponse `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &out))
	require.Len(t, out.Issues, 1)
	assert.Equal(t, "Blade Runner", out.Issues[0].Title)
	assert.Equal(t, "missing_poster", out.Issues[0].IssueType)
}

func seedInterrupted(t *testing.T, f *apiFixture) int64 {
	t.Helper()
	job := domain.NewJob(domain.JobKindCombined, domain.TriggerSourceManual)
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	require.NoError(t, job.SetTotal(10))
	require.NoError(t, job.UpdateStatus(domain.JobStatusRunning))
	require.NoError(t, f.store.UpdateJob(context.Background(), job))
	require.NoError(t, f.controller.RecoverOnStartup(context.Background()))
	return job.ID()
}

func TestInterruptedLifecycle(t *testing.T) {
	f := newAPIFixture(t, 10, instantProcessor{})

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/scans/interrupted", nil).Code)

	jobID := seedInterrupted(t, f)

	w := f.do(t, http.MethodGet, "/v1/scans/interrupted", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(jobID), decodeJob(t, w)["id"])

	// Interrupted job holds the single-flight slot.
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/scans", map[string]string{"kind": "combined"}).Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/scans/interrupted/discard", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/scans/interrupted", nil).Code)
	waitForStatus(t, f, jobID, domain.JobStatusCancelled)
}

func TestResumeInterrupted(t *testing.T) {
	f := newAPIFixture(t, 10, instantProcessor{})

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/v1/scans/interrupted/resume", nil).Code)

	jobID := seedInterrupted(t, f)

	w := f.do(t, http.MethodPost, "/v1/scans/interrupted/resume", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	waitForStatus(t, f, jobID, domain.JobStatusCompleted)
}

func TestStreamDeliversEventsUntilTerminal(t *testing.T) {
	f := newAPIFixture(t, 2, instantProcessor{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(50 * time.Millisecond)
		f.do(t, http.MethodPost, "/v1/scans", map[string]string{"kind": "combined"})
	}()

	w := f.do(t, http.MethodGet, "/v1/scans/stream", nil)
	<-done

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	require.Contains(t, body, "event:progress")
	require.Contains(t, body, "event:completed")
	assert.False(t, strings.Contains(body[strings.Index(body, "event:completed"):], "event:progress"))
}
