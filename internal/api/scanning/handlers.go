// Package scanning exposes the scan job control surface over HTTP: starting,
// pausing, resuming, and cancelling scans, inspecting history and recorded
// issues, and streaming live job events to clients.
package scanning

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appscanning "github.com/metafix/metafix/internal/app/scanning"
	"github.com/metafix/metafix/internal/domain/events"
	domain "github.com/metafix/metafix/internal/domain/scanning"
	"github.com/metafix/metafix/pkg/common/logger"
)

// IssueReader provides read access to issues recorded by completed or
// in-progress scan jobs.
type IssueReader interface {
	ListIssues(ctx context.Context, jobID int64) ([]domain.IssueRecord, error)
}

type handler struct {
	controller *appscanning.JobController
	repo       domain.JobRepository
	issues     IssueReader
	bus        events.EventBus
	logger     *logger.Logger
}

// startRequest is the body of POST /v1/scans.
type startRequest struct {
	Kind string `json:"kind"`
}

func (h *handler) startScan(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Kind == "" {
		req.Kind = domain.JobKindCombined.String()
	}

	kind, err := domain.ParseJobKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.controller.Start(c.Request.Context(), kind, domain.TriggerSourceManual)
	if err != nil {
		if errors.Is(err, appscanning.ErrJobAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "a scan job is already active"})
			return
		}
		h.logger.Error(c.Request.Context(), "failed to start scan job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start scan job"})
		return
	}

	c.JSON(http.StatusAccepted, toJobResponse(snap))
}

func (h *handler) pauseScan(c *gin.Context)  { h.signal(c, "pause", h.controller.Pause) }
func (h *handler) resumeScan(c *gin.Context) { h.signal(c, "resume", h.controller.Resume) }
func (h *handler) cancelScan(c *gin.Context) { h.signal(c, "cancel", h.controller.Cancel) }

// signal applies a cooperative control request. A false result means the
// request lost to an earlier signal or no job was in a state to accept it;
// that maps to 409 so clients can distinguish it from success.
func (h *handler) signal(c *gin.Context, name string, fn func(context.Context) (bool, error)) {
	accepted, err := fn(c.Request.Context())
	if err != nil {
		h.logger.Error(c.Request.Context(), "scan control request failed", "action", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "control request failed"})
		return
	}
	if !accepted {
		c.JSON(http.StatusConflict, gin.H{"error": "no active job accepts " + name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

func (h *handler) currentScan(c *gin.Context) {
	snap := h.controller.CurrentSnapshot(c.Request.Context())
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active scan job"})
		return
	}
	c.JSON(http.StatusOK, toJobResponse(*snap))
}

func (h *handler) listScans(c *gin.Context) {
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)
	if limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	if offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must not be negative"})
		return
	}

	snaps, err := h.controller.History(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error(c.Request.Context(), "failed to list scan jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list scan jobs"})
		return
	}

	out := make([]jobResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, toJobResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (h *handler) getScan(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}

	job, err := h.repo.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scan job not found"})
			return
		}
		h.logger.Error(c.Request.Context(), "failed to load scan job", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scan job"})
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job.Snapshot()))
}

func (h *handler) listScanEvents(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}

	records, err := h.repo.ListTransitions(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error(c.Request.Context(), "failed to list job transitions", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list job transitions"})
		return
	}

	out := make([]transitionResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, transitionResponse{
			From:       rec.From.String(),
			To:         rec.To.String(),
			Reason:     rec.Reason,
			OccurredAt: rec.OccurredAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (h *handler) listScanIssues(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}

	records, err := h.issues.ListIssues(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error(c.Request.Context(), "failed to list issues", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list issues"})
		return
	}

	out := make([]issueResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toIssueResponse(rec))
	}
	c.JSON(http.StatusOK, gin.H{"issues": out})
}

func (h *handler) getInterrupted(c *gin.Context) {
	snap, err := h.controller.GetInterruptedJob(c.Request.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNoInterruptedJob) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no interrupted scan job"})
			return
		}
		h.logger.Error(c.Request.Context(), "failed to load interrupted job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load interrupted job"})
		return
	}
	c.JSON(http.StatusOK, toJobResponse(snap))
}

func (h *handler) resumeInterrupted(c *gin.Context) {
	snap, err := h.controller.ResumeInterrupted(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoInterruptedJob):
			c.JSON(http.StatusNotFound, gin.H{"error": "no interrupted scan job"})
		case errors.Is(err, appscanning.ErrJobAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": "a scan job is already active"})
		default:
			h.logger.Error(c.Request.Context(), "failed to resume interrupted job", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resume interrupted job"})
		}
		return
	}
	c.JSON(http.StatusAccepted, toJobResponse(snap))
}

func (h *handler) discardInterrupted(c *gin.Context) {
	snap, err := h.controller.DiscardInterrupted(c.Request.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNoInterruptedJob) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no interrupted scan job"})
			return
		}
		h.logger.Error(c.Request.Context(), "failed to discard interrupted job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to discard interrupted job"})
		return
	}
	c.JSON(http.StatusOK, toJobResponse(snap))
}

func pathJobID(c *gin.Context) (int64, bool) {
	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || jobID < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return 0, false
	}
	return jobID, true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
