package scanning

import (
	"github.com/gin-gonic/gin"

	appscanning "github.com/metafix/metafix/internal/app/scanning"
	"github.com/metafix/metafix/internal/domain/events"
	domain "github.com/metafix/metafix/internal/domain/scanning"
	"github.com/metafix/metafix/pkg/common/logger"
)

// Config contains the dependencies the scanning routes need.
type Config struct {
	Log        *logger.Logger
	Controller *appscanning.JobController
	Repo       domain.JobRepository
	Issues     IssueReader
	Bus        events.EventBus
}

// Routes binds the scan job control surface to the router.
func Routes(r *gin.Engine, cfg Config) {
	h := &handler{
		controller: cfg.Controller,
		repo:       cfg.Repo,
		issues:     cfg.Issues,
		bus:        cfg.Bus,
		logger:     cfg.Log.With("component", "scanning_api"),
	}

	v1 := r.Group("/v1")

	v1.POST("/scans", h.startScan)
	v1.POST("/scans/pause", h.pauseScan)
	v1.POST("/scans/resume", h.resumeScan)
	v1.POST("/scans/cancel", h.cancelScan)

	v1.GET("/scans", h.listScans)
	v1.GET("/scans/current", h.currentScan)
	v1.GET("/scans/stream", h.streamEvents)

	v1.GET("/scans/interrupted", h.getInterrupted)
	v1.POST("/scans/interrupted/resume", h.resumeInterrupted)
	v1.POST("/scans/interrupted/discard", h.discardInterrupted)

	v1.GET("/scans/:id", h.getScan)
	v1.GET("/scans/:id/events", h.listScanEvents)
	v1.GET("/scans/:id/issues", h.listScanIssues)
}
