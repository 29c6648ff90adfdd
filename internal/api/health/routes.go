// Package health exposes liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/metafix/metafix/pkg/common/logger"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build string
	Log   *logger.Logger
	DB    Pinger
}

// Routes binds all the health check endpoints.
func Routes(r *gin.Engine, cfg Config) {
	r.GET("/v1/liveness", liveness(cfg))
	r.GET("/v1/readiness", readiness(cfg))
}

func liveness(cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "build": cfg.Build})
	}
}

// readiness pings the database so orchestrators stop routing traffic when
// storage is unreachable.
func readiness(cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.DB.Ping(ctx); err != nil {
				cfg.Log.Error(c.Request.Context(), "readiness check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
