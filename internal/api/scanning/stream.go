package scanning

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/metafix/metafix/internal/domain/events"
	domain "github.com/metafix/metafix/internal/domain/scanning"
)

// keepaliveInterval bounds how long an SSE connection stays silent. Comment
// frames keep intermediaries from timing out an idle stream.
const keepaliveInterval = 30 * time.Second

// streamEvents serves a Server-Sent Events feed of live job events. The
// subscriber receives a connected greeting first when a job is active, then
// every subsequent bus event until the client disconnects or a terminal job
// event closes the stream.
func (h *handler) streamEvents(c *gin.Context) {
	sub, err := h.bus.Subscribe(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}
	defer sub.Unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.Render(-1, sse.Event{
				Id:    evt.ID,
				Event: string(evt.Type),
				Data:  evt.Payload,
			})
			return !isTerminalEvent(evt.Type)
		case <-keepalive.C:
			// SSE comment frame, ignored by clients.
			_, _ = io.WriteString(w, ": keepalive\n\n")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func isTerminalEvent(t events.EventType) bool {
	switch t {
	case domain.EventTypeCompleted, domain.EventTypeCancelled, domain.EventTypeFailed:
		return true
	}
	return false
}
