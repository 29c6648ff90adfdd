package scanning

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/metafix/metafix/internal/domain/events"
)

// Event types relevant to scan jobs. These values are wire-stable; the
// streaming API emits them verbatim as the event name.
const (
	EventTypeConnected events.EventType = "connected"
	EventTypeProgress  events.EventType = "progress"
	EventTypePaused    events.EventType = "paused"
	EventTypeResumed   events.EventType = "resumed"
	EventTypeCompleted events.EventType = "completed"
	EventTypeCancelled events.EventType = "cancelled"
	EventTypeFailed    events.EventType = "failed"
	EventTypeIssue     events.EventType = "issue"
)

// JobProgressPayload is the wire shape shared by connected, progress, and
// terminal job events. A nil Job in a connected event means no scan is active.
type JobProgressPayload struct {
	JobID           int64   `json:"job_id"`
	Kind            string  `json:"kind"`
	Status          string  `json:"status"`
	Current         int     `json:"current"`
	Total           int     `json:"total"`
	Percent         float64 `json:"percent"`
	CurrentItem     string  `json:"current_item,omitempty"`
	CurrentLibrary  string  `json:"current_library,omitempty"`
	IssuesFound     int64   `json:"issues_found"`
	EditionsApplied int64   `json:"editions_applied"`
	ItemErrors      int64   `json:"item_errors"`
	FailureReason   string  `json:"failure_reason,omitempty"`
}

// NewJobProgressPayload builds the wire payload from a job snapshot.
func NewJobProgressPayload(s JobSnapshot) JobProgressPayload {
	return JobProgressPayload{
		JobID:           s.ID,
		Kind:            string(s.Kind),
		Status:          string(s.Status),
		Current:         s.Processed,
		Total:           s.Total,
		Percent:         s.ProgressPercent(),
		CurrentItem:     s.CurrentItem,
		CurrentLibrary:  s.CurrentLibrary,
		IssuesFound:     s.IssuesFound,
		EditionsApplied: s.EditionsApplied,
		ItemErrors:      s.ItemErrors,
		FailureReason:   s.FailureReason,
	}
}

// ConnectedPayload greets a newly attached subscriber with the active job's
// state, or a nil Job when the system is idle.
type ConnectedPayload struct {
	Job *JobProgressPayload `json:"job"`
}

// IssuePayload carries a single discovered metadata issue.
type IssuePayload struct {
	JobID       int64  `json:"job_id"`
	RatingKey   string `json:"rating_key"`
	Title       string `json:"title"`
	Year        int    `json:"year,omitempty"`
	MediaType   string `json:"media_type"`
	IssueType   string `json:"issue_type"`
	LibraryName string `json:"library_name,omitempty"`
}

// NewIssuePayload builds the wire payload for a discovered issue.
func NewIssuePayload(jobID int64, rec IssueRecord) IssuePayload {
	return IssuePayload{
		JobID:       jobID,
		RatingKey:   rec.RatingKey,
		Title:       rec.Title,
		Year:        rec.Year,
		MediaType:   rec.MediaType,
		IssueType:   rec.IssueType,
		LibraryName: rec.LibraryName,
	}
}

// NewJobEvent wraps a job payload into the envelope published on the bus.
func NewJobEvent(eventType events.EventType, jobID int64, payload any) events.DomainEvent {
	return events.DomainEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Key:       jobKey(jobID),
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

func jobKey(jobID int64) string {
	if jobID == 0 {
		return ""
	}
	return "job-" + strconv.FormatInt(jobID, 10)
}
