package scanning

import (
	"encoding/json"
	"time"

	domain "github.com/metafix/metafix/internal/domain/scanning"
)

// jobResponse is the wire shape of a scan job on the control surface.
type jobResponse struct {
	ID              int64      `json:"id"`
	Kind            string     `json:"kind"`
	Status          string     `json:"status"`
	TriggeredBy     string     `json:"triggered_by"`
	Total           int        `json:"total"`
	Processed       int        `json:"processed"`
	Percent         float64    `json:"percent"`
	IssuesFound     int64      `json:"issues_found"`
	EditionsApplied int64      `json:"editions_applied"`
	ItemErrors      int64      `json:"item_errors"`
	CurrentItem     string     `json:"current_item,omitempty"`
	CurrentLibrary  string     `json:"current_library,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	PausedAt        *time.Time `json:"paused_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func toJobResponse(s domain.JobSnapshot) jobResponse {
	return jobResponse{
		ID:              s.ID,
		Kind:            s.Kind.String(),
		Status:          s.Status.String(),
		TriggeredBy:     s.TriggeredBy.String(),
		Total:           s.Total,
		Processed:       s.Processed,
		Percent:         s.ProgressPercent(),
		IssuesFound:     s.IssuesFound,
		EditionsApplied: s.EditionsApplied,
		ItemErrors:      s.ItemErrors,
		CurrentItem:     s.CurrentItem,
		CurrentLibrary:  s.CurrentLibrary,
		FailureReason:   s.FailureReason,
		StartedAt:       s.StartedAt,
		PausedAt:        optionalTime(s.PausedAt),
		CompletedAt:     optionalTime(s.CompletedAt),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// transitionResponse is one audit trail entry on the wire.
type transitionResponse struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// issueResponse is one recorded issue on the wire.
type issueResponse struct {
	RatingKey   string            `json:"rating_key"`
	GUID        string            `json:"guid,omitempty"`
	Title       string            `json:"title"`
	Year        int               `json:"year,omitempty"`
	MediaType   string            `json:"media_type"`
	IssueType   string            `json:"issue_type"`
	LibraryName string            `json:"library_name,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	Details     json.RawMessage   `json:"details,omitempty"`
}

func toIssueResponse(rec domain.IssueRecord) issueResponse {
	return issueResponse{
		RatingKey:   rec.RatingKey,
		GUID:        rec.GUID,
		Title:       rec.Title,
		Year:        rec.Year,
		MediaType:   rec.MediaType,
		IssueType:   rec.IssueType,
		LibraryName: rec.LibraryName,
		ExternalIDs: rec.ExternalIDs,
		Details:     rec.Details,
	}
}
