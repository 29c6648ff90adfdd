package scanning

import "encoding/json"

// ItemRef identifies a single library item within the enumeration snapshot
// taken at job start. The snapshot order is fixed for the duration of the job;
// checkpoint positions index into it.
type ItemRef struct {
	// RatingKey is the media server's stable identifier for the item.
	RatingKey string

	// GUID is the media server's global identifier, when known.
	GUID string

	Title     string
	Year      int
	MediaType string

	LibraryID   string
	LibraryName string

	// EditionTitle is the item's current edition string, when present.
	EditionTitle string
}

// IssueRecord describes a single problem a step function detected on an item.
// The core forwards issue records to the persistence collaborator and counts
// them; it never interprets their contents.
type IssueRecord struct {
	RatingKey   string
	GUID        string
	Title       string
	Year        int
	MediaType   string
	IssueType   string
	LibraryName string
	ExternalIDs map[string]string
	Details     json.RawMessage
}

// StepResult carries the outputs of one step-function invocation for one item.
type StepResult struct {
	// Issues holds zero or more issue records detected on the item.
	Issues []IssueRecord

	// AppliedEdition is the edition string that was applied to the item,
	// nil when the step made no edition change.
	AppliedEdition *string
}
