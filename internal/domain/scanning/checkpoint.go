package scanning

import (
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint contains the state needed to resume a scan after interruption.
// Position is the count of fully completed items in the frozen enumeration
// order, so a resumed run always starts at the first not-yet-completed index
// and never double-counts a finished item.
type Checkpoint struct {
	position        int
	issuesFound     int64
	editionsApplied int64
	itemErrors      int64
	currentLibrary  string
	timestamp       time.Time
}

// NewCheckpoint creates a new Checkpoint capturing the current loop position
// and counter values.
func NewCheckpoint(position int, issuesFound, editionsApplied, itemErrors int64, currentLibrary string) Checkpoint {
	return Checkpoint{
		position:        position,
		issuesFound:     issuesFound,
		editionsApplied: editionsApplied,
		itemErrors:      itemErrors,
		currentLibrary:  currentLibrary,
		timestamp:       time.Now(),
	}
}

// ReconstructCheckpoint creates a Checkpoint from persisted data. This should
// only be used by repositories when reconstructing from storage.
func ReconstructCheckpoint(position int, issuesFound, editionsApplied, itemErrors int64, currentLibrary string, timestamp time.Time) Checkpoint {
	return Checkpoint{
		position:        position,
		issuesFound:     issuesFound,
		editionsApplied: editionsApplied,
		itemErrors:      itemErrors,
		currentLibrary:  currentLibrary,
		timestamp:       timestamp,
	}
}

// Position returns the count of fully completed items at checkpoint time.
func (c Checkpoint) Position() int { return c.position }

// IssuesFound returns the issue counter at checkpoint time.
func (c Checkpoint) IssuesFound() int64 { return c.issuesFound }

// EditionsApplied returns the edition counter at checkpoint time.
func (c Checkpoint) EditionsApplied() int64 { return c.editionsApplied }

// ItemErrors returns the per-item failure counter at checkpoint time.
func (c Checkpoint) ItemErrors() int64 { return c.itemErrors }

// CurrentLibrary returns the library label recorded at checkpoint time.
func (c Checkpoint) CurrentLibrary() string { return c.currentLibrary }

// Timestamp returns the time the checkpoint was created.
func (c Checkpoint) Timestamp() time.Time { return c.timestamp }

// checkpointDTO mirrors Checkpoint for JSON storage.
type checkpointDTO struct {
	Position        int       `json:"position"`
	IssuesFound     int64     `json:"issues_found"`
	EditionsApplied int64     `json:"editions_applied"`
	ItemErrors      int64     `json:"item_errors"`
	CurrentLibrary  string    `json:"current_library,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// MarshalJSON serializes the Checkpoint into a JSON byte array.
func (c Checkpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(checkpointDTO{
		Position:        c.position,
		IssuesFound:     c.issuesFound,
		EditionsApplied: c.editionsApplied,
		ItemErrors:      c.itemErrors,
		CurrentLibrary:  c.currentLibrary,
		Timestamp:       c.timestamp,
	})
}

// UnmarshalJSON deserializes JSON data into a Checkpoint.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	if c == nil {
		return fmt.Errorf("cannot unmarshal JSON into nil Checkpoint")
	}

	var aux checkpointDTO
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.position = aux.Position
	c.issuesFound = aux.IssuesFound
	c.editionsApplied = aux.EditionsApplied
	c.itemErrors = aux.ItemErrors
	c.currentLibrary = aux.CurrentLibrary
	c.timestamp = aux.Timestamp

	return nil
}
