package scanning

import "time"

// JobSnapshot is a point-in-time read model of a Job, detached from the
// aggregate. Every field is a copy; mutating a snapshot never touches the
// job it was taken from.
type JobSnapshot struct {
	ID              int64
	Kind            JobKind
	Status          JobStatus
	TriggeredBy     TriggerSource
	Total           int
	Processed       int
	IssuesFound     int64
	EditionsApplied int64
	ItemErrors      int64
	CurrentItem     string
	CurrentLibrary  string
	FailureReason   string
	StartedAt       time.Time
	PausedAt        time.Time
	CompletedAt     time.Time
}

// ProgressPercent reports completion as a percentage in [0, 100]. A job with
// zero total reports 0 until terminal, then 100.
func (s JobSnapshot) ProgressPercent() float64 {
	if s.Total <= 0 {
		if s.Status.IsTerminal() {
			return 100
		}
		return 0
	}
	return float64(s.Processed) / float64(s.Total) * 100
}
