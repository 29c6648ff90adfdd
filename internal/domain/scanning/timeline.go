package scanning

import "time"

// TimeProvider is an interface that provides a Now method to get the current time.
type TimeProvider interface {
	Now() time.Time
}

// Real implementation for production.
type realTimeProvider struct{}

func (r *realTimeProvider) Now() time.Time { return time.Now() }

// Timeline tracks temporal aspects of scan jobs.
type Timeline struct {
	startedAt    time.Time
	pausedAt     time.Time
	completedAt  time.Time
	lastUpdate   time.Time
	timeProvider TimeProvider
}

// NewTimeline creates a new Timeline instance.
func NewTimeline(timeProvider TimeProvider) *Timeline {
	now := timeProvider.Now()
	return &Timeline{
		startedAt:    now,
		lastUpdate:   now,
		timeProvider: timeProvider,
	}
}

// ReconstructTimeline creates a Timeline from persisted timestamps. This
// should only be used by repositories when loading from storage.
func ReconstructTimeline(startedAt, pausedAt, completedAt time.Time) *Timeline {
	return &Timeline{
		startedAt:    startedAt,
		pausedAt:     pausedAt,
		completedAt:  completedAt,
		lastUpdate:   startedAt,
		timeProvider: new(realTimeProvider),
	}
}

// StartedAt returns the time the scan job started.
func (t *Timeline) StartedAt() time.Time { return t.startedAt }

// PausedAt returns the time the scan job was last paused. Zero when the job
// has never been paused or has since resumed.
func (t *Timeline) PausedAt() time.Time { return t.pausedAt }

// CompletedAt returns the time the scan job reached a terminal state.
func (t *Timeline) CompletedAt() time.Time { return t.completedAt }

// LastUpdate returns the time the scan job was last updated.
func (t *Timeline) LastUpdate() time.Time { return t.lastUpdate }

// MarkStarted records the actual execution start time.
func (t *Timeline) MarkStarted() {
	t.startedAt = t.timeProvider.Now()
	t.UpdateLastUpdate()
}

// MarkPaused records the pause time.
func (t *Timeline) MarkPaused() {
	t.pausedAt = t.timeProvider.Now()
	t.UpdateLastUpdate()
}

// ClearPaused resets the pause time after a resume.
func (t *Timeline) ClearPaused() {
	t.pausedAt = time.Time{}
	t.UpdateLastUpdate()
}

// MarkCompleted records completion time.
func (t *Timeline) MarkCompleted() {
	t.completedAt = t.timeProvider.Now()
	t.UpdateLastUpdate()
}

// UpdateLastUpdate updates the last update timestamp.
func (t *Timeline) UpdateLastUpdate() {
	t.lastUpdate = t.timeProvider.Now()
}

// IsCompleted checks if the timeline has been marked as completed.
func (t *Timeline) IsCompleted() bool { return !t.completedAt.IsZero() }
