package scanning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current JobStatus
		target  JobStatus
	}{
		{
			name:    "Pending to Running is valid",
			current: JobStatusPending,
			target:  JobStatusRunning,
		},
		{
			name:    "Running to Paused is valid",
			current: JobStatusRunning,
			target:  JobStatusPaused,
		},
		{
			name:    "Running to Completed is valid",
			current: JobStatusRunning,
			target:  JobStatusCompleted,
		},
		{
			name:    "Running to Cancelled is valid",
			current: JobStatusRunning,
			target:  JobStatusCancelled,
		},
		{
			name:    "Running to Failed is valid",
			current: JobStatusRunning,
			target:  JobStatusFailed,
		},
		{
			name:    "Paused to Running is valid",
			current: JobStatusPaused,
			target:  JobStatusRunning,
		},
		{
			name:    "Paused to Cancelled is valid",
			current: JobStatusPaused,
			target:  JobStatusCancelled,
		},
		{
			name:    "Paused to Failed is valid",
			current: JobStatusPaused,
			target:  JobStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.current.validateTransition(tt.target)
			assert.NoError(t, err, "expected valid transition from %s to %s", tt.current, tt.target)
		})
	}
}

func TestValidateTransition_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current JobStatus
		target  JobStatus
	}{
		{
			name:    "Pending to Paused is invalid",
			current: JobStatusPending,
			target:  JobStatusPaused,
		},
		{
			name:    "Pending to Completed is invalid",
			current: JobStatusPending,
			target:  JobStatusCompleted,
		},
		{
			name:    "Pending to Pending is invalid",
			current: JobStatusPending,
			target:  JobStatusPending,
		},
		{
			name:    "Running to Running is invalid",
			current: JobStatusRunning,
			target:  JobStatusRunning,
		},
		{
			name:    "Running to Pending is invalid",
			current: JobStatusRunning,
			target:  JobStatusPending,
		},
		{
			name:    "Paused to Paused is invalid",
			current: JobStatusPaused,
			target:  JobStatusPaused,
		},
		{
			name:    "Paused to Completed is invalid",
			current: JobStatusPaused,
			target:  JobStatusCompleted,
		},
		{
			name:    "Completed to any state is invalid",
			current: JobStatusCompleted,
			target:  JobStatusRunning,
		},
		{
			name:    "Cancelled to any state is invalid",
			current: JobStatusCancelled,
			target:  JobStatusRunning,
		},
		{
			name:    "Failed to any state is invalid",
			current: JobStatusFailed,
			target:  JobStatusRunning,
		},
		{
			name:    "Empty status to a valid target is invalid",
			current: "",
			target:  JobStatusRunning,
		},
		{
			name:    "Valid status to empty status is invalid",
			current: JobStatusRunning,
			target:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.current.validateTransition(tt.target)
			assert.Error(t, err, "expected error for invalid transition from %s to %s", tt.current, tt.target)
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobStatusPending, false},
		{JobStatusRunning, false},
		{JobStatusPaused, false},
		{JobStatusCompleted, true},
		{JobStatusCancelled, true},
		{JobStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestJobStatus_IsActive(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobStatusPending, false},
		{JobStatusRunning, true},
		{JobStatusPaused, true},
		{JobStatusCompleted, false},
		{JobStatusCancelled, false},
		{JobStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsActive())
		})
	}
}
