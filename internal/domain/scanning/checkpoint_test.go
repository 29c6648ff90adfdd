package scanning

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_JSONRoundTrip(t *testing.T) {
	ts := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	cp := ReconstructCheckpoint(150, 7, 3, 2, "Movies", ts)

	data, err := json.Marshal(cp)
	require.NoError(t, err)

	var got Checkpoint
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, 150, got.Position())
	assert.Equal(t, int64(7), got.IssuesFound())
	assert.Equal(t, int64(3), got.EditionsApplied())
	assert.Equal(t, int64(2), got.ItemErrors())
	assert.Equal(t, "Movies", got.CurrentLibrary())
	assert.True(t, ts.Equal(got.Timestamp()))
}

func TestCheckpoint_WireKeys(t *testing.T) {
	cp := ReconstructCheckpoint(5, 1, 0, 0, "", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC))

	data, err := json.Marshal(cp)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Contains(t, raw, "position")
	assert.Contains(t, raw, "issues_found")
	assert.Contains(t, raw, "editions_applied")
	assert.Contains(t, raw, "item_errors")
	assert.Contains(t, raw, "timestamp")
	assert.NotContains(t, raw, "current_library", "empty library label is omitted")
}

func TestParseJobKind(t *testing.T) {
	tests := []struct {
		input   string
		want    JobKind
		wantErr bool
	}{
		{"artwork", JobKindArtwork, false},
		{"edition", JobKindEdition, false},
		{"combined", JobKindCombined, false},
		{"both", JobKindCombined, false},
		{"", "", true},
		{"full", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseJobKind(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
