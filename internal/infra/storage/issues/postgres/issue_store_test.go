package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metafix/metafix/internal/domain/scanning"
	"github.com/metafix/metafix/internal/infra/storage"
	jobpostgres "github.com/metafix/metafix/internal/infra/storage/scanning/postgres"
)

func setupIssueTest(t *testing.T) (context.Context, *issueStore, int64, func()) {
	t.Helper()

	db, cleanup := storage.SetupTestContainer(t)
	store := NewIssueStore(db, storage.NoOpTracer())

	// Issues reference their job row.
	jobs := jobpostgres.NewJobStore(db, storage.NoOpTracer())
	job := scanning.NewJob(scanning.JobKindArtwork, scanning.TriggerSourceManual)
	require.NoError(t, jobs.CreateJob(context.Background(), job))

	return context.Background(), store, job.ID(), cleanup
}

func TestIssueStore_RecordAndListIssues(t *testing.T) {
	t.Parallel()
	ctx, store, jobID, cleanup := setupIssueTest(t)
	defer cleanup()

	issues := []scanning.IssueRecord{
		{
			RatingKey:   "1001",
			GUID:        "plex://movie/abc",
			Title:       "Blade Runner",
			Year:        1982,
			MediaType:   "movie",
			IssueType:   "missing_poster",
			LibraryName: "Movies",
			ExternalIDs: map[string]string{"imdb": "tt0083658"},
			Details:     json.RawMessage(`{"width":320}`),
		},
		{
			RatingKey: "1002",
			Title:     "Stalker",
			Year:      1979,
			MediaType: "movie",
			IssueType: "low_res_art",
		},
	}

	require.NoError(t, store.RecordIssues(ctx, jobID, issues))

	loaded, err := store.ListIssues(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, "1001", loaded[0].RatingKey)
	assert.Equal(t, "missing_poster", loaded[0].IssueType)
	assert.Equal(t, map[string]string{"imdb": "tt0083658"}, loaded[0].ExternalIDs)
	assert.JSONEq(t, `{"width":320}`, string(loaded[0].Details))
	assert.Equal(t, "Stalker", loaded[1].Title)
}

func TestIssueStore_RecordIssues_EmptyBatch(t *testing.T) {
	t.Parallel()
	ctx, store, jobID, cleanup := setupIssueTest(t)
	defer cleanup()

	require.NoError(t, store.RecordIssues(ctx, jobID, nil))

	loaded, err := store.ListIssues(ctx, jobID)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestIssueStore_RecordEdition(t *testing.T) {
	t.Parallel()
	ctx, store, jobID, cleanup := setupIssueTest(t)
	defer cleanup()

	item := scanning.ItemRef{RatingKey: "2001", Title: "Dune", MediaType: "movie"}
	require.NoError(t, store.RecordEdition(ctx, jobID, item, "Director's Cut"))

	var edition string
	err := store.db.QueryRow(ctx,
		`SELECT edition FROM editions WHERE job_id = $1 AND rating_key = $2`, jobID, "2001",
	).Scan(&edition)
	require.NoError(t, err)
	assert.Equal(t, "Director's Cut", edition)
}
