// Package postgres persists the issues and editions that step functions
// report during a scan. The executor forwards outputs here without inspecting
// them; this store is the system of record the UI reads findings from.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/metafix/metafix/internal/domain/scanning"
	"github.com/metafix/metafix/internal/infra/storage"
)

var _ scanning.IssueSink = (*issueStore)(nil)

// issueStore implements scanning.IssueSink using PostgreSQL.
type issueStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewIssueStore creates a new PostgreSQL-backed issue sink.
func NewIssueStore(pool *pgxpool.Pool, tracer trace.Tracer) *issueStore {
	return &issueStore{db: pool, tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const insertIssueQuery = `
INSERT INTO issues (
	job_id, rating_key, guid, title, year, media_type,
	issue_type, library_name, external_ids, details
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// RecordIssues persists a batch of issues found on one item. The batch goes
// through pgx's pipeline so one item's findings land together.
func (r *issueStore) RecordIssues(ctx context.Context, jobID int64, issues []scanning.IssueRecord) error {
	if len(issues) == 0 {
		return nil
	}

	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int64("job_id", jobID),
		attribute.Int("issue_count", len(issues)),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.record_issues", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		batch := new(pgx.Batch)
		for _, issue := range issues {
			externalIDs, err := json.Marshal(issue.ExternalIDs)
			if err != nil {
				return fmt.Errorf("RecordIssues marshal external ids error: %w", err)
			}
			batch.Queue(insertIssueQuery,
				jobID,
				issue.RatingKey,
				issue.GUID,
				issue.Title,
				issue.Year,
				issue.MediaType,
				issue.IssueType,
				issue.LibraryName,
				externalIDs,
				[]byte(issue.Details),
			)
		}

		results := r.db.SendBatch(ctx, batch)
		defer results.Close()

		for range issues {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("RecordIssues insert error: %w", err)
			}
		}
		return nil
	})
}

const insertEditionQuery = `
INSERT INTO editions (job_id, rating_key, title, edition)
VALUES ($1, $2, $3, $4)`

// RecordEdition persists an edition change applied to one item.
func (r *issueStore) RecordEdition(ctx context.Context, jobID int64, item scanning.ItemRef, edition string) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int64("job_id", jobID),
		attribute.String("rating_key", item.RatingKey),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.record_edition", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		if _, err := r.db.Exec(ctx, insertEditionQuery, jobID, item.RatingKey, item.Title, edition); err != nil {
			return fmt.Errorf("RecordEdition insert error: %w", err)
		}
		return nil
	})
}

const listIssuesQuery = `
SELECT rating_key, guid, title, year, media_type, issue_type, library_name, external_ids, details
FROM issues WHERE job_id = $1 ORDER BY id`

// ListIssues returns the issues recorded for a job in detection order.
func (r *issueStore) ListIssues(ctx context.Context, jobID int64) ([]scanning.IssueRecord, error) {
	dbAttrs := append(defaultDBAttributes, attribute.Int64("job_id", jobID))

	var issues []scanning.IssueRecord
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_issues", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, listIssuesQuery, jobID)
		if err != nil {
			return fmt.Errorf("ListIssues query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var issue scanning.IssueRecord
			var externalIDs, details []byte
			if err := rows.Scan(
				&issue.RatingKey, &issue.GUID, &issue.Title, &issue.Year,
				&issue.MediaType, &issue.IssueType, &issue.LibraryName,
				&externalIDs, &details,
			); err != nil {
				return fmt.Errorf("ListIssues scan error: %w", err)
			}
			if len(externalIDs) > 0 {
				if err := json.Unmarshal(externalIDs, &issue.ExternalIDs); err != nil {
					return fmt.Errorf("ListIssues external ids unmarshal error: %w", err)
				}
			}
			issue.Details = details
			issues = append(issues, issue)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return issues, nil
}
