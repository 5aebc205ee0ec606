package sheets

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/leadgen-pipeline/internal/querygen"
)

const insertQuerySQL = `
INSERT INTO serp_queries (query_text, query_hash, region_code, is_night_window, status, scheduled_for, metadata)
VALUES ($1, $2, $3, TRUE, 'pending', $4, $5::jsonb)
ON CONFLICT (query_hash) DO NOTHING
RETURNING id`

const insertBatchLogSQL = `
INSERT INTO search_batch_logs (
    niche, city, country, batch_tag,
    attempted_queries, inserted_queries, duplicate_queries,
    scheduled_start, scheduled_end, status, error
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// InsertResult summarizes one batch insert.
type InsertResult struct {
	Attempted      int
	Inserted       int
	Duplicates     int
	FirstScheduled *time.Time
	LastScheduled  *time.Time
}

// QueryRepository stores generated queries and batch audit records.
type QueryRepository struct {
	db *sql.DB
}

// NewQueryRepository returns a repository over the given database.
func NewQueryRepository(db *sql.DB) *QueryRepository {
	return &QueryRepository{db: db}
}

// InsertQueries inserts the batch, counting fresh rows against query_hash
// conflicts. Each batch runs in its own transaction.
func (r *QueryRepository) InsertQueries(ctx context.Context, queries []querygen.GeneratedQuery) (InsertResult, error) {
	result := InsertResult{Attempted: len(queries)}
	if len(queries) == 0 {
		return result, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin insert tx: %w", err)
	}

	for _, q := range queries {
		metadata, _ := json.Marshal(q.Metadata)

		var id string
		err := tx.QueryRowContext(ctx, insertQuerySQL,
			q.QueryText, q.QueryHash, q.RegionCode, q.ScheduledFor.UTC(), string(metadata),
		).Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			result.Duplicates++
		case err != nil:
			tx.Rollback()
			return InsertResult{Attempted: len(queries)}, fmt.Errorf("insert query: %w", err)
		default:
			result.Inserted++
			scheduled := q.ScheduledFor
			if result.FirstScheduled == nil || scheduled.Before(*result.FirstScheduled) {
				result.FirstScheduled = &scheduled
			}
			if result.LastScheduled == nil || scheduled.After(*result.LastScheduled) {
				result.LastScheduled = &scheduled
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{Attempted: len(queries)}, fmt.Errorf("commit insert tx: %w", err)
	}
	return result, nil
}

// LogBatch records an audit row for one processed sheet row. Error text is
// truncated to keep the audit table bounded.
func (r *QueryRepository) LogBatch(ctx context.Context, row querygen.NicheRow, result InsertResult, status, errText string) error {
	if len(errText) > 500 {
		errText = errText[:500]
	}
	_, err := r.db.ExecContext(ctx, insertBatchLogSQL,
		row.Niche, nullableStr(row.City), nullableStr(row.Country), nullableStr(row.BatchTag),
		result.Attempted, result.Inserted, result.Duplicates,
		nullableTime(result.FirstScheduled), nullableTime(result.LastScheduled),
		status, nullableStr(errText),
	)
	if err != nil {
		return fmt.Errorf("log batch: %w", err)
	}
	return nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
