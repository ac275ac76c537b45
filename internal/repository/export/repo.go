package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/halmakey/pngin/internal/model"
)

var (
	ErrRequestNotFound = errors.New("export request not found")
	ErrRequestExists   = errors.New("export request already exists")
)

// Repository persists export requests and their 1:1 progress results.
// Results are only ever written as whole-record overwrites.
type Repository struct {
	db *dbpg.DB
}

func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateRequest inserts a request together with its empty result record in
// one transaction, conditionally on the id being unused.
func (r *Repository) CreateRequest(ctx context.Context, req model.ExportRequest) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create: failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO export_requests (id, collection_id, created)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, req.ID, req.CollectionID, req.Created)
	if err != nil {
		return fmt.Errorf("create: failed to insert request: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("create: failed to get number of rows affected: %w", err)
	} else if n == 0 {
		return ErrRequestExists
	}

	// The companion result exists before the job is queued; start_time
	// stays NULL until a worker claims the run.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO export_results (id, collection_id, status, paths, message, start_time, end_time, updated)
		VALUES ($1, $2, $3, '{}', '', NULL, NULL, $4)
	`, req.ID, req.CollectionID, model.ExportStatusProcess, req.Created); err != nil {
		return fmt.Errorf("create: failed to insert result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create: failed to commit: %w", err)
	}

	return nil
}

func (r *Repository) GetRequest(ctx context.Context, id string) (model.ExportRequest, error) {
	query := `
		SELECT id, collection_id, created
		FROM export_requests
		WHERE id = $1
	`

	var req model.ExportRequest
	err := r.db.Master.QueryRowContext(ctx, query, id).Scan(&req.ID, &req.CollectionID, &req.Created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ExportRequest{}, ErrRequestNotFound
		}

		return model.ExportRequest{}, fmt.Errorf("get: failed to get export request: %w", err)
	}

	return req, nil
}

// ClaimResult marks the run as started with a conditional write: it only
// succeeds while start_time is unset. A second delivery of the same export
// id finds the lease taken and must treat the message as a no-op. The
// upsert also claims runs whose result row is missing (manually enqueued
// ids).
func (r *Repository) ClaimResult(ctx context.Context, id, collectionID string, start time.Time) (bool, error) {
	res, err := r.db.Master.ExecContext(ctx, `
		INSERT INTO export_results (id, collection_id, status, paths, message, start_time, end_time, updated)
		VALUES ($1, $2, $3, '{}', '', $4, NULL, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    paths = '{}',
		    message = '',
		    start_time = EXCLUDED.start_time,
		    end_time = NULL,
		    updated = EXCLUDED.updated
		WHERE export_results.start_time IS NULL
	`, id, collectionID, model.ExportStatusProcess, start)
	if err != nil {
		return false, fmt.Errorf("claim: failed to claim export result: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim: failed to get number of rows affected: %w", err)
	}

	return n == 1, nil
}

// UpdateResult overwrites the whole result record.
func (r *Repository) UpdateResult(ctx context.Context, result model.ExportResult) error {
	_, err := r.db.Master.ExecContext(ctx, `
		UPDATE export_results
		SET status = $2, paths = $3, message = $4, start_time = $5, end_time = $6, updated = $7
		WHERE id = $1
	`, result.ID, result.Status, pq.Array(result.Paths), result.Message, result.StartTime, result.EndTime, result.Updated)
	if err != nil {
		return fmt.Errorf("update: failed to update export result: %w", err)
	}

	return nil
}

func (r *Repository) GetResult(ctx context.Context, id string) (model.ExportResult, error) {
	query := `
		SELECT id, collection_id, status, paths, message, start_time, end_time, updated
		FROM export_results
		WHERE id = $1
	`

	var result model.ExportResult
	var paths pq.StringArray
	err := r.db.Master.QueryRowContext(ctx, query, id).Scan(
		&result.ID, &result.CollectionID, &result.Status, &paths,
		&result.Message, &result.StartTime, &result.EndTime, &result.Updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ExportResult{}, ErrRequestNotFound
		}

		return model.ExportResult{}, fmt.Errorf("get: failed to get export result: %w", err)
	}
	result.Paths = paths

	return result, nil
}

// ListRequestsByCollection returns the collection's requests, newest
// first.
func (r *Repository) ListRequestsByCollection(ctx context.Context, collectionID string) ([]model.ExportRequest, error) {
	query := `
		SELECT id, collection_id, created
		FROM export_requests
		WHERE collection_id = $1
		ORDER BY created DESC
	`

	rows, err := r.db.Master.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list: failed to list export requests: %w", err)
	}
	defer rows.Close()

	var requests []model.ExportRequest
	for rows.Next() {
		var req model.ExportRequest
		if err := rows.Scan(&req.ID, &req.CollectionID, &req.Created); err != nil {
			return nil, fmt.Errorf("list: failed to scan export request: %w", err)
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}

// ListResultsByCollection returns the collection's results, newest first.
func (r *Repository) ListResultsByCollection(ctx context.Context, collectionID string) ([]model.ExportResult, error) {
	query := `
		SELECT id, collection_id, status, paths, message, start_time, end_time, updated
		FROM export_results
		WHERE collection_id = $1
		ORDER BY updated DESC
	`

	rows, err := r.db.Master.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list: failed to list export results: %w", err)
	}
	defer rows.Close()

	var results []model.ExportResult
	for rows.Next() {
		var result model.ExportResult
		var paths pq.StringArray
		if err := rows.Scan(
			&result.ID, &result.CollectionID, &result.Status, &paths,
			&result.Message, &result.StartTime, &result.EndTime, &result.Updated,
		); err != nil {
			return nil, fmt.Errorf("list: failed to scan export result: %w", err)
		}
		result.Paths = paths
		results = append(results, result)
	}

	return results, rows.Err()
}
