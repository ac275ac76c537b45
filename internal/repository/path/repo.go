package path

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/halmakey/pngin/internal/model"
)

var ErrPathNotFound = errors.New("collection path not found")

// Repository persists the folder rows of a collection's path tree.
type Repository struct {
	db *dbpg.DB
}

func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// ListByCollection returns all path rows of the collection in sibling
// order.
func (r *Repository) ListByCollection(ctx context.Context, collectionID string) ([]model.CollectionPath, error) {
	query := `
		SELECT collection_id, path, submission_ids, sequence, updated
		FROM collection_paths
		WHERE collection_id = $1
		ORDER BY sequence, path
	`

	rows, err := r.db.Master.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list: failed to list collection paths: %w", err)
	}
	defer rows.Close()

	var paths []model.CollectionPath
	for rows.Next() {
		var p model.CollectionPath
		var ids pq.StringArray
		if err := rows.Scan(&p.CollectionID, &p.Path, &ids, &p.Sequence, &p.Updated); err != nil {
			return nil, fmt.Errorf("list: failed to scan collection path: %w", err)
		}
		p.SubmissionIDs = ids
		paths = append(paths, p)
	}

	return paths, rows.Err()
}

// Get returns one path row.
func (r *Repository) Get(ctx context.Context, collectionID, path string) (model.CollectionPath, error) {
	query := `
		SELECT collection_id, path, submission_ids, sequence, updated
		FROM collection_paths
		WHERE collection_id = $1 AND path = $2
	`

	var p model.CollectionPath
	var ids pq.StringArray
	err := r.db.Master.QueryRowContext(ctx, query, collectionID, path).Scan(
		&p.CollectionID, &p.Path, &ids, &p.Sequence, &p.Updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CollectionPath{}, ErrPathNotFound
		}

		return model.CollectionPath{}, fmt.Errorf("get: failed to get collection path: %w", err)
	}
	p.SubmissionIDs = ids

	return p, nil
}

// ApplyChange writes a structural change to the path set as a single
// all-or-nothing transaction: every put is upserted, every delete removed.
// This is the only write path for collection_paths, so one collection's
// tree never ends up half-mutated.
func (r *Repository) ApplyChange(ctx context.Context, puts, deletes []model.CollectionPath) error {
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}

	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply: failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	deleteQuery := `DELETE FROM collection_paths WHERE collection_id = $1 AND path = $2`
	for _, p := range deletes {
		if _, err := tx.ExecContext(ctx, deleteQuery, p.CollectionID, p.Path); err != nil {
			return fmt.Errorf("apply: failed to delete path %q: %w", p.Path, err)
		}
	}

	putQuery := `
		INSERT INTO collection_paths (collection_id, path, submission_ids, sequence, updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection_id, path) DO UPDATE
		SET submission_ids = EXCLUDED.submission_ids,
		    sequence = EXCLUDED.sequence,
		    updated = EXCLUDED.updated
	`
	for _, p := range puts {
		if _, err := tx.ExecContext(ctx, putQuery,
			p.CollectionID, p.Path, pq.Array(p.SubmissionIDs), p.Sequence, p.Updated,
		); err != nil {
			return fmt.Errorf("apply: failed to put path %q: %w", p.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply: failed to commit: %w", err)
	}

	return nil
}
