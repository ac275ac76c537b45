package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/dbpg"

	"github.com/halmakey/pngin/internal/model"
)

var ErrCollectionNotFound = errors.New("collection not found")

// Repository reads the collection catalog: collections, authors and
// submissions. The export pipeline treats all three as read-only input.
type Repository struct {
	db *dbpg.DB
}

func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetCollection(ctx context.Context, id string) (model.Collection, error) {
	query := `
		SELECT id, name, url, sequence, form_active, visible, submissions_per_author, created
		FROM collections
		WHERE id = $1
	`

	var c model.Collection
	err := r.db.Master.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.URL, &c.Sequence, &c.FormActive, &c.Visible, &c.SubmissionsPerAuthor, &c.Created,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Collection{}, ErrCollectionNotFound
		}

		return model.Collection{}, fmt.Errorf("get: failed to get collection: %w", err)
	}

	return c, nil
}

// ListAuthorsByCollection returns the collection's authors in creation
// order.
func (r *Repository) ListAuthorsByCollection(ctx context.Context, collectionID string) ([]model.Author, error) {
	query := `
		SELECT id, collection_id, user_id, name, comment, image_id, created
		FROM authors
		WHERE collection_id = $1
		ORDER BY created
	`

	rows, err := r.db.Master.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list: failed to list authors: %w", err)
	}
	defer rows.Close()

	var authors []model.Author
	for rows.Next() {
		var a model.Author
		if err := rows.Scan(&a.ID, &a.CollectionID, &a.UserID, &a.Name, &a.Comment, &a.ImageID, &a.Created); err != nil {
			return nil, fmt.Errorf("list: failed to scan author: %w", err)
		}
		authors = append(authors, a)
	}

	return authors, rows.Err()
}

// ListSubmissionsByCollection returns the collection's submissions in
// creation order, which is also the order orphans surface at the root.
func (r *Repository) ListSubmissionsByCollection(ctx context.Context, collectionID string) ([]model.Submission, error) {
	query := `
		SELECT id, collection_id, author_id, image_id, width, height, sequence, comment, created
		FROM submissions
		WHERE collection_id = $1
		ORDER BY created
	`

	rows, err := r.db.Master.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list: failed to list submissions: %w", err)
	}
	defer rows.Close()

	var submissions []model.Submission
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(&s.ID, &s.CollectionID, &s.AuthorID, &s.ImageID, &s.Width, &s.Height, &s.Sequence, &s.Comment, &s.Created); err != nil {
			return nil, fmt.Errorf("list: failed to scan submission: %w", err)
		}
		submissions = append(submissions, s)
	}

	return submissions, rows.Err()
}
