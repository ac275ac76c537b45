package path

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halmakey/pngin/internal/model"
	"github.com/halmakey/pngin/internal/pathtree"
)

// Folder policy bounds. Deep or wide trees multiply export units, so both
// axes are capped at the edge.
const (
	MaxPathDepth = 5
	MaxSiblings  = 10
)

var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrPathTooDeep  = errors.New("path exceeds maximum depth")
	ErrTooManyPaths = errors.New("too many sibling paths")
)

// pathStore persists the folder rows of a collection.
type pathStore interface {
	ListByCollection(ctx context.Context, collectionID string) ([]model.CollectionPath, error)
	ApplyChange(ctx context.Context, puts, deletes []model.CollectionPath) error
}

// catalogStore reads the submissions needed to resolve implicit root
// membership.
type catalogStore interface {
	ListSubmissionsByCollection(ctx context.Context, collectionID string) ([]model.Submission, error)
}

// Service implements the admin operations on a collection's folder tree.
// Each mutation reads the current rows, computes the change as a pure
// transform and writes it back atomically.
type Service struct {
	paths   pathStore
	catalog catalogStore
}

func NewService(paths pathStore, catalog catalogStore) *Service {
	return &Service{paths: paths, catalog: catalog}
}

// ListPaths returns all folder rows of the collection in sibling order.
func (s *Service) ListPaths(ctx context.Context, collectionID string) ([]model.CollectionPath, error) {
	rows, err := s.paths.ListByCollection(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list paths: %w", err)
	}
	return pathtree.New(rows).Rows(), nil
}

// ChildrenAt returns the folder rows exactly one level below depth that lie
// under the given path.
func (s *Service) ChildrenAt(ctx context.Context, collectionID string, depth int, under string) ([]model.CollectionPath, error) {
	rows, err := s.paths.ListByCollection(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("children: %w", err)
	}
	return pathtree.New(rows).ChildrenAt(depth, under), nil
}

// CreatePath adds an empty folder row at the end of its sibling group.
// Creating an existing path is a no-op returning the existing row.
func (s *Service) CreatePath(ctx context.Context, collectionID, path string) (model.CollectionPath, error) {
	if err := validatePath(path); err != nil {
		return model.CollectionPath{}, err
	}

	rows, err := s.paths.ListByCollection(ctx, collectionID)
	if err != nil {
		return model.CollectionPath{}, fmt.Errorf("create path: %w", err)
	}
	tree := pathtree.New(rows)

	if existing, ok := tree.Get(path); ok {
		return existing, nil
	}

	parent := pathtree.ParentOf(path)
	maxSeq := 0
	siblings := 0
	for _, row := range tree.Rows() {
		if row.Path != "" && pathtree.ParentOf(row.Path) == parent {
			siblings++
			if row.Sequence > maxSeq {
				maxSeq = row.Sequence
			}
		}
	}
	if siblings >= MaxSiblings {
		return model.CollectionPath{}, ErrTooManyPaths
	}

	created := model.NewCollectionPath(collectionID, path, maxSeq+1)
	if err := s.paths.ApplyChange(ctx, []model.CollectionPath{created}, nil); err != nil {
		return model.CollectionPath{}, fmt.Errorf("create path: %w", err)
	}
	return created, nil
}

// DeletePath removes the folder and its whole subtree, folding their
// submissions into the nearest surviving ancestor. Deleting an absent path
// is a no-op.
func (s *Service) DeletePath(ctx context.Context, collectionID, path string) error {
	if path == "" {
		return ErrInvalidPath
	}

	rows, err := s.paths.ListByCollection(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("delete path: %w", err)
	}

	// Sibling order decides where folded submissions land in the parent
	// list, so normalize before computing the change.
	puts, deletes := pathtree.Delete(pathtree.New(rows).Rows(), collectionID, path)
	if err := s.paths.ApplyChange(ctx, puts, deletes); err != nil {
		return fmt.Errorf("delete path: %w", err)
	}
	return nil
}

// ReorderPaths moves a dragged selection of sibling folders next to the
// target folder. All paths must share the target's parent; the sibling
// group is renumbered 1..n afterwards.
func (s *Service) ReorderPaths(ctx context.Context, collectionID, primary string, moving []string, target string) error {
	rows, err := s.paths.ListByCollection(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("reorder paths: %w", err)
	}
	tree := pathtree.New(rows)

	parent := pathtree.ParentOf(primary)
	if pathtree.ParentOf(target) != parent {
		return ErrInvalidPath
	}

	var siblings []string
	byPath := make(map[string]model.CollectionPath)
	for _, row := range tree.Rows() {
		if row.Path != "" && pathtree.ParentOf(row.Path) == parent {
			siblings = append(siblings, row.Path)
			byPath[row.Path] = row
		}
	}

	ordered := pathtree.Reorder(siblings, primary, moving, target)

	now := time.Now()
	var puts []model.CollectionPath
	for i, p := range ordered {
		row := byPath[p]
		if row.Sequence == i+1 {
			continue
		}
		row.Sequence = i + 1
		row.Updated = now
		puts = append(puts, row)
	}
	if err := s.paths.ApplyChange(ctx, puts, nil); err != nil {
		return fmt.Errorf("reorder paths: %w", err)
	}
	return nil
}

// AssignSubmissions moves the given submissions into the target folder,
// removing them from any other folder. Assigning to the root materializes
// the root row on demand.
func (s *Service) AssignSubmissions(ctx context.Context, collectionID, targetPath string, submissionIDs []string) error {
	if len(submissionIDs) == 0 {
		return nil
	}

	rows, err := s.paths.ListByCollection(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("assign submissions: %w", err)
	}

	puts, err := pathtree.Assign(rows, collectionID, targetPath, submissionIDs)
	if err != nil {
		return fmt.Errorf("assign submissions: %w", err)
	}
	if err := s.paths.ApplyChange(ctx, puts, nil); err != nil {
		return fmt.Errorf("assign submissions: %w", err)
	}
	return nil
}

// ReorderSubmissions applies a drag and drop inside one folder's ordered
// submission list. At the root the working list also includes orphans, so
// a reorder there pins every implicit member into the explicit root row.
func (s *Service) ReorderSubmissions(ctx context.Context, collectionID, path, primary string, moving []string, target string) error {
	rows, err := s.paths.ListByCollection(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("reorder submissions: %w", err)
	}
	tree := pathtree.New(rows)

	var ids []string
	row, ok := tree.Get(path)
	if path == "" {
		submissions, err := s.catalog.ListSubmissionsByCollection(ctx, collectionID)
		if err != nil {
			return fmt.Errorf("reorder submissions: %w", err)
		}
		ids = tree.RootSubmissions(submissions)
		if !ok {
			row = model.NewCollectionPath(collectionID, "", 0)
		}
	} else {
		if !ok {
			return ErrInvalidPath
		}
		ids = row.SubmissionIDs
	}

	ordered := pathtree.Reorder(ids, primary, moving, target)

	row.SubmissionIDs = ordered
	row.Updated = time.Now()
	if err := s.paths.ApplyChange(ctx, []model.CollectionPath{row}, nil); err != nil {
		return fmt.Errorf("reorder submissions: %w", err)
	}
	return nil
}

func validatePath(path string) error {
	comps := pathtree.Components(path)
	if len(comps) == 0 {
		return ErrInvalidPath
	}
	if len(comps) > MaxPathDepth {
		return ErrPathTooDeep
	}
	for _, comp := range comps {
		if comp == "" || comp == "." || comp == ".." {
			return ErrInvalidPath
		}
	}
	return nil
}
