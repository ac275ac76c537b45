// Package pathtree implements the folder namespace of a collection: a tree
// of slash-joined path strings with an ordered, explicit assignment of
// submissions to folders. "" is the root. Ancestry is structural (derived
// by slicing the string), never stored.
//
// Concurrent edits to the same collection's path set are last-writer-wins
// at row granularity; callers are expected to serialize admin mutations.
package pathtree

import (
	"errors"
	"sort"
	"strings"

	"github.com/halmakey/pngin/internal/model"
)

// ErrPathNotFound is returned by Assign when the target folder does not
// exist and is not the root.
var ErrPathNotFound = errors.New("pathtree: path not found")

// ParentOf removes the last path component. The root is its own parent.
func ParentOf(path string) string {
	comps := strings.Split(path, "/")
	return strings.Join(comps[:len(comps)-1], "/")
}

// Components splits a path into its components. The root has none.
func Components(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Contains reports whether child lies under parent. The root contains
// everything and every path contains itself.
func Contains(parent, child string) bool {
	return parent == "" || parent == child || strings.HasPrefix(child, parent+"/")
}

// Ancestors returns the proper ancestors of path from the root down to the
// immediate parent.
func Ancestors(path string) []string {
	comps := Components(path)
	parent := ""
	nest := make([]string, 0, len(comps))
	for _, comp := range comps {
		nest = append(nest, parent)
		parent = Join(parent, comp)
	}
	return nest
}

// Join appends a child component to a parent path.
func Join(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "/" + child
}

// Slice truncates a path to the given depth.
func Slice(path string, depth int) string {
	if depth < 1 {
		return ""
	}
	comps := Components(path)
	if depth > len(comps) {
		depth = len(comps)
	}
	return strings.Join(comps[:depth], "/")
}

// Tree is an index over a collection's flat path rows, built once per use.
// Rows keep their sibling order (sequence, then path as tiebreaker).
type Tree struct {
	rows   []model.CollectionPath
	byPath map[string]int
}

// New indexes the given rows. The input slice is not modified.
func New(rows []model.CollectionPath) *Tree {
	sorted := make([]model.CollectionPath, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Sequence != sorted[j].Sequence {
			return sorted[i].Sequence < sorted[j].Sequence
		}
		return sorted[i].Path < sorted[j].Path
	})

	byPath := make(map[string]int, len(sorted))
	for i, row := range sorted {
		byPath[row.Path] = i
	}
	return &Tree{rows: sorted, byPath: byPath}
}

// Rows returns all rows in sibling order.
func (t *Tree) Rows() []model.CollectionPath {
	return t.rows
}

// Get looks up the row for an exact path.
func (t *Tree) Get(path string) (model.CollectionPath, bool) {
	i, ok := t.byPath[path]
	if !ok {
		return model.CollectionPath{}, false
	}
	return t.rows[i], true
}

// Under returns the row at path followed by every descendant row, each in
// stored order. The result is empty when no row exists for path itself.
func (t *Tree) Under(path string) []model.CollectionPath {
	self, ok := t.Get(path)
	if !ok {
		return nil
	}
	result := []model.CollectionPath{self}
	for _, row := range t.rows {
		if row.Path != path && Contains(path, row.Path) {
			result = append(result, row)
		}
	}
	return result
}

// ChildrenAt returns the rows exactly one level below depth that lie under
// the given path, allowing a UI to render one folder level at a time.
func (t *Tree) ChildrenAt(depth int, under string) []model.CollectionPath {
	var result []model.CollectionPath
	for _, row := range t.rows {
		if len(Components(row.Path)) == depth+1 && Contains(under, row.Path) {
			result = append(result, row)
		}
	}
	return result
}

// SubmissionsUnder collects the submission ids of path and all its
// descendants: the path's own explicit list first, then each descendant's
// list in row order, deduplicated preserving first occurrence.
func (t *Tree) SubmissionsUnder(path string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, row := range t.Under(path) {
		for _, id := range row.SubmissionIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// Orphans returns, in the given order, the ids of submissions not assigned
// to any row. Orphans are implicit members of the root, appended after the
// root's explicit list.
func (t *Tree) Orphans(submissions []model.Submission) []string {
	assigned := make(map[string]struct{})
	for _, row := range t.rows {
		for _, id := range row.SubmissionIDs {
			assigned[id] = struct{}{}
		}
	}
	var orphans []string
	for _, s := range submissions {
		if _, ok := assigned[s.ID]; !ok {
			orphans = append(orphans, s.ID)
		}
	}
	return orphans
}

// RootSubmissions resolves the full ordered root membership: the explicit
// root list (when a root row exists) followed by orphans in creation order.
func (t *Tree) RootSubmissions(submissions []model.Submission) []string {
	var ids []string
	if root, ok := t.Get(""); ok {
		ids = append(ids, root.SubmissionIDs...)
	}
	return append(ids, t.Orphans(submissions)...)
}

// Assign moves the given submission ids into the target folder: they are
// removed from every other row and unioned into the target's list, keeping
// the relative order of ids already present and appending new ones.
// Assigning an already-assigned set is a content no-op. The target row is
// created on demand only for the root; otherwise a missing target is
// ErrPathNotFound. Returns the rows that changed, target last.
func Assign(rows []model.CollectionPath, collectionID, targetPath string, submissionIDs []string) ([]model.CollectionPath, error) {
	moving := make(map[string]struct{}, len(submissionIDs))
	for _, id := range submissionIDs {
		moving[id] = struct{}{}
	}

	var target *model.CollectionPath
	var puts []model.CollectionPath
	for _, row := range rows {
		if row.Path == targetPath {
			row := row
			target = &row
			continue
		}
		filtered := filterOut(row.SubmissionIDs, moving)
		if len(filtered) == len(row.SubmissionIDs) {
			continue
		}
		row.SubmissionIDs = filtered
		puts = append(puts, row)
	}

	if target == nil {
		if targetPath != "" {
			return nil, ErrPathNotFound
		}
		row := model.NewCollectionPath(collectionID, "", 0)
		target = &row
	}

	target.SubmissionIDs = union(target.SubmissionIDs, submissionIDs)
	puts = append(puts, *target)
	return puts, nil
}

// Delete removes the target folder and every descendant, folding all their
// submission ids into the nearest surviving ancestor (created with sequence
// 0 when absent). A target with no rows is a graceful no-op. Returns the
// rows to write and the rows to remove.
func Delete(rows []model.CollectionPath, collectionID, targetPath string) (puts, deletes []model.CollectionPath) {
	var movingIDs []string
	remaining := make(map[string]model.CollectionPath)
	for _, row := range rows {
		if Contains(targetPath, row.Path) {
			deletes = append(deletes, row)
			movingIDs = append(movingIDs, row.SubmissionIDs...)
			continue
		}
		remaining[row.Path] = row
	}
	if len(deletes) == 0 {
		return nil, nil
	}

	parentPath := ParentOf(targetPath)
	parent, ok := remaining[parentPath]
	if !ok {
		parent = model.NewCollectionPath(collectionID, parentPath, 0)
	}
	parent.SubmissionIDs = union(parent.SubmissionIDs, movingIDs)
	return []model.CollectionPath{parent}, deletes
}

func filterOut(ids []string, drop map[string]struct{}) []string {
	filtered := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			filtered = append(filtered, id)
		}
	}
	return filtered
}

// union appends the ids of add not already present in base, preserving the
// order of both.
func union(base, add []string) []string {
	seen := make(map[string]struct{}, len(base))
	result := make([]string, 0, len(base)+len(add))
	for _, id := range base {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	for _, id := range add {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
