package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	stdpath "path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/halmakey/pngin/internal/encoder"
	"github.com/halmakey/pngin/internal/invalidator"
	"github.com/halmakey/pngin/internal/model"
	"github.com/halmakey/pngin/internal/pathtree"
	"github.com/halmakey/pngin/internal/tiler"
)

const (
	videoFile    = "output.mp4"
	framePattern = "%04d.png"
)

// catalogStore reads the collection catalog.
type catalogStore interface {
	GetCollection(ctx context.Context, id string) (model.Collection, error)
	ListAuthorsByCollection(ctx context.Context, collectionID string) ([]model.Author, error)
	ListSubmissionsByCollection(ctx context.Context, collectionID string) ([]model.Submission, error)
}

// pathStore reads the folder rows of a collection.
type pathStore interface {
	ListByCollection(ctx context.Context, collectionID string) ([]model.CollectionPath, error)
}

// exportStore persists export requests and progress results.
type exportStore interface {
	CreateRequest(ctx context.Context, req model.ExportRequest) error
	GetRequest(ctx context.Context, id string) (model.ExportRequest, error)
	ClaimResult(ctx context.Context, id, collectionID string, start time.Time) (bool, error)
	UpdateResult(ctx context.Context, result model.ExportResult) error
	ListRequestsByCollection(ctx context.Context, collectionID string) ([]model.ExportRequest, error)
	ListResultsByCollection(ctx context.Context, collectionID string) ([]model.ExportResult, error)
}

// tileResolver materializes resized tiles on local disk.
type tileResolver interface {
	ResolveAll(ctx context.Context, imageIDs []string, width, height int) ([]string, error)
	Flush()
}

// objectStore is the write side of the export asset bucket.
type objectStore interface {
	Put(ctx context.Context, key string, src io.Reader, size int64, contentType string) error
}

// producer enqueues export request ids onto the work queue.
type producer interface {
	Produce(ctx context.Context, exportID string) error
}

// Service is the export job controller. One Run processes one
// ExportRequest: every folder of the collection becomes one tiled video
// plus manifest, with durable per-folder progress in the ExportResult.
// Runs are sequential; the only intra-run parallelism is tile resolution.
type Service struct {
	catalog     catalogStore
	paths       pathStore
	exports     exportStore
	resolver    tileResolver
	exportStore objectStore
	encoder     encoder.Encoder
	invalidator invalidator.Invalidator
	producer    producer
	workDir     string
}

// NewService wires the controller with its collaborators.
func NewService(
	catalog catalogStore,
	paths pathStore,
	exports exportStore,
	resolver tileResolver,
	exportBucket objectStore,
	enc encoder.Encoder,
	inv invalidator.Invalidator,
	p producer,
	workDir string,
) *Service {
	return &Service{
		catalog:     catalog,
		paths:       paths,
		exports:     exports,
		resolver:    resolver,
		exportStore: exportBucket,
		encoder:     enc,
		invalidator: inv,
		producer:    p,
		workDir:     workDir,
	}
}

// Trigger creates an ExportRequest with its companion result record and
// places the request id on the work queue.
func (s *Service) Trigger(ctx context.Context, collectionID string) (model.ExportRequest, error) {
	if _, err := s.catalog.GetCollection(ctx, collectionID); err != nil {
		return model.ExportRequest{}, fmt.Errorf("trigger: %w", err)
	}

	req := model.ExportRequest{
		ID:           uuid.New().String(),
		CollectionID: collectionID,
		Created:      time.Now(),
	}
	if err := s.exports.CreateRequest(ctx, req); err != nil {
		return model.ExportRequest{}, fmt.Errorf("trigger: %w", err)
	}

	if err := s.producer.Produce(ctx, req.ID); err != nil {
		return model.ExportRequest{}, fmt.Errorf("trigger: failed to enqueue export: %w", err)
	}

	return req, nil
}

// History returns the collection's export requests and results.
func (s *Service) History(ctx context.Context, collectionID string) ([]model.ExportRequest, []model.ExportResult, error) {
	var (
		requests []model.ExportRequest
		results  []model.ExportResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		requests, err = s.exports.ListRequestsByCollection(gctx, collectionID)
		return err
	})
	g.Go(func() (err error) {
		results, err = s.exports.ListResultsByCollection(gctx, collectionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("history: %w", err)
	}

	return requests, results, nil
}

// Run executes one export run to its terminal state. A request id whose
// result is already claimed is a redelivery and is skipped without any
// state change. Every other failure is persisted on the result record
// before being returned.
func (s *Service) Run(ctx context.Context, exportID string) error {
	req, err := s.exports.GetRequest(ctx, exportID)
	if err != nil {
		return fmt.Errorf("run: unexpected export id %s: %w", exportID, err)
	}

	start := time.Now()
	claimed, err := s.exports.ClaimResult(ctx, exportID, req.CollectionID, start)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if !claimed {
		zlog.Logger.Info().
			Str("export_id", exportID).
			Msg("export already claimed, skipping redelivery")
		return nil
	}

	result := model.ExportResult{
		ID:           exportID,
		CollectionID: req.CollectionID,
		Status:       model.ExportStatusProcess,
		Paths:        []string{},
		StartTime:    &start,
		Updated:      start,
	}

	if err := s.export(ctx, req, &result); err != nil {
		end := time.Now()
		result.Status = model.ExportStatusError
		result.Message = err.Error()
		result.EndTime = &end
		result.Updated = end
		// Best effort: a failure to persist the failure is swallowed.
		if persistErr := s.exports.UpdateResult(ctx, result); persistErr != nil {
			zlog.Logger.Warn().Err(persistErr).
				Str("export_id", exportID).
				Msg("failed to persist export failure")
		}
		return fmt.Errorf("run %s: %w", exportID, err)
	}

	return nil
}

func (s *Service) export(ctx context.Context, req model.ExportRequest, result *model.ExportResult) error {
	var (
		rows        []model.CollectionPath
		submissions []model.Submission
		authors     []model.Author
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.catalog.GetCollection(gctx, req.CollectionID)
		return err
	})
	g.Go(func() (err error) {
		rows, err = s.paths.ListByCollection(gctx, req.CollectionID)
		return err
	})
	g.Go(func() (err error) {
		submissions, err = s.catalog.ListSubmissionsByCollection(gctx, req.CollectionID)
		return err
	})
	g.Go(func() (err error) {
		authors, err = s.catalog.ListAuthorsByCollection(gctx, req.CollectionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	submissionMap := make(map[string]model.Submission, len(submissions))
	for _, sub := range submissions {
		submissionMap[sub.ID] = sub
	}
	authorMap := make(map[string]model.Author, len(authors))
	for _, a := range authors {
		authorMap[a.ID] = a
	}

	defer s.resolver.Flush()

	// Every explicit folder row is its own export unit, scoped to itself
	// plus its descendants, in sibling order.
	tree := pathtree.New(rows)
	for _, row := range tree.Rows() {
		if err := s.exportPath(ctx, req, tree, row, submissions, submissionMap, authorMap, result); err != nil {
			return fmt.Errorf("export path %q: %w", row.Path, err)
		}
	}

	end := time.Now()
	result.Status = model.ExportStatusComplete
	result.EndTime = &end
	result.Updated = end
	return s.exports.UpdateResult(ctx, *result)
}

func (s *Service) exportPath(
	ctx context.Context,
	req model.ExportRequest,
	tree *pathtree.Tree,
	row model.CollectionPath,
	submissions []model.Submission,
	submissionMap map[string]model.Submission,
	authorMap map[string]model.Author,
	result *model.ExportResult,
) error {
	exportSubs, exportAuthors := buildRecords(tree, row, submissions, submissionMap, authorMap)
	if len(exportSubs) == 0 || len(exportAuthors) == 0 {
		// Nothing to export for this folder.
		return nil
	}

	submissionPages := pageCount(len(exportSubs), model.SubmissionsPerPage)
	authorPages := pageCount(len(exportAuthors), model.AuthorsPerPage)

	record := model.ExportRecord{
		ExportID:    req.ID,
		Path:        row.Path,
		Timestamp:   time.Now().UnixMilli(),
		Submissions: exportSubs,
		Authors:     exportAuthors,
		AuthorPage:  submissionPages,
	}

	// Frames of previous paths are no longer needed; the tile cache under
	// images/ stays warm for the rest of the run.
	outputRoot := filepath.Join(s.workDir, "output", req.ID)
	if err := os.RemoveAll(outputRoot); err != nil {
		return fmt.Errorf("failed to clear output dir: %w", err)
	}
	outDir := filepath.Join(outputRoot, filepath.FromSlash(row.Path))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	frame := 0
	for page := 0; page < submissionPages; page++ {
		chunk := exportSubs[page*model.SubmissionsPerPage : min((page+1)*model.SubmissionsPerPage, len(exportSubs))]
		imageIDs := make([]string, len(chunk))
		for i, sub := range chunk {
			imageIDs[i] = sub.ImageID
		}

		tiles, err := s.resolver.ResolveAll(ctx, imageIDs, model.SubmissionTileWidth, model.SubmissionTileHeight)
		if err != nil {
			return err
		}
		out := filepath.Join(outDir, fmt.Sprintf(framePattern, frame))
		if err := tiler.Compose(tiles, model.CanvasWidth, model.CanvasHeight,
			model.SubmissionTileWidth, model.SubmissionTileHeight, out); err != nil {
			return err
		}
		frame++
	}

	for page := 0; page < authorPages; page++ {
		chunk := exportAuthors[page*model.AuthorsPerPage : min((page+1)*model.AuthorsPerPage, len(exportAuthors))]
		imageIDs := make([]string, len(chunk))
		for i, a := range chunk {
			imageIDs[i] = a.ImageID
		}

		tiles, err := s.resolver.ResolveAll(ctx, imageIDs, model.AuthorTileWidth, model.AuthorTileHeight)
		if err != nil {
			return err
		}
		out := filepath.Join(outDir, fmt.Sprintf(framePattern, frame))
		if err := tiler.Compose(tiles, model.CanvasWidth, model.CanvasHeight,
			model.AuthorTileWidth, model.AuthorTileHeight, out); err != nil {
			return err
		}
		frame++
	}

	if err := s.encoder.Encode(ctx, outDir, framePattern, videoFile); err != nil {
		return err
	}

	manifest, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	keyPrefix := stdpath.Join("collection", req.CollectionID, row.Path)
	videoKey := keyPrefix + "/latest.mp4"
	jsonKey := keyPrefix + "/latest.json"

	video, err := os.Open(filepath.Join(outDir, videoFile))
	if err != nil {
		return fmt.Errorf("failed to open encoded video: %w", err)
	}
	defer video.Close()
	stat, err := video.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat encoded video: %w", err)
	}

	if err := s.exportStore.Put(ctx, videoKey, video, stat.Size(), "video/mp4"); err != nil {
		return err
	}
	if err := s.exportStore.Put(ctx, jsonKey, bytes.NewReader(manifest), int64(len(manifest)), "application/json"); err != nil {
		return err
	}

	if err := s.invalidator.Invalidate(ctx, "/"+videoKey, "/"+jsonKey); err != nil {
		return err
	}

	// Durable checkpoint: this folder is done.
	result.Paths = append(result.Paths, row.Path)
	result.Status = model.ExportStatusProcess
	result.Updated = time.Now()
	if err := s.exports.UpdateResult(ctx, *result); err != nil {
		return err
	}

	zlog.Logger.Info().
		Str("export_id", req.ID).
		Str("path", row.Path).
		Int("submissions", len(exportSubs)).
		Int("authors", len(exportAuthors)).
		Msg("path exported")

	return nil
}

// buildRecords assembles the manifest entries for one folder: the folder's
// own submissions first, then each descendant's in sibling order, orphans
// appended when the folder is the root. Authors are credited in first-seen
// submission order. Stale submission ids are logged and skipped.
func buildRecords(
	tree *pathtree.Tree,
	row model.CollectionPath,
	submissions []model.Submission,
	submissionMap map[string]model.Submission,
	authorMap map[string]model.Author,
) ([]model.ExportSubmissionRecord, []model.ExportAuthorRecord) {
	var exportSubs []model.ExportSubmissionRecord
	var exportAuthors []model.ExportAuthorRecord
	authorIndex := make(map[string]int)
	seen := make(map[string]struct{})

	add := func(id, folder string) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}

		sub, ok := submissionMap[id]
		if !ok {
			zlog.Logger.Warn().Str("submission_id", id).Str("path", folder).
				Msg("stale submission reference, skipping")
			return
		}
		author, ok := authorMap[sub.AuthorID]
		if !ok {
			zlog.Logger.Warn().Str("submission_id", id).Str("author_id", sub.AuthorID).
				Msg("stale author reference, skipping")
			return
		}

		idx, ok := authorIndex[author.ID]
		if !ok {
			idx = len(exportAuthors)
			authorIndex[author.ID] = idx
			exportAuthors = append(exportAuthors, model.ExportAuthorRecord{
				ID:       author.ID,
				Name:     author.Name,
				ImageID:  author.ImageID,
				Width:    model.AuthorImageWidth,
				Height:   model.AuthorImageHeight,
				Sequence: idx,
			})
		}

		exportSubs = append(exportSubs, model.ExportSubmissionRecord{
			ID:       sub.ID,
			Path:     folder,
			ImageID:  sub.ImageID,
			Width:    sub.Width,
			Height:   sub.Height,
			Sequence: len(exportSubs),
			Author:   exportAuthors[idx],
		})
	}

	for _, r := range tree.Under(row.Path) {
		for _, id := range r.SubmissionIDs {
			add(id, r.Path)
		}
	}
	if row.Path == "" {
		for _, id := range tree.Orphans(submissions) {
			add(id, "")
		}
	}

	return exportSubs, exportAuthors
}

func pageCount(items, perPage int) int {
	return (items + perPage - 1) / perPage
}
