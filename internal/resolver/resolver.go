// Package resolver materializes resized tile images on local scratch disk,
// looking them up through three tiers: local disk, the remote resize-cache
// bucket, and finally the source image bucket.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/halmakey/pngin/internal/storage/bucket"
)

// ErrSourceMissing marks a submission referencing a deleted source image.
// This is an upstream data-integrity problem, fatal to the whole run.
var ErrSourceMissing = errors.New("source image missing")

// objectStore is the subset of bucket operations the resolver needs.
type objectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, src io.Reader, size int64, contentType string) error
}

// Resolver resolves (imageID, width, height) tuples to local PNG files.
// The local directory doubles as the first cache tier and is kept across
// paths within one export run.
type Resolver struct {
	images objectStore
	cache  objectStore
	dir    string
	limit  int

	uploads sync.WaitGroup
}

// New creates a Resolver writing into dir. Batch fan-out is bounded at
// twice the available processing units.
func New(images, cache objectStore, dir string) *Resolver {
	return &Resolver{
		images: images,
		cache:  cache,
		dir:    dir,
		limit:  runtime.GOMAXPROCS(0) * 2,
	}
}

// ResolveAll resolves a batch of image ids at the given tile size under a
// bounded worker pool. The returned paths are in input order. The batch
// fails as a whole on the first error; compose needs every tile present.
func (r *Resolver) ResolveAll(ctx context.Context, imageIDs []string, width, height int) ([]string, error) {
	outputs := make([]string, len(imageIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for i, id := range imageIDs {
		i, id := i, id
		g.Go(func() error {
			out, err := r.Resolve(gctx, id, width, height)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return outputs, nil
}

// Resolve returns the local path of the resized image, materializing it
// from the cache bucket or the source bucket when not yet on disk.
func (r *Resolver) Resolve(ctx context.Context, imageID string, width, height int) (string, error) {
	localPath := filepath.Join(r.dir, "images", fmt.Sprintf("%dx%d", width, height), imageID+".png")
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", fmt.Errorf("resolve: failed to create cache dir: %w", err)
	}

	cacheKey := fmt.Sprintf("images/%dx%d/%s.png", width, height, imageID)
	cached, err := r.cache.Get(ctx, cacheKey)
	if err == nil {
		defer cached.Close()
		if err := writeFileAtomic(localPath, cached); err != nil {
			return "", fmt.Errorf("resolve: failed to materialize cached tile: %w", err)
		}
		return localPath, nil
	}
	if !errors.Is(err, bucket.ErrNotFound) {
		return "", fmt.Errorf("resolve: failed to read cache: %w", err)
	}

	sourceKey := imageID + ".png"
	source, err := r.images.Get(ctx, sourceKey)
	if err != nil {
		if errors.Is(err, bucket.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSourceMissing, sourceKey)
		}
		return "", fmt.Errorf("resolve: failed to read source image: %w", err)
	}
	defer source.Close()

	img, err := imaging.Decode(source)
	if err != nil {
		return "", fmt.Errorf("resolve: failed to decode source image %s: %w", sourceKey, err)
	}

	// Exact-fit scale to the tile box; aspect ratio is intentionally not
	// preserved at this stage. Alpha is flattened over black.
	resized := imaging.Resize(img, width, height, imaging.Lanczos)
	flat := imaging.New(width, height, color.Black)
	flat = imaging.Overlay(flat, resized, image.Pt(0, 0), 1.0)

	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, flat, imaging.PNG); err != nil {
		return "", fmt.Errorf("resolve: failed to encode tile: %w", err)
	}
	data := buf.Bytes()

	if err := writeFileAtomic(localPath, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("resolve: failed to write tile: %w", err)
	}

	// Populate the remote cache for future runs without holding up this
	// one. Failures only cost a re-resize next time.
	r.uploads.Add(1)
	go func() {
		defer r.uploads.Done()
		if err := r.cache.Put(context.WithoutCancel(ctx), cacheKey, bytes.NewReader(data), int64(len(data)), "image/png"); err != nil {
			zlog.Logger.Warn().Err(err).Str("key", cacheKey).Msg("failed to upload tile to cache bucket")
		}
	}()

	return localPath, nil
}

// Flush waits for pending cache uploads.
func (r *Resolver) Flush() {
	r.uploads.Wait()
}

func writeFileAtomic(path string, src io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tile-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
