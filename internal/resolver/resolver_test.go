package resolver_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"sync"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/halmakey/pngin/internal/resolver"
	"github.com/halmakey/pngin/internal/storage/bucket"
)

// fakeStore is an in-memory object store counting Get calls per key.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string][]byte),
		gets:    make(map[string]int),
	}
}

func (s *fakeStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets[key]++
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bucket.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Put(_ context.Context, key string, src io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStore) getCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[key]
}

func pngBytes(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := imaging.New(w, h, c)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestResolveFetchesSourceOnce(t *testing.T) {
	images := newFakeStore()
	cache := newFakeStore()
	images.objects["img1.png"] = pngBytes(t, 64, 32, color.NRGBA{R: 200, A: 255})

	r := resolver.New(images, cache, t.TempDir())
	ctx := context.Background()

	first, err := r.Resolve(ctx, "img1", 720, 720)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	second, err := r.Resolve(ctx, "img1", 720, 720)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if first != second {
		t.Errorf("paths differ: %q vs %q", first, second)
	}
	if got := images.getCount("img1.png"); got != 1 {
		t.Errorf("source fetched %d times, want 1", got)
	}

	r.Flush()
	if _, ok := cache.objects["images/720x720/img1.png"]; !ok {
		t.Error("resized tile not uploaded to cache bucket")
	}
}

func TestResolveUsesRemoteCache(t *testing.T) {
	images := newFakeStore()
	cache := newFakeStore()
	cache.objects["images/720x720/img1.png"] = pngBytes(t, 720, 720, color.NRGBA{G: 128, A: 255})

	r := resolver.New(images, cache, t.TempDir())

	if _, err := r.Resolve(context.Background(), "img1", 720, 720); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := images.getCount("img1.png"); got != 0 {
		t.Errorf("source fetched %d times, want 0", got)
	}
}

func TestResolveResizesExactFit(t *testing.T) {
	images := newFakeStore()
	cache := newFakeStore()
	images.objects["wide.png"] = pngBytes(t, 1920, 1080, color.NRGBA{B: 255, A: 255})

	r := resolver.New(images, cache, t.TempDir())

	out, err := r.Resolve(context.Background(), "wide", 540, 308)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	img, err := imaging.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 540 || b.Dy() != 308 {
		t.Errorf("output size = %dx%d, want 540x308", b.Dx(), b.Dy())
	}
}

func TestResolveAllMissingSourceIsFatal(t *testing.T) {
	images := newFakeStore()
	cache := newFakeStore()
	images.objects["ok.png"] = pngBytes(t, 16, 16, color.NRGBA{R: 1, A: 255})

	r := resolver.New(images, cache, t.TempDir())

	_, err := r.ResolveAll(context.Background(), []string{"ok", "gone"}, 720, 720)
	if !errors.Is(err, resolver.ErrSourceMissing) {
		t.Fatalf("err = %v, want ErrSourceMissing", err)
	}
}

func TestResolveAllOrderAndBatch(t *testing.T) {
	images := newFakeStore()
	cache := newFakeStore()
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("img%02d", i)
		images.objects[ids[i]+".png"] = pngBytes(t, 32, 32, color.NRGBA{R: uint8(i), A: 255})
	}

	r := resolver.New(images, cache, t.TempDir())

	outputs, err := r.ResolveAll(context.Background(), ids, 720, 720)
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if len(outputs) != len(ids) {
		t.Fatalf("got %d outputs, want %d", len(outputs), len(ids))
	}
	for i, out := range outputs {
		want := ids[i] + ".png"
		if len(out) == 0 || !bytes.HasSuffix([]byte(out), []byte(want)) {
			t.Errorf("outputs[%d] = %q, want suffix %q", i, out, want)
		}
	}
}
