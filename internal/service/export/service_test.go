package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/halmakey/pngin/internal/invalidator"
	"github.com/halmakey/pngin/internal/model"
)

type fakeCatalog struct {
	collection  model.Collection
	authors     []model.Author
	submissions []model.Submission
	missing     bool
}

func (c *fakeCatalog) GetCollection(_ context.Context, id string) (model.Collection, error) {
	if c.missing || id != c.collection.ID {
		return model.Collection{}, errors.New("collection not found")
	}
	return c.collection, nil
}

func (c *fakeCatalog) ListAuthorsByCollection(context.Context, string) ([]model.Author, error) {
	return c.authors, nil
}

func (c *fakeCatalog) ListSubmissionsByCollection(context.Context, string) ([]model.Submission, error) {
	return c.submissions, nil
}

type fakePaths struct {
	rows []model.CollectionPath
}

func (p *fakePaths) ListByCollection(context.Context, string) ([]model.CollectionPath, error) {
	return p.rows, nil
}

type fakeExports struct {
	requests map[string]model.ExportRequest
	claimed  map[string]bool
	updates  []model.ExportResult
}

func newFakeExports(reqs ...model.ExportRequest) *fakeExports {
	e := &fakeExports{
		requests: make(map[string]model.ExportRequest),
		claimed:  make(map[string]bool),
	}
	for _, r := range reqs {
		e.requests[r.ID] = r
	}
	return e
}

func (e *fakeExports) CreateRequest(_ context.Context, req model.ExportRequest) error {
	e.requests[req.ID] = req
	return nil
}

func (e *fakeExports) GetRequest(_ context.Context, id string) (model.ExportRequest, error) {
	req, ok := e.requests[id]
	if !ok {
		return model.ExportRequest{}, errors.New("export request not found")
	}
	return req, nil
}

func (e *fakeExports) ClaimResult(_ context.Context, id, _ string, _ time.Time) (bool, error) {
	if e.claimed[id] {
		return false, nil
	}
	e.claimed[id] = true
	return true, nil
}

func (e *fakeExports) UpdateResult(_ context.Context, result model.ExportResult) error {
	copied := result
	copied.Paths = append([]string(nil), result.Paths...)
	e.updates = append(e.updates, copied)
	return nil
}

func (e *fakeExports) ListRequestsByCollection(context.Context, string) ([]model.ExportRequest, error) {
	var out []model.ExportRequest
	for _, r := range e.requests {
		out = append(out, r)
	}
	return out, nil
}

func (e *fakeExports) ListResultsByCollection(context.Context, string) ([]model.ExportResult, error) {
	return nil, nil
}

type resolveCall struct {
	imageIDs      []string
	width, height int
}

// fakeResolver materializes a tiny placeholder tile per image id.
type fakeResolver struct {
	dir     string
	calls   []resolveCall
	failID  string
	flushed bool
}

func (r *fakeResolver) ResolveAll(_ context.Context, imageIDs []string, width, height int) ([]string, error) {
	for _, id := range imageIDs {
		if id == r.failID {
			return nil, fmt.Errorf("resolve %s: source image missing", id)
		}
	}
	r.calls = append(r.calls, resolveCall{append([]string(nil), imageIDs...), width, height})
	files := make([]string, len(imageIDs))
	for i, id := range imageIDs {
		name := filepath.Join(r.dir, fmt.Sprintf("%s-%dx%d.png", id, width, height))
		if err := writePNG(name, 1, 1); err != nil {
			return nil, err
		}
		files[i] = name
	}
	return files, nil
}

func (r *fakeResolver) Flush() { r.flushed = true }

type upload struct {
	key         string
	contentType string
	body        []byte
}

type fakeBucket struct {
	uploads []upload
}

func (b *fakeBucket) Put(_ context.Context, key string, src io.Reader, _ int64, contentType string) error {
	body, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	b.uploads = append(b.uploads, upload{key, contentType, body})
	return nil
}

type encodeCall struct {
	dir    string
	frames int
}

// fakeEncoder records each call and drops a marker video in place of the
// real ffmpeg output.
type fakeEncoder struct {
	calls   []encodeCall
	failOn  int
	encoded int
}

func (e *fakeEncoder) Encode(_ context.Context, dir, _, output string) error {
	e.encoded++
	if e.failOn > 0 && e.encoded == e.failOn {
		return errors.New("encode failed")
	}
	frames, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return err
	}
	e.calls = append(e.calls, encodeCall{dir, len(frames)})
	return os.WriteFile(filepath.Join(dir, output), []byte("mp4"), 0o644)
}

type fakeInvalidator struct {
	paths []string
}

func (i *fakeInvalidator) Invalidate(_ context.Context, paths ...string) error {
	i.paths = append(i.paths, paths...)
	return nil
}

type fakeProducer struct {
	produced []string
	err      error
}

func (p *fakeProducer) Produce(_ context.Context, exportID string) error {
	if p.err != nil {
		return p.err
	}
	p.produced = append(p.produced, exportID)
	return nil
}

func writePNG(name string, w, h int) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(name, buf.Bytes(), 0o644)
}

type fixture struct {
	svc      *Service
	catalog  *fakeCatalog
	paths    *fakePaths
	exports  *fakeExports
	resolver *fakeResolver
	bucket   *fakeBucket
	encoder  *fakeEncoder
	inv      *fakeInvalidator
	producer *fakeProducer
}

// newFixture builds a collection with one author per submission, a root
// row holding s1, a "hall" folder holding s2 plus one stale id, and an
// unassigned s3.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog := &fakeCatalog{
		collection: model.Collection{ID: "col", Name: "Spring"},
		authors: []model.Author{
			{ID: "a1", CollectionID: "col", Name: "Ana", ImageID: "av1"},
			{ID: "a2", CollectionID: "col", Name: "Ben", ImageID: "av2"},
		},
		submissions: []model.Submission{
			{ID: "s1", CollectionID: "col", AuthorID: "a1", ImageID: "i1", Width: 1920, Height: 1080},
			{ID: "s2", CollectionID: "col", AuthorID: "a2", ImageID: "i2", Width: 1080, Height: 1920},
			{ID: "s3", CollectionID: "col", AuthorID: "a1", ImageID: "i3", Width: 1920, Height: 1920},
		},
	}
	paths := &fakePaths{rows: []model.CollectionPath{
		{CollectionID: "col", Path: "", SubmissionIDs: []string{"s1"}, Sequence: 0},
		{CollectionID: "col", Path: "hall", SubmissionIDs: []string{"s2", "gone"}, Sequence: 1},
	}}
	exports := newFakeExports(model.ExportRequest{ID: "exp-1", CollectionID: "col", Created: time.Now()})

	f := &fixture{
		catalog:  catalog,
		paths:    paths,
		exports:  exports,
		resolver: &fakeResolver{dir: t.TempDir()},
		bucket:   &fakeBucket{},
		encoder:  &fakeEncoder{},
		inv:      &fakeInvalidator{},
		producer: &fakeProducer{},
	}
	f.svc = NewService(catalog, paths, exports, f.resolver, f.bucket,
		f.encoder, f.inv, f.producer, t.TempDir())
	return f
}

func TestTrigger(t *testing.T) {
	f := newFixture(t)

	req, err := f.svc.Trigger(context.Background(), "col")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if req.ID == "" || req.CollectionID != "col" {
		t.Errorf("unexpected request: %+v", req)
	}
	if _, ok := f.exports.requests[req.ID]; !ok {
		t.Error("request not persisted")
	}
	if !reflect.DeepEqual(f.producer.produced, []string{req.ID}) {
		t.Errorf("produced = %v, want [%s]", f.producer.produced, req.ID)
	}
}

func TestTriggerUnknownCollection(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Trigger(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown collection")
	}
	if len(f.producer.produced) != 0 {
		t.Error("unknown collection still enqueued")
	}
}

func TestRunExportsEveryPath(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Run(context.Background(), "exp-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(f.exports.updates) != 3 {
		t.Fatalf("updates = %d, want 3", len(f.exports.updates))
	}
	first, second, final := f.exports.updates[0], f.exports.updates[1], f.exports.updates[2]
	if first.Status != model.ExportStatusProcess || !reflect.DeepEqual(first.Paths, []string{""}) {
		t.Errorf("first checkpoint = %s %v", first.Status, first.Paths)
	}
	if second.Status != model.ExportStatusProcess || !reflect.DeepEqual(second.Paths, []string{"", "hall"}) {
		t.Errorf("second checkpoint = %s %v", second.Status, second.Paths)
	}
	if final.Status != model.ExportStatusComplete || final.EndTime == nil {
		t.Errorf("final = %s end=%v", final.Status, final.EndTime)
	}

	var keys []string
	for _, u := range f.bucket.uploads {
		keys = append(keys, u.key)
	}
	wantKeys := []string{
		"collection/col/latest.mp4",
		"collection/col/latest.json",
		"collection/col/hall/latest.mp4",
		"collection/col/hall/latest.json",
	}
	if !reflect.DeepEqual(keys, wantKeys) {
		t.Errorf("uploaded keys = %v, want %v", keys, wantKeys)
	}

	wantInvalidated := []string{
		"/collection/col/latest.mp4",
		"/collection/col/latest.json",
		"/collection/col/hall/latest.mp4",
		"/collection/col/hall/latest.json",
	}
	if !reflect.DeepEqual(f.inv.paths, wantInvalidated) {
		t.Errorf("invalidated = %v, want %v", f.inv.paths, wantInvalidated)
	}

	// Root video: one submission page plus one author page; hall likewise.
	if len(f.encoder.calls) != 2 {
		t.Fatalf("encoder calls = %d, want 2", len(f.encoder.calls))
	}
	if f.encoder.calls[0].frames != 2 || f.encoder.calls[1].frames != 2 {
		t.Errorf("frames per call = %d, %d, want 2, 2",
			f.encoder.calls[0].frames, f.encoder.calls[1].frames)
	}

	if !f.resolver.flushed {
		t.Error("resolver not flushed")
	}
}

func TestRunManifestContents(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Run(context.Background(), "exp-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var rootManifest model.ExportRecord
	for _, u := range f.bucket.uploads {
		if u.key == "collection/col/latest.json" {
			if u.contentType != "application/json" {
				t.Errorf("manifest content type = %s", u.contentType)
			}
			if err := json.Unmarshal(u.body, &rootManifest); err != nil {
				t.Fatalf("unmarshal manifest: %v", err)
			}
		}
	}

	if rootManifest.ExportID != "exp-1" || rootManifest.Path != "" {
		t.Errorf("manifest header = %q %q", rootManifest.ExportID, rootManifest.Path)
	}

	// Root scope: explicit root list, then hall's list, then orphans.
	// The stale id is dropped.
	var ids, folders []string
	for _, sub := range rootManifest.Submissions {
		ids = append(ids, sub.ID)
		folders = append(folders, sub.Path)
	}
	if !reflect.DeepEqual(ids, []string{"s1", "s2", "s3"}) {
		t.Errorf("submission ids = %v", ids)
	}
	if !reflect.DeepEqual(folders, []string{"", "hall", ""}) {
		t.Errorf("submission folders = %v", folders)
	}
	for i, sub := range rootManifest.Submissions {
		if sub.Sequence != i {
			t.Errorf("submission %s sequence = %d, want %d", sub.ID, sub.Sequence, i)
		}
	}

	if len(rootManifest.Authors) != 2 {
		t.Fatalf("authors = %d, want 2", len(rootManifest.Authors))
	}
	if rootManifest.Authors[0].ID != "a1" || rootManifest.Authors[1].ID != "a2" {
		t.Errorf("author order = %s, %s", rootManifest.Authors[0].ID, rootManifest.Authors[1].ID)
	}
	for _, a := range rootManifest.Authors {
		if a.Width != model.AuthorImageWidth || a.Height != model.AuthorImageHeight {
			t.Errorf("author %s size = %dx%d", a.ID, a.Width, a.Height)
		}
	}
	if rootManifest.AuthorPage != 1 {
		t.Errorf("authorPage = %d, want 1", rootManifest.AuthorPage)
	}
}

func TestRunResolvesTilesPerPage(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Run(context.Background(), "exp-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []resolveCall{
		{[]string{"i1", "i2", "i3"}, model.SubmissionTileWidth, model.SubmissionTileHeight},
		{[]string{"av1", "av2"}, model.AuthorTileWidth, model.AuthorTileHeight},
		{[]string{"i2"}, model.SubmissionTileWidth, model.SubmissionTileHeight},
		{[]string{"av2"}, model.AuthorTileWidth, model.AuthorTileHeight},
	}
	if !reflect.DeepEqual(f.resolver.calls, want) {
		t.Errorf("resolve calls = %+v, want %+v", f.resolver.calls, want)
	}
}

func TestRunSkipsRedelivery(t *testing.T) {
	f := newFixture(t)
	f.exports.claimed["exp-1"] = true

	if err := f.svc.Run(context.Background(), "exp-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.exports.updates) != 0 {
		t.Errorf("redelivery wrote %d updates", len(f.exports.updates))
	}
	if len(f.bucket.uploads) != 0 {
		t.Errorf("redelivery uploaded %d objects", len(f.bucket.uploads))
	}
}

func TestRunUnknownExportID(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Run(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown export id")
	}
	if len(f.exports.updates) != 0 {
		t.Errorf("unknown id wrote %d updates", len(f.exports.updates))
	}
}

func TestRunPersistsFailure(t *testing.T) {
	f := newFixture(t)
	f.encoder.failOn = 2

	err := f.svc.Run(context.Background(), "exp-1")
	if err == nil {
		t.Fatal("expected error")
	}

	final := f.exports.updates[len(f.exports.updates)-1]
	if final.Status != model.ExportStatusError {
		t.Errorf("final status = %s, want error", final.Status)
	}
	if !strings.Contains(final.Message, "encode failed") {
		t.Errorf("message = %q", final.Message)
	}
	if final.EndTime == nil {
		t.Error("end time not set")
	}
	// The first path survived as a durable checkpoint.
	if !reflect.DeepEqual(final.Paths, []string{""}) {
		t.Errorf("paths = %v, want [\"\"]", final.Paths)
	}
}

func TestRunMissingSourceFailsRun(t *testing.T) {
	f := newFixture(t)
	f.resolver.failID = "i2"

	err := f.svc.Run(context.Background(), "exp-1")
	if err == nil {
		t.Fatal("expected error")
	}

	final := f.exports.updates[len(f.exports.updates)-1]
	if final.Status != model.ExportStatusError {
		t.Errorf("final status = %s, want error", final.Status)
	}
	// The root page containing the missing source never finished, so
	// nothing was uploaded.
	if len(f.bucket.uploads) != 0 {
		t.Errorf("uploaded %d objects after fatal resolve", len(f.bucket.uploads))
	}
	if !f.resolver.flushed {
		t.Error("resolver not flushed on failure")
	}
}

func TestRunSkipsEmptyFolder(t *testing.T) {
	f := newFixture(t)
	f.paths.rows = append(f.paths.rows,
		model.CollectionPath{CollectionID: "col", Path: "empty", SubmissionIDs: []string{}, Sequence: 2})

	if err := f.svc.Run(context.Background(), "exp-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := f.exports.updates[len(f.exports.updates)-1]
	if final.Status != model.ExportStatusComplete {
		t.Fatalf("final status = %s", final.Status)
	}
	if !reflect.DeepEqual(final.Paths, []string{"", "hall"}) {
		t.Errorf("paths = %v, empty folder should be skipped", final.Paths)
	}
	for _, u := range f.bucket.uploads {
		if strings.Contains(u.key, "/empty/") {
			t.Errorf("empty folder uploaded %s", u.key)
		}
	}
}

func TestInvalidatorNoop(t *testing.T) {
	if err := (invalidator.Noop{}).Invalidate(context.Background(), "/a"); err != nil {
		t.Fatalf("noop invalidate: %v", err)
	}
}
