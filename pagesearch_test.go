package pagesearch

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/pagesearch/content"
	"github.com/jonwraymond/pagesearch/extract"
	"github.com/jonwraymond/pagesearch/ocr"
)

type stubSource struct{}

func (stubSource) Open() (io.ReadCloser, error)   { return io.NopCloser(strings.NewReader("")), nil }
func (stubSource) ModifiedAt() (time.Time, error) { return time.UnixMilli(1111), nil }

// fakeExtractor serves a fixed three-page document: page 0 has a full
// text layer, page 1 is scanned (empty), page 2 has sidecar text but no
// geometry.
type fakeExtractor struct {
	mu    sync.Mutex
	calls int

	// blockFirst, when set, stalls the first call until the context ends.
	blockFirst chan struct{}

	// delay, when set, stalls every call briefly.
	delay time.Duration
}

func (f *fakeExtractor) Extract(ctx context.Context, _ extract.ByteSource, pageCount int) ([]content.PageSearchContent, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()

	if first && f.blockFirst != nil {
		select {
		case <-f.blockFirst:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([]content.PageSearchContent, pageCount)
	if pageCount > 0 {
		out[0] = content.PageSearchContent{
			RawText:        "Adaptive Flow",
			NormalizedText: "adaptive flow",
			Runs: []content.TextRun{
				{Text: "Adaptive", Bounds: []content.Rect{{Left: 72, Top: 100, Right: 200, Bottom: 120}}},
				{Text: "Flow", Bounds: []content.Rect{{Left: 210, Top: 100, Right: 260, Bottom: 120}}},
			},
			CoordinateWidth:  612,
			CoordinateHeight: 792,
		}
	}
	if pageCount > 2 {
		out[2] = content.PageSearchContent{
			RawText:        "Summary notes",
			NormalizedText: "summary notes",
		}
	}
	return out, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRender struct{}

func (fakeRender) RenderPage(ctx context.Context, pageIndex, targetWidth int) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 1024, 1326)), nil
}

// fakeEngine recognizes the same line on every page and counts closes.
type fakeEngine struct {
	mu     sync.Mutex
	closed int
}

func (f *fakeEngine) Recognize(ctx context.Context, img image.Image) (ocr.Result, error) {
	return ocr.Result{
		Text: "Reading pace",
		Lines: []ocr.Line{
			{Text: "Reading pace", Bounds: content.Rect{Left: 100, Top: 100, Right: 600, Bottom: 140}},
		},
	}, nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func testSession(id string, pages int) Session {
	return Session{ID: id, PageCount: pages, Source: stubSource{}, ModifiedAtMs: 1111}
}

func newTestCoordinator(t *testing.T, cfg Config, ex Extractor, engine ocr.Engine) *Coordinator {
	t.Helper()
	if cfg.CacheDir == "" {
		cfg.CacheDir = t.TempDir()
	}
	if cfg.IndexDir == "" {
		cfg.IndexDir = t.TempDir()
	}
	c, err := New(Options{
		Config:    cfg,
		Render:    fakeRender{},
		Engine:    engine,
		Extractor: ex,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Dispose)
	return c
}

func mustPrepare(t *testing.T, c *Coordinator, session Session) {
	t.Helper()
	p := c.Prepare(session)
	if p == nil {
		t.Fatal("Prepare returned nil")
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func inUnitRange(r content.Rect) bool {
	return r.Left >= 0 && r.Top >= 0 && r.Right <= 1 && r.Bottom <= 1 && !r.Empty()
}

func TestPrepareAndSearch(t *testing.T) {
	ex := &fakeExtractor{}
	c := newTestCoordinator(t, Config{}, ex, &fakeEngine{})
	session := testSession("doc", 3)
	mustPrepare(t, c, session)

	// Text-layer page: precise geometry.
	results, err := c.Search(context.Background(), session, "Adaptive Flow")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].PageIndex != 0 {
		t.Fatalf("results = %+v, want one hit on page 0", results)
	}
	for _, m := range results[0].Matches {
		if len(m.BoundingBoxes) == 0 {
			t.Fatal("match without bounding boxes")
		}
		for _, r := range m.BoundingBoxes {
			if !inUnitRange(r) {
				t.Errorf("box %+v outside the unit page", r)
			}
		}
	}

	// OCR'd page: geometry from recognized lines.
	results, err = c.Search(context.Background(), session, "pace")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].PageIndex != 1 {
		t.Fatalf("results = %+v, want one hit on page 1", results)
	}
	if boxes := results[0].Matches[0].BoundingBoxes; len(boxes) != 1 || !inUnitRange(boxes[0]) {
		t.Errorf("boxes = %+v, want one unit-range box", boxes)
	}

	// Sidecar-text page: geometry never lines up with the query, so the
	// counted fallback highlights the whole page.
	results, err = c.Search(context.Background(), session, "summary")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].PageIndex != 2 {
		t.Fatalf("results = %+v, want one hit on page 2", results)
	}
	if boxes := results[0].Matches[0].BoundingBoxes; len(boxes) != 1 || boxes[0] != content.UnitRect() {
		t.Errorf("boxes = %+v, want the unit rect fallback", boxes)
	}

	// No hits.
	results, err = c.Search(context.Background(), session, "nonexistent")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want none", results)
	}
}

func TestSearchJoinsInFlightPreparation(t *testing.T) {
	ex := &fakeExtractor{delay: 50 * time.Millisecond}
	c := newTestCoordinator(t, Config{}, ex, &fakeEngine{})
	session := testSession("doc", 3)

	if p := c.Prepare(session); p == nil {
		t.Fatal("Prepare returned nil")
	}
	results, err := c.Search(context.Background(), session, "flow")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].PageIndex != 0 {
		t.Fatalf("results = %+v, want one hit on page 0", results)
	}
	if got := ex.callCount(); got != 1 {
		t.Errorf("extractor called %d times, want 1 (search must join, not race)", got)
	}
}

func TestSearchBlankQuery(t *testing.T) {
	ex := &fakeExtractor{}
	c := newTestCoordinator(t, Config{}, ex, nil)

	results, err := c.Search(context.Background(), testSession("doc", 3), "  !!\t ")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("results = %+v, want nil", results)
	}
	if got := ex.callCount(); got != 0 {
		t.Errorf("extractor called %d times, want 0 for a blank query", got)
	}
}

func TestPrepareReplacesPrevious(t *testing.T) {
	ex := &fakeExtractor{blockFirst: make(chan struct{})}
	c := newTestCoordinator(t, Config{}, ex, &fakeEngine{})

	first := c.Prepare(testSession("doc-a", 3))
	if first == nil {
		t.Fatal("first Prepare returned nil")
	}
	second := c.Prepare(testSession("doc-b", 3))
	if second == nil {
		t.Fatal("second Prepare returned nil")
	}

	if err := first.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("first prep err = %v, want context.Canceled", err)
	}
	if err := second.Wait(context.Background()); err != nil {
		t.Errorf("second prep err = %v, want nil", err)
	}

	results, err := c.Search(context.Background(), testSession("doc-b", 3), "flow")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %+v, want the replacement document searchable", results)
	}
}

func TestPageCapSkipsPreparation(t *testing.T) {
	ex := &fakeExtractor{}
	c := newTestCoordinator(t, Config{PageCap: 5}, ex, nil)
	session := testSession("huge", 10)

	if p := c.Prepare(session); p != nil {
		t.Fatal("Prepare over the cap must return nil")
	}
	results, err := c.Search(context.Background(), session, "flow")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want none for a capped document", results)
	}
	if got := ex.callCount(); got != 0 {
		t.Errorf("extractor called %d times, want 0 for a capped document", got)
	}
	if got := c.Stats().CapBypasses; got != 1 {
		t.Errorf("cap bypasses = %d, want 1", got)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	ex := &fakeExtractor{blockFirst: make(chan struct{})}
	engine := &fakeEngine{}
	c := newTestCoordinator(t, Config{}, ex, engine)

	if p := c.Prepare(testSession("doc", 3)); p == nil {
		t.Fatal("Prepare returned nil")
	}
	c.Dispose()
	c.Dispose()

	if engine.closed != 1 {
		t.Errorf("engine closed %d times, want exactly 1", engine.closed)
	}
	if p := c.Prepare(testSession("doc", 3)); p != nil {
		t.Error("Prepare after Dispose must return nil")
	}
	results, err := c.Search(context.Background(), testSession("doc", 3), "flow")
	if err != nil || results != nil {
		t.Errorf("Search after Dispose = (%+v, %v), want (nil, nil)", results, err)
	}
	if c.State().InProgress {
		t.Error("state still in progress after Dispose")
	}
}

func TestDisposeDuringSearch(t *testing.T) {
	ex := &fakeExtractor{}
	c := newTestCoordinator(t, Config{}, ex, &fakeEngine{})
	session := testSession("doc", 3)
	mustPrepare(t, c, session)

	// Disposal is allowed from any goroutine while searches are running.
	// Searches racing the teardown may come back empty, but they must not
	// error or panic.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if _, err := c.Search(context.Background(), session, "flow"); err != nil {
				t.Errorf("Search during dispose: %v", err)
				return
			}
		}
	}()

	c.Dispose()
	<-done
}

// wideExtractor serves documents where every page carries the same text,
// so a single query can hit all of them.
type wideExtractor struct{}

func (wideExtractor) Extract(ctx context.Context, _ extract.ByteSource, pageCount int) ([]content.PageSearchContent, error) {
	pages := make([]content.PageSearchContent, pageCount)
	for i := range pages {
		pages[i] = content.PageSearchContent{
			RawText:        "Shared marker",
			NormalizedText: "shared marker",
			Runs: []content.TextRun{
				{Text: "Shared marker", Bounds: []content.Rect{{Left: 72, Top: 90, Right: 240, Bottom: 112}}},
			},
			CoordinateWidth:  612,
			CoordinateHeight: 792,
		}
	}
	return pages, nil
}

func TestSearchCoversEveryPage(t *testing.T) {
	// More pages than any fixed request size that sat below the page cap;
	// every one of them matches.
	const pageCount = 1050
	c := newTestCoordinator(t, Config{}, wideExtractor{}, nil)
	session := testSession("wide", pageCount)
	mustPrepare(t, c, session)

	results, err := c.Search(context.Background(), session, "marker")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != pageCount {
		t.Fatalf("got %d result pages, want %d", len(results), pageCount)
	}
	for i, r := range results {
		if r.PageIndex != i {
			t.Fatalf("results[%d].PageIndex = %d, want ascending page order", i, r.PageIndex)
		}
	}
}

func TestRebuildForcesRewrite(t *testing.T) {
	ex := &fakeExtractor{}
	c := newTestCoordinator(t, Config{}, ex, &fakeEngine{})
	session := testSession("doc", 3)
	mustPrepare(t, c, session)

	if err := c.Rebuild(context.Background(), session); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if got := c.Stats().Rebuilds; got != 2 {
		t.Errorf("rebuilds = %d, want 2", got)
	}
	if got := ex.callCount(); got != 2 {
		t.Errorf("extractor calls = %d, want 2 (cache dropped before rebuild)", got)
	}
}

func TestArtifactsSurviveCoordinatorRestart(t *testing.T) {
	cacheDir := t.TempDir()
	indexDir := t.TempDir()
	session := testSession("doc", 3)

	first := newTestCoordinator(t, Config{CacheDir: cacheDir, IndexDir: indexDir}, &fakeExtractor{}, &fakeEngine{})
	mustPrepare(t, first, session)
	first.Dispose()

	// A fresh coordinator over the same directories must reuse both the
	// content cache and the on-disk index.
	ex := &fakeExtractor{}
	second := newTestCoordinator(t, Config{CacheDir: cacheDir, IndexDir: indexDir}, ex, &fakeEngine{})
	mustPrepare(t, second, session)

	if got := ex.callCount(); got != 0 {
		t.Errorf("extractor called %d times, want 0 (content cache hit)", got)
	}
	stats := second.Stats()
	if stats.Rebuilds != 0 || stats.Reopens != 1 {
		t.Errorf("stats = %+v, want a reopen and no rebuild", stats)
	}

	results, err := second.Search(context.Background(), session, "pace")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].PageIndex != 1 {
		t.Errorf("results = %+v, want the cached OCR page searchable", results)
	}
}

func TestStateLifecycle(t *testing.T) {
	ex := &fakeExtractor{}
	c := newTestCoordinator(t, Config{}, ex, &fakeEngine{})
	session := testSession("doc", 3)

	var mu sync.Mutex
	var phases []Phase
	var sawIdle bool
	unsubscribe := c.OnStateChange(func(s IndexingState) {
		mu.Lock()
		defer mu.Unlock()
		if s.InProgress {
			phases = append(phases, s.Phase)
		} else {
			sawIdle = true
		}
	})
	defer unsubscribe()

	mustPrepare(t, c, session)

	mu.Lock()
	defer mu.Unlock()
	want := map[Phase]bool{PhaseExtractingText: false, PhaseApplyingOCR: false, PhaseWritingIndex: false}
	for _, p := range phases {
		if _, ok := want[p]; ok {
			want[p] = true
		}
	}
	for phase, seen := range want {
		if !seen {
			t.Errorf("never observed phase %s", phase)
		}
	}
	if !sawIdle {
		t.Error("never observed the idle reset")
	}
	if c.State().InProgress {
		t.Error("state still in progress after preparation finished")
	}
}
