package shard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jonwraymond/pagesearch/cache"
	"github.com/jonwraymond/pagesearch/content"
)

// fakeLoader serves fixed content and counts invocations.
type fakeLoader struct {
	mu       sync.Mutex
	calls    int
	contents []content.PageSearchContent
	err      error
}

func (f *fakeLoader) LoadContent(ctx context.Context, doc Document) ([]content.PageSearchContent, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.contents, nil
}

func textPages(texts ...string) []content.PageSearchContent {
	out := make([]content.PageSearchContent, len(texts))
	for i, s := range texts {
		out[i] = content.PageSearchContent{RawText: s, NormalizedText: s}
	}
	return out
}

func testDoc(id string, pages int) Document {
	return Document{ID: id, PageCount: pages, ModifiedAtMs: 1111}
}

func TestObtainBuildsIndexOnce(t *testing.T) {
	loader := &fakeLoader{contents: textPages("adaptive flow", "reading pace")}
	m := NewManager(t.TempDir(), nil, loader, 0, nil)
	defer m.CloseAll()

	shard, err := m.Obtain(context.Background(), testDoc("doc", 2), false)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if shard.Index() == nil {
		t.Fatal("expected an index")
	}

	count, err := shard.Index().DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if count != 2 {
		t.Errorf("doc count = %d, want 2", count)
	}
	if got := m.Stats().Rebuilds; got != 1 {
		t.Errorf("rebuilds = %d, want 1", got)
	}
}

func TestObtainReusesLiveShard(t *testing.T) {
	loader := &fakeLoader{contents: textPages("one page")}
	m := NewManager(t.TempDir(), nil, loader, 0, nil)
	defer m.CloseAll()

	first, err := m.Obtain(context.Background(), testDoc("doc", 1), false)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	second, err := m.Obtain(context.Background(), testDoc("doc", 1), false)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}

	if first != second {
		t.Error("expected the live shard to be reused")
	}
	if loader.calls != 1 {
		t.Errorf("loader called %d times, want 1", loader.calls)
	}
	stats := m.Stats()
	if stats.Rebuilds != 1 || stats.LiveReuses != 1 {
		t.Errorf("stats = %+v, want 1 rebuild and 1 live reuse", stats)
	}
}

func TestObtainReopensUnchangedIndexWithoutRewrite(t *testing.T) {
	dir := t.TempDir()
	loader := &fakeLoader{contents: textPages("adaptive flow", "reading pace")}

	m := NewManager(dir, nil, loader, 0, nil)
	if _, err := m.Obtain(context.Background(), testDoc("doc", 2), false); err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	m.CloseAll()

	// A fresh manager over the same directory must reopen, not rewrite.
	m2 := NewManager(dir, nil, loader, 0, nil)
	shard, err := m2.Obtain(context.Background(), testDoc("doc", 2), false)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	defer m2.CloseAll()

	if shard.Index() == nil {
		t.Fatal("expected an index")
	}
	stats := m2.Stats()
	if stats.Rebuilds != 0 {
		t.Errorf("rebuilds = %d, want 0 (reuse invariant)", stats.Rebuilds)
	}
	if stats.Reopens != 1 {
		t.Errorf("reopens = %d, want 1", stats.Reopens)
	}
}

func TestObtainRewritesOnDocCountMismatch(t *testing.T) {
	dir := t.TempDir()
	loader := &fakeLoader{contents: textPages("a", "b", "c")}

	m := NewManager(dir, nil, loader, 0, nil)
	if _, err := m.Obtain(context.Background(), testDoc("doc", 3), false); err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	m.CloseAll()

	// The document lost a page: stored index no longer matches.
	loader.contents = textPages("a", "b")
	m2 := NewManager(dir, nil, loader, 0, nil)
	shard, err := m2.Obtain(context.Background(), testDoc("doc", 2), false)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	defer m2.CloseAll()

	count, _ := shard.Index().DocCount()
	if count != 2 {
		t.Errorf("doc count = %d, want 2 after rewrite", count)
	}
	if got := m2.Stats().Rebuilds; got != 1 {
		t.Errorf("rebuilds = %d, want 1", got)
	}
}

func TestObtainForceRebuild(t *testing.T) {
	loader := &fakeLoader{contents: textPages("one page")}
	m := NewManager(t.TempDir(), nil, loader, 0, nil)

	if _, err := m.Obtain(context.Background(), testDoc("doc", 1), false); err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if _, err := m.Obtain(context.Background(), testDoc("doc", 1), true); err != nil {
		t.Fatalf("forced Obtain: %v", err)
	}
	defer m.CloseAll()

	if got := m.Stats().Rebuilds; got != 2 {
		t.Errorf("rebuilds = %d, want 2", got)
	}
	if loader.calls != 2 {
		t.Errorf("loader calls = %d, want 2", loader.calls)
	}
}

func TestPageCapBypassesIndexing(t *testing.T) {
	dir := t.TempDir()
	cacheDir := t.TempDir()
	store := cache.New(cacheDir, nil)
	loader := &fakeLoader{contents: textPages("page")}

	// Seed artifacts under the small-doc identity first.
	m := NewManager(dir, store, loader, 10, nil)
	if _, err := m.Obtain(context.Background(), testDoc("doc", 1), false); err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if err := store.Save("doc", 1111, loader.contents); err != nil {
		t.Fatalf("Save: %v", err)
	}
	m.CloseAll()

	// The document grew past the cap: artifacts must be dropped and the
	// shard degrades to indexless.
	m2 := NewManager(dir, store, loader, 10, nil)
	shard, err := m2.Obtain(context.Background(), testDoc("doc", 11), false)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if shard.Index() != nil {
		t.Error("capped document must be indexless")
	}
	if _, ok := store.Load("doc", 1, 1111); ok {
		t.Error("cache survived the cap bypass")
	}
	indexDir := filepath.Join(dir, content.DocumentKey("doc"), "index.bleve")
	if _, err := os.Stat(indexDir); !os.IsNotExist(err) {
		t.Error("index directory survived the cap bypass")
	}
	if got := m2.Stats().CapBypasses; got != 1 {
		t.Errorf("cap bypasses = %d, want 1", got)
	}
}

func TestObtainEmptyContentIsIndexless(t *testing.T) {
	loader := &fakeLoader{contents: nil}
	m := NewManager(t.TempDir(), nil, loader, 0, nil)

	shard, err := m.Obtain(context.Background(), testDoc("doc", 0), false)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if shard.Index() != nil {
		t.Error("empty content must not produce an index")
	}
}

func TestObtainPropagatesLoaderCancellation(t *testing.T) {
	loader := &fakeLoader{err: context.Canceled}
	m := NewManager(t.TempDir(), nil, loader, 0, nil)

	_, err := m.Obtain(context.Background(), testDoc("doc", 1), false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestReleaseConcurrentWithIndexReads(t *testing.T) {
	loader := &fakeLoader{contents: textPages("one page")}
	m := NewManager(t.TempDir(), nil, loader, 0, nil)

	shard, err := m.Obtain(context.Background(), testDoc("doc", 1), false)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}

	// Readers keep pulling the index while another goroutine tears the
	// shard down. A reader that wins the race gets a usable reference;
	// after teardown it gets nil or a query error, never a panic.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			if idx := shard.Index(); idx != nil {
				_, _ = idx.DocCount()
			}
		}
	}()

	m.Release("doc")
	<-done

	if shard.Index() != nil {
		t.Error("index still set after release")
	}
}

func TestConcurrentObtainSameDocument(t *testing.T) {
	loader := &fakeLoader{contents: textPages("one page")}
	m := NewManager(t.TempDir(), nil, loader, 0, nil)
	defer m.CloseAll()

	var wg sync.WaitGroup
	shards := make([]*Shard, 8)
	for i := range shards {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Obtain(context.Background(), testDoc("doc", 1), false)
			if err != nil {
				t.Errorf("Obtain: %v", err)
			}
			shards[i] = s
		}()
	}
	wg.Wait()

	for i := 1; i < len(shards); i++ {
		if shards[i] != shards[0] {
			t.Fatal("concurrent obtains returned different shards")
		}
	}
	if got := m.Stats().Rebuilds; got != 1 {
		t.Errorf("rebuilds = %d, want exactly 1", got)
	}
}
