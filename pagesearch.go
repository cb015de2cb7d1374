package pagesearch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/jonwraymond/pagesearch/cache"
	"github.com/jonwraymond/pagesearch/content"
	"github.com/jonwraymond/pagesearch/extract"
	"github.com/jonwraymond/pagesearch/ocr"
	"github.com/jonwraymond/pagesearch/shard"
)

// Session identifies one open document. ID must be stable across opens of
// the same document (a canonical URI works well); ModifiedAtMs
// invalidates cached content when the underlying bytes change.
type Session struct {
	ID           string
	PageCount    int
	Source       extract.ByteSource
	ModifiedAtMs int64
}

// NewSession probes src and returns a ready-to-prepare session. Callers
// that already know the page count and modification time can build a
// Session directly instead.
func NewSession(ctx context.Context, id string, src extract.ByteSource) (Session, error) {
	res, err := extract.Probe(ctx, src, 0)
	if err != nil {
		return Session{}, err
	}
	return Session{
		ID:           id,
		PageCount:    res.PageCount,
		Source:       src,
		ModifiedAtMs: res.ModifiedAtMs,
	}, nil
}

// Extractor produces per-page content from a byte source. The default is
// a PDFExtractor; tests and non-PDF formats substitute their own.
type Extractor interface {
	Extract(ctx context.Context, src extract.ByteSource, pageCount int) ([]content.PageSearchContent, error)
}

// Options configures a Coordinator. Only the zero value of every field is
// required to be meaningful: a Coordinator with no render provider simply
// skips the OCR fallback.
type Options struct {
	Config Config

	// Render rasterizes pages for the OCR fallback. Nil disables OCR and
	// region detection.
	Render ocr.RenderProvider

	// Engine recognizes text in rendered pages. Engines that implement
	// io.Closer are closed on Dispose.
	Engine ocr.Engine

	// Extractor overrides the text-layer extractor. Nil means PDFExtractor.
	Extractor Extractor

	// IndexingLane serializes index builds across coordinators sharing it.
	// Nil means a private single-worker lane.
	IndexingLane *semaphore.Weighted

	Logger *slog.Logger
}

// Coordinator owns the whole pipeline for any number of documents: one
// content cache, one shard manager, one indexing lane, and at most one
// in-flight preparation.
type Coordinator struct {
	cfg       Config
	logger    *slog.Logger
	extractor Extractor
	render    ocr.RenderProvider
	engine    ocr.Engine

	store  *cache.Store
	shards *shard.Manager
	lane   *semaphore.Weighted
	state  stateTracker

	mu       sync.Mutex
	prep     *Preparation
	disposed bool
}

// New builds a Coordinator. Missing directories default under the user
// cache dir.
func New(opts Options) (*Coordinator, error) {
	cfg := opts.Config
	cfg.applyDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.IndexDir == "" || cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		root := filepath.Join(base, "pagesearch")
		if cfg.IndexDir == "" {
			cfg.IndexDir = filepath.Join(root, "index")
		}
		if cfg.CacheDir == "" {
			cfg.CacheDir = filepath.Join(root, "content")
		}
	}

	extractor := opts.Extractor
	if extractor == nil {
		extractor = &extract.PDFExtractor{ReadTimeout: cfg.ReadTimeout, Logger: logger}
	}

	lane := opts.IndexingLane
	if lane == nil {
		lane = semaphore.NewWeighted(1)
	}

	pageCap := cfg.PageCap
	if pageCap < 0 {
		pageCap = 0
	}

	c := &Coordinator{
		cfg:       cfg,
		logger:    logger,
		extractor: extractor,
		render:    opts.Render,
		engine:    opts.Engine,
		lane:      lane,
	}
	c.store = cache.New(cfg.CacheDir, logger)
	c.shards = shard.NewManager(cfg.IndexDir, c.store, contentLoader{c}, pageCap, logger)
	return c, nil
}

// Preparation is a handle on one background indexing run.
type Preparation struct {
	documentID string
	cancel     context.CancelFunc
	done       chan struct{}
	err        error // written before done closes
}

// Cancel aborts the run. Safe to call more than once.
func (p *Preparation) Cancel() { p.cancel() }

// Wait blocks until the run finishes or ctx is done. A canceled run
// reports context.Canceled; degraded runs report nil.
func (p *Preparation) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prepare starts indexing session's document in the background, replacing
// (and canceling) any preparation already in flight. It returns nil when
// the coordinator is disposed or the document exceeds the page cap; in
// the capped case stored artifacts for the document are dropped
// synchronously via the shard manager.
func (c *Coordinator) Prepare(session Session) *Preparation {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	prev := c.prep
	c.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}

	if c.cfg.PageCap > 0 && session.PageCount > c.cfg.PageCap {
		// Obtain takes the cap bypass path: artifacts dropped, indexless
		// shard installed, no loader call.
		if _, err := c.shards.Obtain(context.Background(), c.document(session), false); err != nil {
			c.logger.Warn("prepare: cap bypass failed", "doc", session.ID, "error", err)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Preparation{documentID: session.ID, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.prep = p
	c.mu.Unlock()

	go func() {
		defer close(p.done)
		p.err = c.runPrepare(ctx, session)
		cancel()

		c.mu.Lock()
		if c.prep == p {
			c.prep = nil
		}
		c.mu.Unlock()
		c.state.reset(session.ID)
	}()
	return p
}

// runPrepare drives one document through the pipeline on the indexing
// lane. A watchdog bounds the whole rebuild; hitting it degrades (the
// document stays unindexed) rather than erroring.
func (c *Coordinator) runPrepare(ctx context.Context, session Session) error {
	c.state.set(session.ID, PhasePreparing, 0)

	if err := c.lane.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.lane.Release(1)

	wctx, cancel := context.WithTimeout(ctx, c.cfg.RebuildTimeout)
	defer cancel()

	_, err := c.shards.Obtain(wctx, c.document(session), false)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("prepare: rebuild watchdog fired",
				"doc", session.ID, "timeout", c.cfg.RebuildTimeout)
			return nil
		}
		c.logger.Warn("prepare: indexing failed", "doc", session.ID, "error", err)
		return nil
	}

	c.state.set(session.ID, PhaseWritingIndex, 1)
	return nil
}

// contentLoader adapts the coordinator's pipeline to the shard manager's
// loader seam without exposing it as public API.
type contentLoader struct{ c *Coordinator }

func (l contentLoader) LoadContent(ctx context.Context, doc shard.Document) ([]content.PageSearchContent, error) {
	return l.c.loadContent(ctx, doc)
}

// loadContent produces final page content: cache hit, or extraction plus
// OCR fallback, persisted back to the cache.
func (c *Coordinator) loadContent(ctx context.Context, doc shard.Document) ([]content.PageSearchContent, error) {
	c.state.set(doc.ID, PhaseExtractingText, 0)

	if cached, ok := c.store.Load(doc.ID, doc.PageCount, doc.ModifiedAtMs); ok {
		c.logger.Debug("prepare: content cache hit", "doc", doc.ID)
		return cached, nil
	}

	contents, err := c.extractor.Extract(ctx, doc.Source, doc.PageCount)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.logger.Warn("prepare: extraction failed", "doc", doc.ID, "error", err)
		contents = make([]content.PageSearchContent, doc.PageCount)
	}
	c.state.set(doc.ID, PhaseExtractingText, 1)

	pending := ocr.PendingRequests(contents)
	if len(pending) > 0 && c.render != nil {
		c.state.set(doc.ID, PhaseApplyingOCR, 0)
		cascade := &ocr.Cascade{
			Render:      c.render,
			Engine:      c.engine,
			TargetWidth: c.cfg.OCRTargetWidth,
			BatchSize:   c.cfg.OCRBatchSize,
			RenderWait:  c.cfg.RenderWait,
			Logger:      c.logger,
			Progress: func(completed, total int) {
				c.state.set(doc.ID, PhaseApplyingOCR, float64(completed)/float64(total))
			},
		}
		if err := cascade.Apply(ctx, contents, pending); err != nil {
			return nil, err
		}
	}

	if len(contents) > 0 {
		if err := c.store.Save(doc.ID, doc.ModifiedAtMs, contents); err != nil {
			c.logger.Warn("prepare: content cache write failed", "doc", doc.ID, "error", err)
		}
	}

	c.state.set(doc.ID, PhaseWritingIndex, 0)
	return contents, nil
}

// Rebuild forces a fresh index for session's document, bypassing both the
// live shard and the on-disk reuse check. It blocks until done; only
// cancellation is returned.
func (c *Coordinator) Rebuild(ctx context.Context, session Session) error {
	if c.isDisposed() {
		return nil
	}
	if err := c.lane.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.lane.Release(1)

	_ = c.store.Delete(session.ID)
	_, err := c.shards.Obtain(ctx, c.document(session), true)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		c.logger.Warn("rebuild failed", "doc", session.ID, "error", err)
	}
	return nil
}

// State returns the current indexing state snapshot.
func (c *Coordinator) State() IndexingState {
	return c.state.get()
}

// OnStateChange registers fn for indexing state updates and returns an
// unsubscribe func. fn runs on pipeline goroutines and must not block.
func (c *Coordinator) OnStateChange(fn func(IndexingState)) func() {
	return c.state.subscribe(fn)
}

// Stats exposes the shard manager's decision counters.
func (c *Coordinator) Stats() shard.Stats {
	return c.shards.Stats()
}

// Release closes the live shard for session's document, keeping its
// on-disk artifacts for later reopening.
func (c *Coordinator) Release(session Session) {
	c.shards.Release(session.ID)
}

// Dispose cancels any in-flight preparation, closes every live shard and
// the OCR engine, and resets the observable state. Idempotent and safe
// from any goroutine; calls after the first are no-ops, as is every other
// coordinator method afterwards.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	prep := c.prep
	c.prep = nil
	c.mu.Unlock()

	if prep != nil {
		prep.Cancel()
		<-prep.done
	}

	c.shards.CloseAll()
	if closer, ok := c.engine.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("dispose: closing ocr engine failed", "error", err)
		}
	}
	c.state.reset("")
}

func (c *Coordinator) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

func (c *Coordinator) document(session Session) shard.Document {
	return shard.Document{
		ID:           session.ID,
		PageCount:    session.PageCount,
		Source:       session.Source,
		ModifiedAtMs: session.ModifiedAtMs,
	}
}

// currentPrep returns the in-flight preparation, if any.
func (c *Coordinator) currentPrep() *Preparation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prep
}

// blank reports whether a normalized query has nothing searchable left.
func blank(normalized string) bool {
	return strings.TrimSpace(normalized) == ""
}
