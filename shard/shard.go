package shard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/jonwraymond/pagesearch/cache"
	"github.com/jonwraymond/pagesearch/content"
	"github.com/jonwraymond/pagesearch/extract"
)

// Bleve field names for page documents.
const (
	FieldPage = "page"
	FieldText = "text"
)

// Document identifies one document to index.
type Document struct {
	ID           string
	PageCount    int
	Source       extract.ByteSource
	ModifiedAtMs int64
}

// Loader produces the final per-page content for a document: extraction,
// cache fill, and OCR fallback are all behind this seam so the manager
// stays free of pipeline wiring.
type Loader interface {
	LoadContent(ctx context.Context, doc Document) ([]content.PageSearchContent, error)
}

// Shard is the queryable unit for one document. An indexless shard (page
// cap exceeded, empty content, or index failure) yields no results from
// searches, never an error.
type Shard struct {
	DocumentID string
	Contents   []content.PageSearchContent

	// mu guards index so teardown can race in-flight readers. Disposal is
	// allowed from any goroutine while searches are still running.
	mu    sync.Mutex
	index bleve.Index
}

// Index returns the shard's index, or nil for indexless shards. The
// returned reference stays valid to call into even if the shard is closed
// concurrently; queries against a closed index fail with an error rather
// than panicking.
func (s *Shard) Index() bleve.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Close releases the shard's index resources. Safe on indexless shards
// and safe to call while other goroutines read Index.
func (s *Shard) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	idx := s.index
	s.index = nil
	s.mu.Unlock()
	if idx == nil {
		return nil
	}
	return idx.Close()
}

// Stats counts manager decisions since construction.
type Stats struct {
	Rebuilds    uint64 // on-disk index writes
	Reopens     uint64 // on-disk index opens without a write
	LiveReuses  uint64 // in-memory shard reuses
	CapBypasses uint64
}

// Manager owns one shard per document id.
type Manager struct {
	root   string
	cache  *cache.Store
	loader Loader
	// pageCap disables indexing for documents above it; zero means no cap.
	pageCap int
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	live  map[string]*Shard
	stats Stats
}

// NewManager creates a manager writing indexes under root. store may be
// nil when no content cache is configured.
func NewManager(root string, store *cache.Store, loader Loader, pageCap int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		root:    root,
		cache:   store,
		loader:  loader,
		pageCap: pageCap,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
		live:    make(map[string]*Shard),
	}
}

// Live returns the live shard for id, or nil.
func (m *Manager) Live(id string) *Shard {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[id]
}

// Stats returns a snapshot of the manager's decision counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Obtain returns the shard for doc, building or reopening its index as
// needed. Construction for one document id is serialized by a per-id
// mutex held across the whole decide-plus-write, so concurrent calls for
// the same id cannot race a rewrite; different documents build
// concurrently. Only context cancellation is returned as an error.
func (m *Manager) Obtain(ctx context.Context, doc Document, forceRebuild bool) (*Shard, error) {
	lock := m.lockFor(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	existing := m.live[doc.ID]
	m.mu.Unlock()
	if existing != nil && !forceRebuild {
		m.count(func(s *Stats) { s.LiveReuses++ })
		return existing, nil
	}

	if m.pageCap > 0 && doc.PageCount > m.pageCap {
		return m.bypassForCap(doc, existing)
	}

	// A forced rebuild replaces the live shard; close it before the
	// rewrite touches its index directory.
	if existing != nil {
		m.mu.Lock()
		delete(m.live, doc.ID)
		m.mu.Unlock()
		_ = existing.Close()
		existing = nil
	}

	contents, err := m.loader.LoadContent(ctx, doc)
	if err != nil {
		return nil, err
	}

	shard := &Shard{DocumentID: doc.ID, Contents: contents}
	if len(contents) > 0 {
		shard.index = m.openOrRewrite(doc, contents, forceRebuild)
	}

	m.install(doc.ID, shard, existing)
	return shard, nil
}

// bypassForCap drops every stored artifact for an oversized document and
// installs an indexless shard: search degrades to no results by design
// rather than risking unbounded indexing latency.
func (m *Manager) bypassForCap(doc Document, existing *Shard) (*Shard, error) {
	m.logger.Info("shard: page cap exceeded, skipping index",
		"doc", doc.ID, "pages", doc.PageCount, "cap", m.pageCap)

	if err := os.RemoveAll(m.indexPath(doc.ID)); err != nil {
		m.logger.Warn("shard: deleting index failed", "doc", doc.ID, "error", err)
	}
	if m.cache != nil {
		if err := m.cache.Delete(doc.ID); err != nil {
			m.logger.Warn("shard: deleting cache failed", "doc", doc.ID, "error", err)
		}
	}

	shard := &Shard{DocumentID: doc.ID}
	m.count(func(s *Stats) { s.CapBypasses++ })
	m.install(doc.ID, shard, existing)
	return shard, nil
}

// openOrRewrite decides rebuild versus reuse and returns the resulting
// index, or nil when indexing failed (the shard then degrades to
// indexless and the broken directory is removed).
func (m *Manager) openOrRewrite(doc Document, contents []content.PageSearchContent, force bool) bleve.Index {
	path := m.indexPath(doc.ID)

	if !force {
		if idx := m.reopen(path, len(contents)); idx != nil {
			m.count(func(s *Stats) { s.Reopens++ })
			return idx
		}
	}

	idx, err := m.rewrite(path, contents)
	if err != nil {
		m.logger.Warn("shard: index write failed, degrading to indexless",
			"doc", doc.ID, "error", err)
		_ = os.RemoveAll(path)
		return nil
	}
	m.count(func(s *Stats) { s.Rebuilds++ })
	return idx
}

// reopen returns the existing index when its document count matches the
// content, nil otherwise.
func (m *Manager) reopen(path string, pageCount int) bleve.Index {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	idx, err := bleve.Open(path)
	if err != nil {
		return nil
	}
	count, err := idx.DocCount()
	if err != nil || count != uint64(pageCount) {
		_ = idx.Close()
		return nil
	}
	return idx
}

// rewrite replaces the on-disk index with one document per page.
func (m *Manager) rewrite(path string, contents []content.PageSearchContent) (bleve.Index, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("clear index dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	idx, err := bleve.New(path, indexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	batch := idx.NewBatch()
	for i, page := range contents {
		doc := map[string]any{
			FieldPage: i,
			FieldText: page.NormalizedText,
		}
		if err := batch.Index(strconv.Itoa(i), doc); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("index page %d: %w", i, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("write batch: %w", err)
	}
	return idx, nil
}

// Release closes and forgets the live shard for id, if any.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	shard := m.live[id]
	delete(m.live, id)
	m.mu.Unlock()
	if err := shard.Close(); err != nil {
		m.logger.Warn("shard: close failed", "doc", id, "error", err)
	}
}

// CloseAll closes every live shard. The manager remains usable.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	shards := make([]*Shard, 0, len(m.live))
	for _, s := range m.live {
		shards = append(shards, s)
	}
	m.live = make(map[string]*Shard)
	m.mu.Unlock()

	for _, s := range shards {
		if err := s.Close(); err != nil {
			m.logger.Warn("shard: close failed", "doc", s.DocumentID, "error", err)
		}
	}
}

func (m *Manager) install(id string, shard, previous *Shard) {
	m.mu.Lock()
	m.live[id] = shard
	m.mu.Unlock()
	if previous != nil && previous != shard {
		_ = previous.Close()
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

func (m *Manager) count(update func(*Stats)) {
	m.mu.Lock()
	update(&m.stats)
	m.mu.Unlock()
}

func (m *Manager) indexPath(id string) string {
	return filepath.Join(m.root, content.DocumentKey(id), "index.bleve")
}

// indexMapping maps page documents: a stored numeric page field and an
// analyzed text field.
func indexMapping() mapping.IndexMapping {
	pageField := bleve.NewNumericFieldMapping()
	pageField.Store = true

	textField := bleve.NewTextFieldMapping()
	textField.Store = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt(FieldPage, pageField)
	docMapping.AddFieldMappingsAt(FieldText, textField)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = docMapping
	return im
}
