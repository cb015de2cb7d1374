package cache

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jonwraymond/pagesearch/content"
)

var (
	bucketMeta  = []byte("meta")
	bucketPages = []byte("pages")
	keyMeta     = []byte("metadata")
)

// Store persists per-document page content under a root directory, one
// bbolt database per document.
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates a store rooted at dir. The directory is created lazily on
// first save.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: dir, logger: logger}
}

// Load returns the cached page set for documentID, or ok=false on any
// miss: absent database, version/page-count/modification-time mismatch, or
// a corrupt record. Misses are never errors; they trigger re-extraction.
func (s *Store) Load(documentID string, expectedPageCount int, modifiedAtMs int64) ([]content.PageSearchContent, bool) {
	path := s.dbPath(documentID)
	if _, err := os.Stat(path); err != nil {
		return nil, false
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		s.logger.Debug("cache: open failed, treating as miss", "doc", documentID, "error", err)
		return nil, false
	}
	defer db.Close()

	var contents []content.PageSearchContent
	hit := false
	err = db.View(func(tx *bolt.Tx) error {
		metaBucket := tx.Bucket(bucketMeta)
		pageBucket := tx.Bucket(bucketPages)
		if metaBucket == nil || pageBucket == nil {
			return nil
		}

		meta, err := decodeMeta(metaBucket.Get(keyMeta))
		if err != nil {
			return nil
		}
		if meta.Version != FormatVersion ||
			meta.PageCount != expectedPageCount ||
			meta.ModifiedAtMs != modifiedAtMs {
			return nil
		}

		pages := make([]content.PageSearchContent, meta.PageCount)
		for i := 0; i < meta.PageCount; i++ {
			raw := pageBucket.Get(pageKey(i))
			if raw == nil {
				return nil
			}
			page, err := decodePage(raw)
			if err != nil {
				return nil
			}
			pages[i] = page
		}
		contents = pages
		hit = true
		return nil
	})
	if err != nil || !hit {
		return nil, false
	}
	return contents, true
}

// Save atomically replaces the cached page set for documentID. The page
// bucket is rebuilt and metadata written last within one transaction, so
// the cache can never claim validity for a partially written page set.
func (s *Store) Save(documentID string, modifiedAtMs int64, contents []content.PageSearchContent) error {
	dir := filepath.Dir(s.dbPath(documentID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: create dir: %w", err)
	}

	db, err := bolt.Open(s.dbPath(documentID), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("cache: open: %w", err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		// Dropping the bucket prunes pages beyond the current count when a
		// document shrinks across re-extraction.
		if tx.Bucket(bucketPages) != nil {
			if err := tx.DeleteBucket(bucketPages); err != nil {
				return err
			}
		}
		pageBucket, err := tx.CreateBucket(bucketPages)
		if err != nil {
			return err
		}
		for i, page := range contents {
			if err := pageBucket.Put(pageKey(i), encodePage(page)); err != nil {
				return err
			}
		}

		metaBucket, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		meta := metadata{Version: FormatVersion, PageCount: len(contents), ModifiedAtMs: modifiedAtMs}
		return metaBucket.Put(keyMeta, encodeMeta(meta))
	})
	if err != nil {
		return fmt.Errorf("cache: save %s: %w", documentID, err)
	}
	return nil
}

// Delete removes every cached artifact for documentID. Missing entries
// are not an error.
func (s *Store) Delete(documentID string) error {
	dir := filepath.Dir(s.dbPath(documentID))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cache: delete %s: %w", documentID, err)
	}
	return nil
}

func (s *Store) dbPath(documentID string) string {
	return filepath.Join(s.root, content.DocumentKey(documentID), "content.db")
}

func pageKey(index int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(index))
	return key
}
