// Package cache persists per-document extraction results so reopening an
// unchanged document skips extraction and OCR entirely.
//
// Each document gets one bbolt database under the cache root, holding a
// metadata record and one length-prefixed binary record per page. A load
// is a hit only when the stored format version, page count, and document
// modification time all match exactly; any mismatch or decode failure is a
// plain miss that triggers re-extraction, never an error surfaced to the
// caller.
//
// Writes happen in a single bbolt transaction: the page bucket is replaced
// and the metadata record written last, so a crash mid-write can never
// leave a cache that claims validity for a partial page set. Replacing the
// bucket also prunes stale pages when a document shrinks.
package cache
