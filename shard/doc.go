// Package shard owns the live, queryable unit for one document: its
// directory-backed full-text index plus the per-page content the index was
// built from.
//
// The Manager serializes shard construction per document id, decides
// rebuild versus reuse (rewrite only when forced, when no index exists, or
// when the on-disk index's document count no longer matches the content),
// and degrades documents over the page cap to indexless shards whose
// searches return no results. An unchanged document on a subsequent open
// pays only a disk open, never a rebuild.
package shard
