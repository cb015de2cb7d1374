// Package pagesearch turns a paginated document into a queryable
// full-text index and returns highlight-ready match locations.
//
// The [Coordinator] is the single entry point. Prepare extracts per-page
// text and geometry (filling gaps through the OCR fallback cascade),
// persists the result in a content cache, and writes or reuses a
// per-document bleve index. Search queries that index and reconciles hits
// with run geometry into unit-page highlight rectangles.
//
// # Usage
//
//	c, err := pagesearch.New(pagesearch.Options{
//	    Render: renderProvider,
//	    Engine: ocrEngine,
//	})
//	if err != nil { ... }
//	defer c.Dispose()
//
//	session, err := pagesearch.NewSession(ctx, "file:///tmp/doc.pdf",
//	    extract.FileSource{Path: "/tmp/doc.pdf"})
//	if err != nil { ... }
//
//	c.Prepare(session)
//	results, err := c.Search(ctx, session, "adaptive flow")
//
// # Degradation
//
// Search is best-effort: extraction faults, OCR unavailability, cache
// corruption, and index failures all degrade to less complete results
// instead of surfacing errors. Only caller-initiated cancellation is
// propagated, so "I was cancelled" stays distinguishable from "it
// failed". Documents whose page count exceeds the configured cap are
// never indexed; their searches return no results by design.
package pagesearch
