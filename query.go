package pagesearch

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	blevesearch "github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/jonwraymond/pagesearch/content"
	"github.com/jonwraymond/pagesearch/match"
	"github.com/jonwraymond/pagesearch/normalize"
	"github.com/jonwraymond/pagesearch/shard"
)

// SearchMatch is one query occurrence on a page with its unit-rect
// highlight boxes.
type SearchMatch = match.Match

// SearchResult collects a page's matches. Results are returned in
// ascending page order.
type SearchResult struct {
	PageIndex int
	Matches   []SearchMatch
}

// Search finds text in session's document. The query is normalized the
// same way indexed text was; a query that normalizes to nothing returns
// no results. When a preparation for the same document is in flight,
// Search waits for it instead of racing the index build. Every failure
// mode except the caller's own cancellation degrades to fewer or no
// results.
func (c *Coordinator) Search(ctx context.Context, session Session, searchQuery string) ([]SearchResult, error) {
	if c.isDisposed() {
		return nil, nil
	}

	normalized := normalize.Normalize(searchQuery)
	if blank(normalized) {
		return nil, nil
	}

	if prep := c.currentPrep(); prep != nil && prep.documentID == session.ID {
		if err := prep.Wait(ctx); err != nil {
			// The preparation's own cancellation is not ours; only the
			// searcher's context aborts the search.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
	}

	sh := c.shards.Live(session.ID)
	if sh == nil {
		var err error
		sh, err = c.shards.Obtain(ctx, c.document(session), false)
		if err != nil {
			return nil, err
		}
	}
	// Take one stable reference; a concurrent Dispose or Release closes
	// the index under us, which surfaces as a query error below, never a
	// panic.
	idx := sh.Index()
	if idx == nil {
		return nil, nil
	}

	pages, err := c.queryPages(ctx, idx, len(sh.Contents), normalized)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("search: query failed", "doc", session.ID, "error", err)
		return nil, nil
	}
	return resolveMatches(sh, pages, normalized), nil
}

// queryPages runs the full-text query and returns matching page indices
// in ascending order. A failing query is retried once as a literal term
// before giving up. The request is sized to the document's page count, so
// a query matching every page never truncates.
func (c *Coordinator) queryPages(ctx context.Context, idx bleve.Index, pageCount int, normalized string) ([]int, error) {
	res, err := runQuery(ctx, idx, pageCount, buildQuery(normalized))
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		term := bleve.NewTermQuery(normalized)
		term.SetField(shard.FieldText)
		res, err = runQuery(ctx, idx, pageCount, term)
		if err != nil {
			return nil, err
		}
	}

	pages := make([]int, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if page, ok := hitPage(hit); ok {
			pages = append(pages, page)
		}
	}
	sort.Ints(pages)
	return pages, nil
}

func runQuery(ctx context.Context, idx bleve.Index, pageCount int, q query.Query) (*bleve.SearchResult, error) {
	req := bleve.NewSearchRequestOptions(q, pageCount, 0, false)
	req.Fields = []string{shard.FieldPage}
	return idx.SearchInContext(ctx, req)
}

// buildQuery maps a normalized query onto bleve: multi-word queries match
// as a phrase, single words as an AND match.
func buildQuery(normalized string) query.Query {
	if strings.ContainsRune(normalized, ' ') {
		q := bleve.NewMatchPhraseQuery(normalized)
		q.SetField(shard.FieldText)
		return q
	}
	q := bleve.NewMatchQuery(normalized)
	q.SetField(shard.FieldText)
	q.SetOperator(query.MatchQueryOperatorAnd)
	return q
}

// hitPage recovers the page index from a hit. The doc id is the page
// index; the stored numeric field backs it up.
func hitPage(hit *blevesearch.DocumentMatch) (int, bool) {
	if n, err := strconv.Atoi(hit.ID); err == nil && n >= 0 {
		return n, true
	}
	if v, ok := hit.Fields[shard.FieldPage]; ok {
		if f, ok := v.(float64); ok && f >= 0 {
			return int(f), true
		}
	}
	return 0, false
}

// resolveMatches turns page hits into highlight-ready matches. Pages with
// run geometry get precise boxes from the run mapping; pages without it
// degrade to counted occurrences over fallback regions.
func resolveMatches(sh *shard.Shard, pages []int, normalized string) []SearchResult {
	var out []SearchResult
	for _, page := range pages {
		if page < 0 || page >= len(sh.Contents) {
			continue
		}
		pc := sh.Contents[page]

		matches := match.Locate(pc.Runs, normalized, pc.CoordinateWidth, pc.CoordinateHeight)
		if len(matches) == 0 {
			matches = countedMatches(pc, normalized)
		}
		if len(matches) == 0 {
			continue
		}
		out = append(out, SearchResult{PageIndex: page, Matches: matches})
	}
	return out
}

// countedMatches is the geometry-free fallback: occurrences are counted
// in the page's normalized text and each gets the page's fallback regions
// as its boxes, or the whole page when none were detected. Highlight
// precision degrades here; result counts do not.
func countedMatches(pc content.PageSearchContent, normalized string) []SearchMatch {
	n := countOccurrences(pc.NormalizedText, normalized)
	if n == 0 {
		return nil
	}

	boxes := pc.FallbackRegions
	if len(boxes) == 0 {
		boxes = []content.Rect{content.UnitRect()}
	}

	out := make([]SearchMatch, n)
	for i := range out {
		out[i] = SearchMatch{IndexInPage: i, BoundingBoxes: boxes}
	}
	return out
}

// countOccurrences counts overlapping occurrences of needle in haystack.
func countOccurrences(haystack, needle string) int {
	if needle == "" {
		return 0
	}
	count := 0
	for from := 0; ; from++ {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return count
		}
		count++
		from += i
	}
}
