// Package match locates query occurrences inside a page's text runs and
// maps them back to highlight-ready geometry.
//
// The locator rebuilds the page's normalized stream with per-character run
// attribution, finds every (possibly overlapping) occurrence of the
// normalized query, and emits the rectangles of all runs that contributed
// characters to each occurrence, scaled to the unit page.
package match

import (
	"strings"

	"github.com/jonwraymond/pagesearch/content"
	"github.com/jonwraymond/pagesearch/normalize"
)

// Match is one located occurrence on a page. BoundingBoxes are unit-page
// fractions (0..1), so consumers never need page dimensions.
type Match struct {
	IndexInPage   int
	BoundingBoxes []content.Rect
}

// Locate finds every occurrence of normalizedQuery in the combined
// normalized stream of runs and returns one Match per occurrence with the
// unioned rectangles of the contributing runs. Matches that touch only
// separator characters are dropped. Overlapping occurrences are all
// reported.
//
// pageWidth and pageHeight are the page coordinate extents the run bounds
// are expressed in; non-positive values disable scaling for that axis.
func Locate(runs []content.TextRun, normalizedQuery string, pageWidth, pageHeight float64) []Match {
	if normalizedQuery == "" || len(runs) == 0 {
		return nil
	}

	stream := normalize.Runs(runs)
	if stream.Text == "" {
		return nil
	}

	sx, sy := 1.0, 1.0
	if pageWidth > 0 {
		sx = 1 / pageWidth
	}
	if pageHeight > 0 {
		sy = 1 / pageHeight
	}

	var matches []Match
	// Normalized text is pure ASCII, so byte offsets equal character
	// offsets and RunMapping can be indexed directly.
	for from := 0; ; {
		at := strings.Index(stream.Text[from:], normalizedQuery)
		if at < 0 {
			break
		}
		at += from
		from = at + 1 // advance by one so overlapping occurrences are found

		touched := touchedRuns(stream.RunMapping[at : at+len(normalizedQuery)])
		if len(touched) == 0 {
			continue // pure separator span
		}

		var boxes []content.Rect
		for _, ri := range touched {
			for _, b := range runs[ri].Bounds {
				boxes = append(boxes, b.Scale(sx, sy))
			}
		}
		matches = append(matches, Match{IndexInPage: len(matches), BoundingBoxes: boxes})
	}
	return matches
}

// touchedRuns returns the distinct run indices in span, in first-seen
// order, skipping separator sentinels.
func touchedRuns(span []int) []int {
	var out []int
	seen := make(map[int]struct{}, 4)
	for _, ri := range span {
		if ri == content.SeparatorRun {
			continue
		}
		if _, ok := seen[ri]; ok {
			continue
		}
		seen[ri] = struct{}{}
		out = append(out, ri)
	}
	return out
}
