package ocr

import (
	"context"
	"image"

	"github.com/jonwraymond/pagesearch/content"
)

// Line is one recognized text line and its bounding box in the pixel space
// of the recognized image.
type Line struct {
	Text   string
	Bounds content.Rect
}

// Result is the outcome of recognizing one page image.
type Result struct {
	Text  string
	Lines []Line
}

// Engine recognizes text in a rendered page image. Implementations may be
// unavailable or fail per page; the cascade degrades instead of erroring.
// Engines that also implement io.Closer are released on coordinator
// disposal.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) (Result, error)
}

// RenderProvider renders a page to a raster image at a target width.
// A nil image with nil error is treated as "page unavailable".
type RenderProvider interface {
	RenderPage(ctx context.Context, pageIndex, targetWidth int) (image.Image, error)
}

// BusyReporter is an optional extension of RenderProvider: an advisory
// signal that the interactive renderer is mid-render on a page. The
// cascade briefly yields to busy renders of low page indices before
// processing them, but never blocks on the signal.
type BusyReporter interface {
	RenderBusy(pageIndex int) bool
}

// Request marks a page needing fallback treatment. NeedsText is set when
// the page's text is blank; NeedsBounds when it has no run geometry. A
// scanned page typically needs both; a page with sidecar text but no
// geometry needs only bounds.
type Request struct {
	PageIndex   int
	NeedsText   bool
	NeedsBounds bool
}

// PendingRequests scans contents and returns a request for every page
// missing text or geometry, in page order.
func PendingRequests(contents []content.PageSearchContent) []Request {
	var out []Request
	for i := range contents {
		needsText := !contents[i].HasText()
		needsBounds := !contents[i].HasRuns()
		if needsText || needsBounds {
			out = append(out, Request{PageIndex: i, NeedsText: needsText, NeedsBounds: needsBounds})
		}
	}
	return out
}
