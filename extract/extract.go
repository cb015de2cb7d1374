package extract

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/jonwraymond/pagesearch/content"
	"github.com/jonwraymond/pagesearch/normalize"
)

// Letter-size fallback when a page carries no readable media box.
const (
	defaultPageWidth  = 612
	defaultPageHeight = 792
)

// DefaultReadTimeout bounds how long Extract waits on the byte source
// before abandoning extraction.
const DefaultReadTimeout = 20 * time.Second

// PDFExtractor reads per-page text and run geometry from a PDF's
// structured text layer.
type PDFExtractor struct {
	// ReadTimeout guards byte source reads. Zero means DefaultReadTimeout.
	ReadTimeout time.Duration

	// Logger receives per-page degradation notices. Nil means slog.Default.
	Logger *slog.Logger
}

// Extract returns one PageSearchContent per page. Unreadable pages are
// left empty (and logged) rather than failing the document; a stalled byte
// source abandons extraction and returns the pages gathered so far. Only
// context cancellation is returned as an error.
func (e *PDFExtractor) Extract(ctx context.Context, src ByteSource, pageCount int) ([]content.PageSearchContent, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := e.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	contents := make([]content.PageSearchContent, pageCount)

	rc, err := src.Open()
	if err != nil {
		logger.Warn("extract: open byte source failed", "error", err)
		return contents, nil
	}
	defer rc.Close()

	data, err := readAll(ctx, rc, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return contents, ctx.Err()
		}
		logger.Warn("extract: reading byte source failed", "error", err)
		return contents, nil
	}

	reader := openReader(data)
	if reader == nil {
		logger.Warn("extract: document has no readable text layer", "bytes", len(data))
		return contents, nil
	}

	numPages := safeNumPage(reader)
	for i := 0; i < pageCount && i < numPages; i++ {
		if err := ctx.Err(); err != nil {
			return contents, err
		}
		page, ok := extractPage(reader, i+1)
		if !ok {
			logger.Debug("extract: page skipped", "page", i)
			continue
		}
		contents[i] = page
	}
	return contents, nil
}

// openReader builds a pdf reader, absorbing library panics on malformed
// input.
func openReader(data []byte) (r *pdf.Reader) {
	defer func() { _ = recover() }()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}
	return reader
}

// safeNumPage reads the page count, absorbing library panics.
func safeNumPage(r *pdf.Reader) (n int) {
	defer func() { _ = recover() }()
	return r.NumPage()
}

// extractPage pulls one page's text fragments into a PageSearchContent.
// The pdf library can panic on malformed page objects; those pages report
// !ok and stay empty.
func extractPage(reader *pdf.Reader, pageNum int) (out content.PageSearchContent, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return out, false
	}

	pageW, pageH := mediaBox(page)
	media := content.Rect{Left: 0, Top: 0, Right: pageW, Bottom: pageH}

	var raw strings.Builder
	var runs []content.TextRun
	for _, frag := range page.Content().Text {
		if raw.Len() > 0 {
			raw.WriteByte(' ')
		}
		raw.WriteString(frag.S)

		r := fragmentBounds(frag, pageH).Clamp(media)
		if r.Empty() {
			continue
		}
		runs = append(runs, content.TextRun{Text: frag.S, Bounds: []content.Rect{r}})
	}

	rawText := raw.String()
	return content.PageSearchContent{
		RawText:          rawText,
		NormalizedText:   normalize.Normalize(rawText),
		Runs:             runs,
		CoordinateWidth:  pageW,
		CoordinateHeight: pageH,
	}, true
}

// fragmentBounds converts a positioned fragment into top-left page
// coordinates. PDF text origin is bottom-left; the fragment's font size
// stands in for glyph height.
func fragmentBounds(frag pdf.Text, pageH float64) content.Rect {
	return content.Rect{
		Left:   frag.X,
		Top:    pageH - (frag.Y + frag.FontSize),
		Right:  frag.X + frag.W,
		Bottom: pageH - frag.Y,
	}
}

// mediaBox reads the page's media box dimensions, defaulting to US Letter
// when the entry is missing or unreadable.
func mediaBox(page pdf.Page) (w, h float64) {
	w, h = defaultPageWidth, defaultPageHeight
	defer func() { _ = recover() }()

	mb := page.V.Key("MediaBox")
	if mb.IsNull() || mb.Len() != 4 {
		return w, h
	}
	x0 := mb.Index(0).Float64()
	y0 := mb.Index(1).Float64()
	x1 := mb.Index(2).Float64()
	y1 := mb.Index(3).Float64()
	if x1 > x0 && y1 > y0 {
		w, h = x1-x0, y1-y0
	}
	return w, h
}
