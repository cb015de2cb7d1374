package ocr

import (
	"context"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/pagesearch/content"
	"github.com/jonwraymond/pagesearch/normalize"
	"github.com/jonwraymond/pagesearch/regions"
)

const (
	// DefaultBatchSize bounds how many pages are rendered concurrently.
	DefaultBatchSize = 4
	// DefaultTargetWidth is the raster width handed to the OCR engine.
	DefaultTargetWidth = 1024
	// DefaultRenderWait bounds the advisory wait for a busy renderer.
	DefaultRenderWait = time.Second

	// guardedPages is the low-page-index window the interactive renderer is
	// most likely to be using.
	guardedPages = 4

	// busyPollInterval is how often the busy signal is re-checked.
	busyPollInterval = 50 * time.Millisecond
)

// Cascade runs OCR and region-detection fallbacks over pages the text
// layer could not serve.
type Cascade struct {
	// Render produces page rasters. Required; without it the cascade is a
	// no-op.
	Render RenderProvider

	// Engine recognizes text. Nil means OCR is unavailable and pages go
	// straight to region detection.
	Engine Engine

	// TargetWidth is the render width for OCR. Zero means DefaultTargetWidth.
	TargetWidth int

	// BatchSize bounds concurrent renders. Zero means DefaultBatchSize.
	BatchSize int

	// RenderWait bounds the advisory wait before touching guarded pages.
	// Zero means DefaultRenderWait.
	RenderWait time.Duration

	// DetectRegions finds fallback regions when OCR yields no lines.
	// Nil means regions.Detect.
	DetectRegions func(image.Image) []content.Rect

	// Progress, when set, receives (completed, total) after each request.
	Progress func(completed, total int)

	// Logger receives per-page degradation notices. Nil means slog.Default.
	Logger *slog.Logger
}

// Apply processes pending requests in fixed-size batches and merges the
// results into contents in place. Only context cancellation is returned;
// every other fault degrades per page.
func (c *Cascade) Apply(ctx context.Context, contents []content.PageSearchContent, pending []Request) error {
	if c.Render == nil || len(pending) == 0 {
		return nil
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := c.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	completed := 0
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		batch := pending[start:end]

		if touchesGuardedPages(batch) {
			c.waitForRenderIdle(ctx)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, req := range batch {
			req := req
			g.Go(func() error {
				return c.applyOne(gctx, contents, req, logger)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		completed += len(batch)
		if c.Progress != nil {
			c.Progress(completed, len(pending))
		}
	}
	return nil
}

// applyOne renders, recognizes and merges a single page. Each request
// targets a distinct page index, so writes to contents do not race.
func (c *Cascade) applyOne(ctx context.Context, contents []content.PageSearchContent, req Request, logger *slog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	targetWidth := c.TargetWidth
	if targetWidth <= 0 {
		targetWidth = DefaultTargetWidth
	}

	img, err := c.Render.RenderPage(ctx, req.PageIndex, targetWidth)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("ocr: render failed", "page", req.PageIndex, "error", err)
		return nil
	}
	if img == nil {
		logger.Debug("ocr: page not renderable", "page", req.PageIndex)
		return nil
	}

	var result Result
	if c.Engine != nil {
		result, err = c.Engine.Recognize(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("ocr: recognition failed", "page", req.PageIndex, "error", err)
			result = Result{}
		}
	}

	c.merge(&contents[req.PageIndex], req, result, img)
	return nil
}

// merge applies the asymmetric merge policy: OCR output fills gaps but
// never replaces data the text layer already provided.
func (c *Cascade) merge(page *content.PageSearchContent, req Request, result Result, img image.Image) {
	runs, coordW, coordH := linesToRuns(result.Lines, page, img)

	if req.NeedsText && normalize.Normalize(result.Text) != "" {
		page.RawText = result.Text
		page.NormalizedText = normalize.Normalize(result.Text)
	}
	if req.NeedsBounds && len(runs) > 0 {
		page.Runs = runs
		page.CoordinateWidth = coordW
		page.CoordinateHeight = coordH
	}

	if len(result.Lines) == 0 {
		detect := c.DetectRegions
		if detect == nil {
			detect = regions.Detect
		}
		if regs := detect(img); len(regs) > 0 {
			page.FallbackRegions = regs
		}
	}
}

// linesToRuns converts OCR lines into text runs in the page's coordinate
// system. When the page has no coordinate system yet, the rendered image's
// pixel space becomes the page space.
func linesToRuns(lines []Line, page *content.PageSearchContent, img image.Image) ([]content.TextRun, float64, float64) {
	if len(lines) == 0 {
		return nil, page.CoordinateWidth, page.CoordinateHeight
	}

	imgW := float64(img.Bounds().Dx())
	imgH := float64(img.Bounds().Dy())

	coordW, coordH := page.CoordinateWidth, page.CoordinateHeight
	sx, sy := 1.0, 1.0
	if coordW > 0 && coordH > 0 && imgW > 0 && imgH > 0 {
		sx = coordW / imgW
		sy = coordH / imgH
	} else {
		coordW, coordH = imgW, imgH
	}

	runs := make([]content.TextRun, 0, len(lines))
	for _, line := range lines {
		r := line.Bounds.Scale(sx, sy)
		if r.Empty() {
			continue
		}
		runs = append(runs, content.TextRun{Text: line.Text, Bounds: []content.Rect{r}})
	}
	return runs, coordW, coordH
}

// touchesGuardedPages reports whether the batch includes any of the first
// few pages, which the interactive renderer is most likely showing.
func touchesGuardedPages(batch []Request) bool {
	for _, req := range batch {
		if req.PageIndex < guardedPages {
			return true
		}
	}
	return false
}

// waitForRenderIdle polls the provider's advisory busy signal for up to
// RenderWait and then proceeds regardless. This is backpressure, not a
// lock.
func (c *Cascade) waitForRenderIdle(ctx context.Context) {
	reporter, ok := c.Render.(BusyReporter)
	if !ok {
		return
	}

	wait := c.RenderWait
	if wait <= 0 {
		wait = DefaultRenderWait
	}
	deadline := time.Now().Add(wait)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		busy := false
		for page := 0; page < guardedPages; page++ {
			if reporter.RenderBusy(page) {
				busy = true
				break
			}
		}
		if !busy {
			return
		}
		time.Sleep(busyPollInterval)
	}
}
