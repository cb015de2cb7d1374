// Package regions detects likely text blocks in a raster page image.
//
// It is the last resort of the fallback cascade: when a page has no
// structured text layer and OCR found no lines, the detector's gradient
// heuristic yields coarse fallback regions so search hits on the page can
// still be highlighted somewhere plausible.
package regions

import (
	"image"
	"math"
	"sort"

	"github.com/jonwraymond/pagesearch/content"
)

const (
	// maxWidth caps the working image width; input is never upscaled.
	maxWidth = 512
	// minDim keeps tiny inputs from collapsing below a usable resolution.
	minDim = 64
	// thresholdFrac is applied to the max of each energy profile.
	thresholdFrac = 0.35
	// minBand is the minimum row/column band extent in pixels.
	minBand = 2
	// mergeSlack lets touching or slightly separated rectangles merge.
	mergeSlack = -0.02
	// minSizeFrac drops rectangles under 1% of the page in either dimension.
	minSizeFrac = 0.01
)

// Detect returns candidate text-block rectangles in unit-page fractions
// (0..1), sorted by top then left. A gradient-free image yields nothing.
func Detect(img image.Image) []content.Rect {
	if img == nil {
		return nil
	}
	lum, w, h := downsampledLuminance(img)
	if w < 3 || h < 3 {
		return nil
	}

	grad := gradientMagnitude(lum, w, h)

	rowEnergy := make([]float64, h)
	for y := 1; y < h-1; y++ {
		sum := 0.0
		for x := 1; x < w-1; x++ {
			sum += grad[y*w+x]
		}
		rowEnergy[y] = sum / float64(w-2)
	}

	rowBands := bands(rowEnergy)
	if rowBands == nil {
		return nil
	}

	var out []content.Rect
	for _, rb := range rowBands {
		colEnergy := make([]float64, w)
		for x := 1; x < w-1; x++ {
			sum := 0.0
			for y := rb.start; y <= rb.end; y++ {
				sum += grad[y*w+x]
			}
			colEnergy[x] = sum
		}
		for _, cb := range bands(colEnergy) {
			r := content.Rect{
				Left:   float64(cb.start) / float64(w),
				Top:    float64(rb.start) / float64(h),
				Right:  float64(cb.end+1) / float64(w),
				Bottom: float64(rb.end+1) / float64(h),
			}
			out = insertMerged(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Top != out[j].Top {
			return out[i].Top < out[j].Top
		}
		return out[i].Left < out[j].Left
	})

	filtered := out[:0]
	for _, r := range out {
		if r.Width() >= minSizeFrac && r.Height() >= minSizeFrac {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

type band struct{ start, end int }

// bands thresholds an energy profile at thresholdFrac of its maximum and
// groups consecutive above-threshold entries, discarding bands shorter than
// minBand. A profile whose max is at most 1 is treated as textless.
func bands(energy []float64) []band {
	maxE := 0.0
	for _, e := range energy {
		if e > maxE {
			maxE = e
		}
	}
	if maxE <= 1 {
		return nil
	}
	threshold := thresholdFrac * maxE

	var out []band
	start := -1
	for i, e := range energy {
		if e >= threshold {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if i-start >= minBand {
				out = append(out, band{start: start, end: i - 1})
			}
			start = -1
		}
	}
	if start >= 0 && len(energy)-start >= minBand {
		out = append(out, band{start: start, end: len(energy) - 1})
	}
	return out
}

// insertMerged unions r into the first existing rectangle it overlaps
// (within mergeSlack), otherwise appends it.
func insertMerged(rects []content.Rect, r content.Rect) []content.Rect {
	for i, e := range rects {
		if e.Overlaps(r, mergeSlack) {
			rects[i] = e.Union(r)
			return rects
		}
	}
	return append(rects, r)
}

// downsampledLuminance box-samples the image to at most maxWidth wide
// (never upscaling, keeping at least minDim on the short side when the
// source allows it) and returns per-pixel Rec.709 luminance.
func downsampledLuminance(img image.Image) ([]float64, int, int) {
	b := img.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw <= 0 || sh <= 0 {
		return nil, 0, 0
	}

	scale := 1.0
	if sw > maxWidth {
		scale = float64(maxWidth) / float64(sw)
	}
	if short := math.Min(float64(sw), float64(sh)); short*scale < minDim && short >= minDim {
		scale = minDim / short
	}

	w := int(math.Max(1, math.Round(float64(sw)*scale)))
	h := int(math.Max(1, math.Round(float64(sh)*scale)))

	lum := make([]float64, w*h)
	for y := 0; y < h; y++ {
		sy0 := b.Min.Y + y*sh/h
		sy1 := b.Min.Y + (y+1)*sh/h
		if sy1 <= sy0 {
			sy1 = sy0 + 1
		}
		for x := 0; x < w; x++ {
			sx0 := b.Min.X + x*sw/w
			sx1 := b.Min.X + (x+1)*sw/w
			if sx1 <= sx0 {
				sx1 = sx0 + 1
			}
			sum := 0.0
			n := 0
			for yy := sy0; yy < sy1; yy++ {
				for xx := sx0; xx < sx1; xx++ {
					cr, cg, cb, _ := img.At(xx, yy).RGBA()
					r8 := float64(cr >> 8)
					g8 := float64(cg >> 8)
					b8 := float64(cb >> 8)
					sum += 0.2126*r8 + 0.7152*g8 + 0.0722*b8
					n++
				}
			}
			lum[y*w+x] = sum / float64(n)
		}
	}
	return lum, w, h
}

// gradientMagnitude computes |Δx| + |Δy| against the 4-neighborhood at
// interior pixels; borders stay zero.
func gradientMagnitude(lum []float64, w, h int) []float64 {
	grad := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			dx := math.Abs(lum[y*w+x+1] - lum[y*w+x-1])
			dy := math.Abs(lum[(y+1)*w+x] - lum[(y-1)*w+x])
			grad[y*w+x] = dx + dy
		}
	}
	return grad
}
