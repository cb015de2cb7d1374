package content

import "strings"

// Rect is an axis-aligned rectangle. The unit is whatever coordinate system
// the producer declares; Top < Bottom (y grows downward).
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// UnitRect covers the whole unit page.
func UnitRect() Rect {
	return Rect{Left: 0, Top: 0, Right: 1, Bottom: 1}
}

// Width returns the horizontal extent of r.
func (r Rect) Width() float64 { return r.Right - r.Left }

// Height returns the vertical extent of r.
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Empty reports whether r has no positive area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Union returns the smallest rectangle covering both r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		Left:   min(r.Left, o.Left),
		Top:    min(r.Top, o.Top),
		Right:  max(r.Right, o.Right),
		Bottom: max(r.Bottom, o.Bottom),
	}
}

// Overlaps reports whether r and o overlap on both axes. A negative slack
// treats rectangles separated by up to -slack as overlapping, so touching
// or slightly separated rectangles can be grouped together.
func (r Rect) Overlaps(o Rect, slack float64) bool {
	h := min(r.Right, o.Right) - max(r.Left, o.Left)
	v := min(r.Bottom, o.Bottom) - max(r.Top, o.Top)
	return h >= slack && v >= slack
}

// Scale multiplies all coordinates by the given per-axis factors.
func (r Rect) Scale(sx, sy float64) Rect {
	return Rect{Left: r.Left * sx, Top: r.Top * sy, Right: r.Right * sx, Bottom: r.Bottom * sy}
}

// Clamp restricts r to the given bounds.
func (r Rect) Clamp(bounds Rect) Rect {
	return Rect{
		Left:   max(r.Left, bounds.Left),
		Top:    max(r.Top, bounds.Top),
		Right:  min(r.Right, bounds.Right),
		Bottom: min(r.Bottom, bounds.Bottom),
	}
}

// TextRun is a contiguous piece of extracted text and the rectangles it
// occupies in page coordinate units. Immutable once built.
type TextRun struct {
	Text   string `json:"text"`
	Bounds []Rect `json:"bounds"`
}

// NormalizedText pairs normalized text with a same-length mapping from each
// character index to the index of the run that produced it. Separator
// characters inserted between runs map to SeparatorRun.
type NormalizedText struct {
	Text       string
	RunMapping []int
}

// SeparatorRun is the RunMapping sentinel for inter-run separators.
const SeparatorRun = -1

// PageSearchContent is the authoritative per-page record: raw and
// normalized text, run geometry, the coordinate system the geometry is
// expressed in, and geometry-free fallback regions (unit-page fractions)
// for pages without per-character geometry.
type PageSearchContent struct {
	RawText          string
	NormalizedText   string
	Runs             []TextRun
	CoordinateWidth  float64
	CoordinateHeight float64
	FallbackRegions  []Rect
}

// HasText reports whether the page carries any non-blank text.
func (p *PageSearchContent) HasText() bool {
	return strings.TrimSpace(p.RawText) != ""
}

// HasRuns reports whether the page carries any run geometry.
func (p *PageSearchContent) HasRuns() bool { return len(p.Runs) > 0 }
