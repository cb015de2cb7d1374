// Package content defines the data model shared by the page-search
// pipeline: rectangles, text runs, and the per-page search content record
// produced by extraction and consumed by indexing and match location.
//
// Coordinate conventions:
//
//   - TextRun bounds and PageSearchContent.FallbackRegions are expressed in
//     the page coordinate system declared by CoordinateWidth and
//     CoordinateHeight on the owning PageSearchContent.
//   - Match geometry handed to consumers is always scaled down to the unit
//     page (0..1 on both axes) so callers never need page dimensions.
//
// A PageSearchContent value is replaced wholesale on rebuild; none of the
// types here are mutated after construction except by the OCR fallback
// merge, which swaps whole fields.
package content
