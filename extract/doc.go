// Package extract pulls per-page text and run geometry from a document's
// structured text layer.
//
// Extraction is best-effort by design: pages whose underlying objects
// cannot be read are left empty and logged, and a bounded-time read guard
// abandons the whole document if the byte source stalls, keeping whatever
// pages were already extracted. Empty pages remain eligible for the OCR
// fallback cascade downstream.
//
// The PDF text layer is read with github.com/ledongthuc/pdf, which yields
// positioned text fragments per page. Probe additionally reads page count
// and page dimensions through pdfcpu so callers can build a session from
// raw bytes alone.
package extract
