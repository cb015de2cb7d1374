// Package ocr applies the multi-stage fallback cascade for pages the
// structured text layer could not serve: render the page, run the OCR
// engine, and fall back further to the gradient region detector when OCR
// finds nothing.
//
// The cascade never overwrites good data. OCR text replaces page text only
// when the page had none; OCR runs replace geometry only when the page had
// none; detected regions land only in the fallback-region slot. An absent
// or failing OCR engine degrades to the region detector rather than
// erroring.
package ocr
