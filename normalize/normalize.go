// Package normalize canonicalizes extracted text into a comparable ASCII
// form. Both the indexed text and search queries pass through Normalize, so
// matching is insensitive to case, whitespace shape, and punctuation noise.
//
// The mapping is deliberately narrow: ASCII letters and digits (lowercased),
// a small set of quote characters, and whitespace collapsed to single
// spaces. Everything else is dropped. There is no locale-specific folding
// beyond ASCII case lowering.
package normalize

import (
	"unicode"

	"github.com/jonwraymond/pagesearch/content"
)

// Normalize returns the canonical ASCII form of s. The result is
// idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	var m mapper
	for _, r := range s {
		if c, ok := canonical(r); ok {
			m.append(c, content.SeparatorRun)
		}
	}
	m.trimTrailingSpace()
	return string(m.chars)
}

// Runs builds one normalized stream from the given runs, inserting a
// separator between consecutive runs, and records for every output
// character the index of the run that produced it. Separators map to
// content.SeparatorRun. The returned mapping always has the same length as
// the returned text.
func Runs(runs []content.TextRun) content.NormalizedText {
	var m mapper
	for i, run := range runs {
		if i > 0 {
			m.append(' ', content.SeparatorRun)
		}
		for _, r := range run.Text {
			if c, ok := canonical(r); ok {
				m.append(c, i)
			}
		}
	}
	m.trimTrailingSpace()
	return content.NormalizedText{Text: string(m.chars), RunMapping: m.runs}
}

// canonical maps a rune to its normalized form, or reports false for runes
// that are dropped. Curly quotes fold to their ASCII counterparts so the
// result stays idempotent.
func canonical(r rune) (rune, bool) {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return r, true
	case r >= 'A' && r <= 'Z':
		return r + ('a' - 'A'), true
	case r == '\'' || r == '"':
		return r, true
	case r == '‘' || r == '’':
		return '\'', true
	case r == '“' || r == '”':
		return '"', true
	case unicode.IsSpace(r):
		return ' ', true
	}
	return 0, false
}

// mapper accumulates normalized output characters alongside the index of
// the run each one came from, collapsing consecutive spaces as it goes.
type mapper struct {
	chars []rune
	runs  []int
}

func (m *mapper) append(r rune, run int) {
	if r == ' ' {
		// Collapse runs of whitespace to a single space; never lead with one.
		if len(m.chars) == 0 || m.chars[len(m.chars)-1] == ' ' {
			return
		}
	}
	m.chars = append(m.chars, r)
	m.runs = append(m.runs, run)
}

func (m *mapper) trimTrailingSpace() {
	if n := len(m.chars); n > 0 && m.chars[n-1] == ' ' {
		m.chars = m.chars[:n-1]
		m.runs = m.runs[:n-1]
	}
}
