package cache

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/jonwraymond/pagesearch/content"
)

// FormatVersion identifies the on-disk record layout. Bumping it
// invalidates every existing cache entry.
const FormatVersion = 1

var errCorruptRecord = errors.New("corrupt cache record")

// metadata is the validity token for a document's cached page set.
type metadata struct {
	Version      int
	PageCount    int
	ModifiedAtMs int64
}

func encodeMeta(m metadata) []byte {
	buf := make([]byte, 0, 20)
	buf = binary.AppendUvarint(buf, uint64(m.Version))
	buf = binary.AppendUvarint(buf, uint64(m.PageCount))
	buf = binary.AppendVarint(buf, m.ModifiedAtMs)
	return buf
}

func decodeMeta(data []byte) (metadata, error) {
	d := decoder{data: data}
	version := d.uvarint()
	pages := d.uvarint()
	modified := d.varint()
	if d.err != nil {
		return metadata{}, d.err
	}
	return metadata{Version: int(version), PageCount: int(pages), ModifiedAtMs: modified}, nil
}

// encodePage serializes one page as a length-prefixed binary record:
// raw text, normalized text, coordinate extents, runs, fallback regions.
func encodePage(p content.PageSearchContent) []byte {
	buf := make([]byte, 0, 64+len(p.RawText)+len(p.NormalizedText))
	buf = appendString(buf, p.RawText)
	buf = appendString(buf, p.NormalizedText)
	buf = appendFloat(buf, p.CoordinateWidth)
	buf = appendFloat(buf, p.CoordinateHeight)

	buf = binary.AppendUvarint(buf, uint64(len(p.Runs)))
	for _, run := range p.Runs {
		buf = appendString(buf, run.Text)
		buf = appendRects(buf, run.Bounds)
	}

	buf = appendRects(buf, p.FallbackRegions)
	return buf
}

func decodePage(data []byte) (content.PageSearchContent, error) {
	d := decoder{data: data}

	var p content.PageSearchContent
	p.RawText = d.string()
	p.NormalizedText = d.string()
	p.CoordinateWidth = d.float()
	p.CoordinateHeight = d.float()

	nRuns := d.uvarint()
	if d.err == nil && nRuns > 0 {
		if nRuns > uint64(len(data)) {
			return content.PageSearchContent{}, errCorruptRecord
		}
		p.Runs = make([]content.TextRun, 0, nRuns)
		for i := uint64(0); i < nRuns && d.err == nil; i++ {
			run := content.TextRun{Text: d.string(), Bounds: d.rects()}
			p.Runs = append(p.Runs, run)
		}
	}

	p.FallbackRegions = d.rects()
	if d.err != nil {
		return content.PageSearchContent{}, d.err
	}
	return p, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendFloat(buf []byte, f float64) []byte {
	return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
}

func appendRects(buf []byte, rects []content.Rect) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(rects)))
	for _, r := range rects {
		buf = appendFloat(buf, r.Left)
		buf = appendFloat(buf, r.Top)
		buf = appendFloat(buf, r.Right)
		buf = appendFloat(buf, r.Bottom)
	}
	return buf
}

// decoder reads the record layout back, latching the first error so call
// sites stay linear.
type decoder struct {
	data []byte
	err  error
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.data)
	if n <= 0 {
		d.err = errCorruptRecord
		return 0
	}
	d.data = d.data[n:]
	return v
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.data)
	if n <= 0 {
		d.err = errCorruptRecord
		return 0
	}
	d.data = d.data[n:]
	return v
}

func (d *decoder) string() string {
	n := d.uvarint()
	if d.err != nil {
		return ""
	}
	if n > uint64(len(d.data)) {
		d.err = errCorruptRecord
		return ""
	}
	s := string(d.data[:n])
	d.data = d.data[n:]
	return s
}

func (d *decoder) float() float64 {
	if d.err != nil {
		return 0
	}
	if len(d.data) < 8 {
		d.err = errCorruptRecord
		return 0
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(d.data))
	d.data = d.data[8:]
	return v
}

func (d *decoder) rects() []content.Rect {
	n := d.uvarint()
	if d.err != nil || n == 0 {
		return nil
	}
	if n > uint64(len(d.data)) {
		d.err = errCorruptRecord
		return nil
	}
	out := make([]content.Rect, 0, n)
	for i := uint64(0); i < n && d.err == nil; i++ {
		r := content.Rect{Left: d.float(), Top: d.float(), Right: d.float(), Bottom: d.float()}
		out = append(out, r)
	}
	if d.err != nil {
		return nil
	}
	return out
}
