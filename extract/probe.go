package extract

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageSize is one page's dimensions in page coordinate units.
type PageSize struct {
	Width  float64
	Height float64
}

// ProbeResult describes a document's shape without extracting any text.
type ProbeResult struct {
	PageCount    int
	PageSizes    []PageSize
	ModifiedAtMs int64
}

// Probe reads page count, page dimensions and modification time from a
// byte source so a session can be constructed from raw bytes alone.
// Unlike Extract, probing a document that cannot be parsed is an error:
// without a page count there is nothing to prepare.
func Probe(ctx context.Context, src ByteSource, readTimeout time.Duration) (ProbeResult, error) {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	rc, err := src.Open()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe: open byte source: %w", err)
	}
	defer rc.Close()

	data, err := readAll(ctx, rc, readTimeout)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe: read byte source: %w", err)
	}

	modified, err := src.ModifiedAt()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe: stat byte source: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	count, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe: page count: %w", err)
	}

	res := ProbeResult{
		PageCount:    count,
		ModifiedAtMs: modified.UnixMilli(),
	}

	// Dimensions are advisory; a document whose page tree defeats the dims
	// walk still probes successfully.
	if dims, err := api.PageDims(bytes.NewReader(data), conf); err == nil {
		res.PageSizes = make([]PageSize, len(dims))
		for i, d := range dims {
			res.PageSizes[i] = PageSize{Width: d.Width, Height: d.Height}
		}
	}

	return res, nil
}
