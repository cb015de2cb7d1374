package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// ErrReadTimeout is returned when the byte source stalls beyond the
// extractor's read guard.
var ErrReadTimeout = errors.New("byte source read timed out")

// ByteSource supplies the raw bytes of a document along with its
// modification time. Implementations may be backed by local files, remote
// storage, or in-memory buffers.
type ByteSource interface {
	// Open returns a fresh reader over the document bytes.
	Open() (io.ReadCloser, error)

	// ModifiedAt returns the document's last modification time.
	ModifiedAt() (time.Time, error)
}

// FileSource is a ByteSource over a local file.
type FileSource struct {
	Path string
}

// Open implements ByteSource.
func (f FileSource) Open() (io.ReadCloser, error) { return os.Open(f.Path) }

// ModifiedAt implements ByteSource.
func (f FileSource) ModifiedAt() (time.Time, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// BytesSource is an in-memory ByteSource, primarily for tests and callers
// that already hold the document bytes.
type BytesSource struct {
	Data     []byte
	Modified time.Time
}

// Open implements ByteSource.
func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}

// ModifiedAt implements ByteSource.
func (b BytesSource) ModifiedAt() (time.Time, error) { return b.Modified, nil }

// readAll drains r with an overall deadline. On timeout it returns
// ErrReadTimeout; a cancelled context returns the context error so
// cancellation stays distinguishable from storage stalls.
func readAll(ctx context.Context, r io.Reader, timeout time.Duration) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		ch <- result{data: data, err: err}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer:
		return nil, ErrReadTimeout
	}
}
