package fetcher

import (
	"compress/gzip"
	"io"
)

// gzipReadCloser closes both the gzip reader and the underlying body.
type gzipReadCloser struct {
	*gzip.Reader
	body io.ReadCloser
}

func newGzipReader(body io.ReadCloser) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(body)
	if err != nil {
		return nil, err
	}
	return &gzipReadCloser{Reader: zr, body: body}, nil
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
