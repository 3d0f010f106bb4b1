package iobuf

import (
	"bytes"
	"io"
	"testing"
)

func newBodyReader(s string) io.ReadCloser { return io.NopCloser(bytes.NewReader([]byte(s))) }

func TestRangeReaderSlicesMiddle(t *testing.T) {
	r := RangeReader(newBodyReader("0123456789"), 0, 5, 2, 5)
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(out) != "2345" {
		t.Fatalf("got %q, want %q", out, "2345")
	}
}

func TestRangeReaderSuffix(t *testing.T) {
	r := RangeReader(newBodyReader("0123456789"), 0, 9, 8, 9)
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(out) != "89" {
		t.Fatalf("got %q, want %q", out, "89")
	}
}

func TestRangeReaderSingleByte(t *testing.T) {
	r := RangeReader(newBodyReader("abcdef"), 0, 0, 0, 0)
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(out) != "a" {
		t.Fatalf("got %q, want %q", out, "a")
	}
}

func TestRangeReaderCloseReleasesUnderlying(t *testing.T) {
	closed := false
	body := &closeTrackingReader{ReadCloser: newBodyReader("hello"), onClose: func() { closed = true }}
	r := RangeReader(body, 0, 4, 0, 4)
	_, _ = io.ReadAll(r)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !closed {
		t.Fatalf("RangeReader.Close should close the wrapped reader")
	}
}

type closeTrackingReader struct {
	io.ReadCloser
	onClose func()
}

func (c *closeTrackingReader) Close() error {
	c.onClose()
	return c.ReadCloser.Close()
}
