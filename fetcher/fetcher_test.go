package fetcher

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func backendAddr(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestHeadersRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := New(Config{Backends: []string{backendAddr(t, srv)}})

	req, err := http.NewRequest(http.MethodGet, "http://example/", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	resp, err := f.Headers(context.Background(), req)
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Upstream") != "yes" {
		t.Fatalf("missing upstream header")
	}
}

func TestBodyStreamsAndCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := New(Config{Backends: []string{backendAddr(t, srv)}})

	req, _ := http.NewRequest(http.MethodGet, "http://example/", nil)
	resp, err := f.Headers(context.Background(), req)
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}

	var buf strings.Builder
	if err := f.Body(context.Background(), resp, &buf); err != nil {
		t.Fatalf("Body: %v", err)
	}
	if buf.String() != "payload" {
		t.Fatalf("body = %q, want %q", buf.String(), "payload")
	}
}

func TestHeadersDecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte("gzipped body"))
		_ = gz.Close()
	}))
	defer srv.Close()

	f := New(Config{Backends: []string{backendAddr(t, srv)}})

	req, _ := http.NewRequest(http.MethodGet, "http://example/", nil)
	resp, err := f.Headers(context.Background(), req)
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "gzipped body" {
		t.Fatalf("body = %q, want decompressed %q", body, "gzipped body")
	}
}

func TestHeadersNoBackendsConfigured(t *testing.T) {
	f := New(Config{})

	req, _ := http.NewRequest(http.MethodGet, "http://example/", nil)
	if _, err := f.Headers(context.Background(), req); err == nil {
		t.Fatalf("expected an error with no backends configured")
	}
}

func TestHeadersRoundRobinsBackends(t *testing.T) {
	var hits [2]int
	srv0 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits[0]++
	}))
	defer srv0.Close()
	srv1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits[1]++
	}))
	defer srv1.Close()

	f := New(Config{Backends: []string{backendAddr(t, srv0), backendAddr(t, srv1)}})

	for i := 0; i < 4; i++ {
		req, _ := http.NewRequest(http.MethodGet, "http://example/"+string(rune('a'+i)), nil)
		resp, err := f.Headers(context.Background(), req)
		if err != nil {
			t.Fatalf("Headers: %v", err)
		}
		resp.Body.Close()
	}

	if hits[0] == 0 || hits[1] == 0 {
		t.Fatalf("expected both backends to receive traffic, got %v", hits)
	}
}
