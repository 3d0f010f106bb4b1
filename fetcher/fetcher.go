// Package fetcher implements the backend-fetch collaborator consumed
// by FETCH/FETCHBODY/PIPE: it owns the pooled *http.Client per backend
// address, upstream gzip/brotli decompression, and the full-duplex
// byte-copy loop PIPE hands off to. Backend selection is a plain
// round-robin over a static backend list — see DESIGN.md.
package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/sync/singleflight"

	"github.com/relaycache/relaycache/engine"
)

// Config names the backend pool and connection tuning.
type Config struct {
	Backends []string // host:port or unix:///path.sock, round-robined

	ConnectTimeout        time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxConnsPerHost       int
	MaxIdleConnsPerHost   int
}

// Fetcher is the default engine.Fetcher.
type Fetcher struct {
	cfg Config

	mu        sync.RWMutex
	clientMap map[string]*http.Client
	dialer    *net.Dialer

	next   uint64 // round-robin cursor into cfg.Backends
	flight singleflight.Group
}

var _ engine.Fetcher = (*Fetcher)(nil)

func New(cfg Config) *Fetcher {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ResponseHeaderTimeout == 0 {
		cfg.ResponseHeaderTimeout = 30 * time.Second
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 30 * time.Second
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 100
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = 100
	}
	return &Fetcher{
		cfg:       cfg,
		clientMap: make(map[string]*http.Client, len(cfg.Backends)),
		dialer: &net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		},
	}
}

// pick returns the next backend address by round-robin.
func (f *Fetcher) pick() (string, error) {
	if len(f.cfg.Backends) == 0 {
		return "", errors.New("fetcher: no backends configured")
	}
	n := atomic.AddUint64(&f.next, 1)
	return f.cfg.Backends[int(n-1)%len(f.cfg.Backends)], nil
}

func (f *Fetcher) client(addr string) *http.Client {
	f.mu.RLock()
	if c, ok := f.clientMap[addr]; ok {
		f.mu.RUnlock()
		return c
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clientMap[addr]; ok {
		return c
	}

	network := "tcp"
	dialAddr := addr
	if strings.HasPrefix(addr, "unix://") {
		network = "unix"
		dialAddr = strings.TrimPrefix(addr, "unix://")
	}

	c := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxConnsPerHost:       f.cfg.MaxConnsPerHost,
			MaxIdleConnsPerHost:   f.cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:       f.cfg.IdleConnTimeout,
			ResponseHeaderTimeout: f.cfg.ResponseHeaderTimeout,
			DisableCompression:    true, // fetcher.uncompress handles br/gzip itself
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return f.dialer.DialContext(ctx, network, dialAddr)
			},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	f.clientMap[addr] = c
	return c
}

// Headers sends bereq to a round-robined backend and returns its
// response headers. Identical concurrent misses (same method+URL+Range)
// collapse through singleflight so only one request actually reaches
// the wire; the rest receive a shared *http.Response.
func (f *Fetcher) Headers(ctx context.Context, bereq *http.Request) (*http.Response, error) {
	addr, err := f.pick()
	if err != nil {
		return nil, err
	}
	client := f.client(addr)

	v, err, _ := f.flight.Do(onceKey(bereq), func() (any, error) {
		req := bereq.Clone(ctx)
		resp, err := client.Do(req)
		if err != nil {
			return nil, mapDialErr(err)
		}
		return uncompress(resp)
	})
	if err != nil {
		return nil, err
	}
	return v.(*http.Response), nil
}

// Body streams resp's body into w and closes resp.Body.
func (f *Fetcher) Body(ctx context.Context, resp *http.Response, w io.Writer) error {
	defer resp.Body.Close()
	_, err := io.Copy(w, resp.Body)
	return err
}

// PipeSession dials bereq's backend directly and splices client <-> the
// backend TCP connection full-duplex, returning once either side
// closes. Used for CONNECT/Upgrade traffic the cache never inspects.
func (f *Fetcher) PipeSession(ctx context.Context, client net.Conn, bereq *http.Request) error {
	addr, err := f.pick()
	if err != nil {
		return err
	}
	network := "tcp"
	dialAddr := addr
	if strings.HasPrefix(addr, "unix://") {
		network = "unix"
		dialAddr = strings.TrimPrefix(addr, "unix://")
	}

	backend, err := f.dialer.DialContext(ctx, network, dialAddr)
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := bereq.Write(backend); err != nil {
		return err
	}

	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(backend, client)
		errc <- err
	}()
	go func() {
		_, err := io.Copy(client, backend)
		errc <- err
	}()
	return <-errc
}

func onceKey(req *http.Request) string {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteString(req.URL.String())
	b.WriteString(req.Header.Get("Range"))
	return b.String()
}

// mapDialErr tags a broken-pooled-connection error as retryable, per
// the FETCH state's one-shot retry contract (engine.ErrFetchRetry).
func mapDialErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && !netErr.Timeout() {
		if strings.Contains(err.Error(), "EOF") || strings.Contains(err.Error(), "connection reset") {
			return engine.ErrFetchRetry
		}
	}
	return err
}

func uncompress(resp *http.Response) (*http.Response, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := newGzipReader(resp.Body)
		if err != nil {
			return resp, err
		}
		resp.ContentLength = -1
		resp.Body = r
	case "br":
		resp.ContentLength = -1
		resp.Body = struct {
			io.Closer
			io.Reader
		}{
			Closer: resp.Body,
			Reader: brotli.NewReader(resp.Body),
		}
	}
	return resp, nil
}
