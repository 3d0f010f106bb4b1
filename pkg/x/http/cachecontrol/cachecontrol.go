// Package cachecontrol parses the Cache-Control request/response
// header per RFC 7234 5.2 into the directives that drive freshness
// and storability decisions.
package cachecontrol

import (
	"strconv"
	"strings"
	"time"
)

// Directives holds the parsed Cache-Control header fields relevant to
// a caching reverse proxy. Unknown directives are ignored.
type Directives struct {
	maxAge        time.Duration
	hasMaxAge     bool
	sMaxAge       time.Duration
	hasSMaxAge    bool
	noCache       bool
	noStore       bool
	private       bool
	public        bool
	mustRevalidate bool
	staleWhileRevalidate time.Duration
	hasSWR        bool
}

// MaxAge returns the max-age directive's duration, or 0 if absent.
func (d Directives) MaxAge() time.Duration { return d.maxAge }

// HasMaxAge reports whether max-age was present.
func (d Directives) HasMaxAge() bool { return d.hasMaxAge }

// SMaxAge returns the s-maxage directive's duration, or 0 if absent.
func (d Directives) SMaxAge() time.Duration { return d.sMaxAge }

// HasSMaxAge reports whether s-maxage was present.
func (d Directives) HasSMaxAge() bool { return d.hasSMaxAge }

// NoCache reports whether no-cache was present (forces revalidation).
func (d Directives) NoCache() bool { return d.noCache }

// NoStore reports whether no-store was present (never cache).
func (d Directives) NoStore() bool { return d.noStore }

// Private reports whether the private directive was present.
func (d Directives) Private() bool { return d.private }

// MustRevalidate reports whether must-revalidate was present.
func (d Directives) MustRevalidate() bool { return d.mustRevalidate }

// StaleWhileRevalidate returns the stale-while-revalidate window, if present.
func (d Directives) StaleWhileRevalidate() (time.Duration, bool) { return d.staleWhileRevalidate, d.hasSWR }

// Cacheable reports whether the header, taken alone, permits storing a
// shared-cache copy of the response: no-store and private both forbid
// it; everything else is permissive (freshness is decided separately).
func (d Directives) Cacheable() bool {
	if d.noStore || d.private {
		return false
	}
	return true
}

// Parse parses a raw Cache-Control header value. An empty string
// yields a zero Directives (Cacheable() true, no max-age).
func Parse(header string) Directives {
	var d Directives
	if header == "" {
		return d
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, _ := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		val = strings.Trim(strings.TrimSpace(val), `"`)

		switch name {
		case "no-store":
			d.noStore = true
		case "no-cache":
			d.noCache = true
		case "private":
			d.private = true
		case "public":
			d.public = true
		case "must-revalidate", "proxy-revalidate":
			d.mustRevalidate = true
		case "max-age":
			if secs, err := strconv.Atoi(val); err == nil {
				d.maxAge = time.Duration(secs) * time.Second
				d.hasMaxAge = true
			}
		case "s-maxage":
			if secs, err := strconv.Atoi(val); err == nil {
				d.sMaxAge = time.Duration(secs) * time.Second
				d.hasSMaxAge = true
			}
		case "stale-while-revalidate":
			if secs, err := strconv.Atoi(val); err == nil {
				d.staleWhileRevalidate = time.Duration(secs) * time.Second
				d.hasSWR = true
			}
		}
	}
	return d
}
