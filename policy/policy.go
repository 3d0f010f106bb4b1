// Package policy provides the default rule-table Policy: the decision
// points a caching reverse proxy makes at each stage of a request,
// grounded on the lookup/cacheability checks the HTTP round-tripper
// middleware made inline (method + Cache-Control gating) before this
// tree switched to dispatching those checks through a named Handling
// at each request-state transition.
package policy

import (
	"net/http"
	"strings"

	v1 "github.com/relaycache/relaycache/api/defined/v1/policy"
)

// Default is the Policy wired in when no configuration overrides it:
// GET/HEAD are the only cacheable methods, any Authorization header
// forces a pass, and error responses aren't
// retried beyond the configured restart budget.
type Default struct {
	// PassMethods lists additional methods (beyond the unconditionally
	// passed ones) treated as PASS at Recv.
	PassMethods map[string]struct{}
}

var cacheableMethods = map[string]struct{}{
	http.MethodGet:  {},
	http.MethodHead: {},
}

func New() *Default {
	return &Default{}
}

// Recv decides LOOKUP vs PASS vs PIPE before the cache key is even
// computed: non-cacheable methods and upgrade/websocket requests never
// touch the cache.
func (p *Default) Recv(ctx v1.Ctx) v1.Handling {
	method := ctx.Method()

	if strings.EqualFold(ctx.Header("Upgrade"), "websocket") {
		return v1.PIPE
	}
	if strings.EqualFold(ctx.Header("Connection"), "upgrade") {
		return v1.PIPE
	}

	if _, ok := cacheableMethods[method]; !ok {
		return v1.PASS
	}
	if _, ok := p.PassMethods[method]; ok {
		return v1.PASS
	}

	if ctx.Header("Authorization") != "" {
		return v1.PASS
	}

	if strings.Contains(ctx.Header("Cookie"), "nocache=1") {
		return v1.PASS
	}

	return v1.LOOKUP
}

// Hash is consulted before the digest is computed; the default never
// overrides the built-in Host+path+query key, so HASH is always legal
// here and the return value is ignored by the caller.
func (p *Default) Hash(ctx v1.Ctx) v1.Handling {
	return v1.HASH
}

// Hit decides what to do with an object found in cache: deliver it,
// unless it's marked hit-for-pass (never stored, so this path isn't
// normally reached for it) or the client explicitly demanded a fresh
// copy via Cache-Control: no-cache.
func (p *Default) Hit(ctx v1.Ctx) v1.Handling {
	if reqNoCache(ctx) {
		return v1.PASS
	}
	return v1.DELIVER
}

// Miss always fetches; a Policy wanting negative caching or
// collapsed forwarding overrides this.
func (p *Default) Miss(ctx v1.Ctx) v1.Handling {
	return v1.FETCH
}

// Pass always fetches for a non-cacheable transaction.
func (p *Default) Pass(ctx v1.Ctx) v1.Handling {
	return v1.FETCH
}

// Pipe is consulted for symmetry with the RSE's PIPE dispatch; its
// return value is ignored (PIPE is the only legal outcome of a pipe
// transaction) but a Policy may use this call to log or meter it.
func (p *Default) Pipe(ctx v1.Ctx) v1.Handling {
	return v1.PIPE
}

// Fetch evaluates the backend response status for hit-for-pass
// eligibility: 5xx and uncacheable 2xx/3xx bodies are stored as
// hit-for-pass so repeat misses on the same key collapse into PASS
// instead of re-fetching serially.
func (p *Default) Fetch(ctx v1.Ctx) v1.Handling {
	code := ctx.RespCode()
	if code >= 500 {
		return v1.HitForPass
	}
	cc := ctx.RespHeader("Cache-Control")
	if strings.Contains(strings.ToLower(cc), "no-store") {
		return v1.HitForPass
	}
	return v1.DELIVER
}

// Deliver is the last gate before bytes go out; the default never
// restarts here.
func (p *Default) Deliver(ctx v1.Ctx) v1.Handling {
	return v1.DELIVER
}

// Error synthesizes the final error response; a Policy overriding this
// to RESTART gets one more pass through RECV within the restart budget.
func (p *Default) Error(ctx v1.Ctx) v1.Handling {
	return v1.DELIVER
}

func reqNoCache(ctx v1.Ctx) bool {
	return strings.Contains(strings.ToLower(ctx.Header("Cache-Control")), "no-cache")
}
