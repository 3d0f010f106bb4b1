package engine

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/relaycache/relaycache/session"
)

// cntFetch invokes Fetcher.Headers, classifies the response's body
// framing and TTL, then evaluates Policy.Fetch.
func (e *Engine) cntFetch(sess *session.Session) Result {
	req := sess.Req
	ex := getExt(sess)
	busy := ex.busy

	resp, err := e.Fetcher.Headers(reqContext(sess), busy.BackendReq)
	if err != nil && errors.Is(err, ErrFetchRetry) {
		resp, err = e.Fetcher.Headers(reqContext(sess), busy.BackendReq)
	}
	if err != nil {
		if e.Log != nil {
			e.Log.Warnf("fetch xid=%d err=%v", req.XID, err)
		}
		req.ErrorCode = 503
		e.releaseBusy(sess)
		return Step(session.StateError)
	}

	busy.BackendResp = resp
	busy.HContentLen = resp.ContentLength
	busy.ShouldClose = resp.Close

	entered := time.Now()
	busy.Entered = entered
	if busy.ForPass {
		busy.TTL = -1
	} else {
		busy.TTL, busy.Grace, busy.Keep = computeTTL(resp.Header, entered)
	}

	var handling Handling = HDELIVER
	if e.Policy != nil {
		handling = e.Policy.Fetch(&policyCtx{sess: sess})
	}

	switch handling {
	case HHitForPass:
		if busy.Obj != nil {
			busy.Obj.Pass = true
		}
		busy.HitForPass = true
		return Step(session.StateFetchBody)
	case HERROR:
		_ = resp.Body.Close()
		e.releaseBusy(sess)
		return Step(session.StateError)
	case HRESTART:
		_ = resp.Body.Close()
		e.releaseBusy(sess)
		req.Restarts++
		return Step(session.StateRecv)
	default:
		return Step(session.StateFetchBody)
	}
}

// computeTTL implements the RFC 2616 §13 precedence: Cache-Control
// s-maxage/max-age/no-store/no-cache beat Expires, which beats a
// heuristic (none here — an unset Expires/Cache-Control response gets
// ttl 0, i.e. cacheable only as long as Policy.fetch overrides it).
func computeTTL(h http.Header, entered time.Time) (ttl, grace, keep time.Duration) {
	cc := strings.ToLower(h.Get("Cache-Control"))
	if strings.Contains(cc, "no-store") {
		return -1, 0, 0
	}
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.TrimSpace(directive)
		if v, ok := strings.CutPrefix(directive, "s-maxage="); ok {
			if secs, err := strconv.Atoi(v); err == nil {
				return time.Duration(secs) * time.Second, 0, 0
			}
		}
	}
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "no-cache" || directive == "private" {
			return 0, 0, 0
		}
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil {
				return time.Duration(secs) * time.Second, 0, 0
			}
		}
	}
	if exp := h.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			if d := t.Sub(entered); d > 0 {
				return d, 0, 0
			}
			return 0, 0, 0
		}
	}
	return 0, 0, 0
}
