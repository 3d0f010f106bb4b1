package engine

import (
	"net/http"
	"strings"

	xhttp "github.com/relaycache/relaycache/pkg/x/http"
	"github.com/relaycache/relaycache/session"
)

// cntFetchBody selects the body-transform pipeline, allocates object
// storage (falling back to TRANSIENT), copies and filters response
// headers, and decides whether the body will be streamed (continuing at
// PREPRESP/STREAMBODY) or fully read here.
func (e *Engine) cntFetchBody(sess *session.Session) Result {
	req := sess.Req
	ex := getExt(sess)
	busy := ex.busy
	resp := busy.BackendResp

	busy.VFP = selectVFP(req, resp)
	busy.DoStream = busy.VFP != VFPESI && req.ESILevel == 0 && req.HTTP.Method != http.MethodHead

	headerBytes, nHeaders := estimateHeaderSize(resp.Header)

	hint := TRANSIENT
	if !busy.ForPass {
		hint = "default"
	}
	oc, err := e.Storage.NewObject(hint, headerBytes, nHeaders)
	if err != nil {
		oc, err = e.Storage.NewObject(TRANSIENT, headerBytes, nHeaders)
		if err != nil {
			req.ErrorCode = 503
			e.releaseBusy(sess)
			return Step(session.StateError)
		}
	}
	oc.Digest = req.Digest
	oc.Code = resp.StatusCode
	oc.Header = filterResponseHeaders(resp.Header)
	oc.VaryKey = synthesizeVary(req.HTTP, resp.Header)
	oc.Pass = busy.Obj != nil && busy.Obj.Pass
	busy.Obj = oc

	// A 304 from the backend against a conditional we issued upstream
	// satisfies the precondition directly: never stream it as a body.
	if resp.StatusCode == http.StatusNotModified {
		busy.DoStream = false
	}

	if busy.DoStream {
		return Step(session.StatePrepResp)
	}

	if err := e.Fetcher.Body(reqContext(sess), resp, discardWriter{}); err != nil {
		e.Hash.Drop(oc)
		req.ErrorCode = 503
		e.releaseBusy(sess)
		return Step(session.StateError)
	}
	if e.Expiry != nil {
		e.Expiry.Insert(oc)
	}
	e.Hash.Unbusy(oc)
	return Step(session.StatePrepResp)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func selectVFP(req *session.Request, resp *http.Response) string {
	if req.ESILevel >= 0 && strings.Contains(resp.Header.Get("Content-Type"), "esi") {
		return VFPESI
	}
	ce := strings.ToLower(resp.Header.Get("Content-Encoding"))
	switch {
	case ce == "gzip" && !acceptsGzip(req.HTTP):
		return VFPGunzip
	case ce == "" && acceptsGzip(req.HTTP):
		return VFPGzip
	default:
		return VFPIdentity
	}
}

func acceptsGzip(req *http.Request) bool {
	return strings.Contains(strings.ToLower(req.Header.Get("Accept-Encoding")), "gzip")
}

func estimateHeaderSize(h http.Header) (bytes, n int) {
	for k, vv := range h {
		for _, v := range vv {
			bytes += len(k) + len(v) + 4
			n++
		}
	}
	return bytes, n
}

// filterResponseHeaders strips hop-by-hop headers before a response
// becomes cached object state; none of these are meaningful replayed
// against a later client on a cache HIT.
func filterResponseHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	xhttp.CopyHeadersWithout(out, h,
		"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade")
	return out
}

func synthesizeVary(req *http.Request, respHeader http.Header) string {
	vary := respHeader.Get("Vary")
	if vary == "" {
		return ""
	}
	var b strings.Builder
	for _, field := range strings.Split(vary, ",") {
		field = strings.TrimSpace(field)
		if field == "" || field == "*" {
			continue
		}
		b.WriteString(field)
		b.WriteByte('=')
		if strings.EqualFold(field, "Accept-Encoding") {
			if acceptsGzip(req) {
				b.WriteString("gzip")
			}
		} else {
			b.WriteString(req.Header.Get(field))
		}
		b.WriteByte(';')
	}
	return b.String()
}
