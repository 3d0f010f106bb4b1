package engine

import (
	"bytes"
	"crypto/sha256"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaycache/relaycache/session"
)

type policyCtx struct {
	sess *session.Session

	// hashExtra accumulates the byte strings a Policy.Hash implementation
	// folds into the cache digest, mirroring vcl_hash's hash_data(): the
	// default digest (host/path/query) is always hashed first, then each
	// HashData call appends another component before cntRecv finalises
	// the sum.
	hashExtra [][]byte
}

// HashData appends b to the set of components hashed into the request's
// cache digest. Only meaningful when called from within Policy.Hash;
// calls from any other stage are harmless no-ops since the digest has
// already been finalised by the time they'd run.
func (c *policyCtx) HashData(b []byte) {
	c.hashExtra = append(c.hashExtra, append([]byte(nil), b...))
}

func (c *policyCtx) Method() string  { return c.sess.Req.HTTP.Method }
func (c *policyCtx) URLPath() string { return c.sess.Req.HTTP.URL.Path }
func (c *policyCtx) Header(key string) string {
	return c.sess.Req.HTTP.Header.Get(key)
}
func (c *policyCtx) RespHeader(key string) string {
	ex := getExt(c.sess)
	if ex.busy == nil || ex.busy.BackendResp == nil {
		return ""
	}
	return ex.busy.BackendResp.Header.Get(key)
}
func (c *policyCtx) RespCode() int {
	ex := getExt(c.sess)
	if ex.busy == nil || ex.busy.BackendResp == nil {
		return 0
	}
	return ex.busy.BackendResp.StatusCode
}
func (c *policyCtx) SetErrorCode(code int, reason string) {
	c.sess.Req.ErrorCode = code
	c.sess.Req.ErrorReason = reason
}
func (c *policyCtx) ErrorCode() int   { return c.sess.Req.ErrorCode }
func (c *policyCtx) Restarts() int    { return c.sess.Req.Restarts }
func (c *policyCtx) MaxRestarts() int { return c.sess.Req.MaxRestarts }

// cntStart assigns the XID, parses the buffered request line and
// headers, snapshots the workspace for a potential restart, handles
// Expect: 100-continue, and determines the close-after-response
// decision from the Connection header.
func (e *Engine) cntStart(sess *session.Session) Result {
	req := sess.Req
	if !sess.HTC.Complete() {
		return Step(session.StateWait)
	}
	req.XID = uint64(NextXID())
	sess.ReqCount++

	httpReq, err := sess.HTC.Request()
	if err != nil {
		e.deleteSession(sess, "junk")
		return Yield()
	}
	req.RespStart = time.Time{}
	req.HTTP = httpReq
	req.Snapshot = sess.Workspace.Snapshot()
	req.Pristine = clonePristine(httpReq)

	if expect := httpReq.Header.Get("Expect"); expect != "" {
		if strings.EqualFold(expect, "100-continue") {
			if sess.Conn != nil {
				_, _ = io.WriteString(sess.Conn, "HTTP/1.1 100 Continue\r\n\r\n")
			}
			httpReq.Header.Del("Expect")
		} else {
			req.ErrorCode = 417
			req.DoClose = "expectation-failed"
			return Step(session.StateError)
		}
	}

	if shouldCloseAfter(httpReq) {
		req.DoClose = "connection-close"
	}

	sess.HTC.Reinit()
	return Step(session.StateRecv)
}

// clonePristine takes a header-only deep copy of req for use as http0:
// the pristine snapshot a restart rewinds to. The body is intentionally
// not duplicated (restarts replay against the backend, not the original
// body bytes, matching spec.md's treatment of the pristine copy as a
// request *shape* snapshot).
func clonePristine(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	clone.Body = http.NoBody
	return clone
}

func shouldCloseAfter(req *http.Request) bool {
	conn := strings.ToLower(req.Header.Get("Connection"))
	if req.ProtoAtLeast(1, 1) {
		return conn == "close"
	}
	return conn != "keep-alive"
}

// cntRecv evaluates Policy.Recv, computes the cache digest, normalises
// Accept-Encoding when gzip support is enabled, and dispatches on the
// returned Handling.
func (e *Engine) cntRecv(sess *session.Session) Result {
	req := sess.Req
	ex := getExt(sess)
	ex.director = "first"

	if req.Restarts >= req.MaxRestarts {
		req.ErrorCode = 503
		return Step(session.StateError)
	}

	if e.Cfg.GzipEnabled {
		normalizeAcceptEncoding(req.HTTP)
	}

	hashCtx := &policyCtx{sess: sess}
	if e.Policy != nil {
		e.Policy.Hash(hashCtx)
	}
	req.Digest = computeDigest(req.HTTP, hashCtx.hashExtra)
	req.WantBody = req.HTTP.Method != http.MethodHead

	var handling Handling = HLOOKUP
	if e.Policy != nil {
		handling = e.Policy.Recv(&policyCtx{sess: sess})
	}

	switch handling {
	case HPIPE:
		return Step(session.StatePipe)
	case HPASS:
		return Step(session.StatePass)
	case HERROR:
		return Step(session.StateError)
	default:
		return Step(session.StateLookup)
	}
}

func normalizeAcceptEncoding(req *http.Request) {
	ae := req.Header.Get("Accept-Encoding")
	if ae == "" {
		return
	}
	if strings.Contains(strings.ToLower(ae), "gzip") {
		req.Header.Set("Accept-Encoding", "gzip")
	} else {
		req.Header.Del("Accept-Encoding")
	}
}

// computeDigest derives the 256-bit cache-key digest from the method-
// agnostic request identity (host/path/query) plus whatever extra
// components Policy.Hash chose to fold in via Ctx.HashData. No
// Vary-derived component is folded into the digest.
func computeDigest(req *http.Request, extra [][]byte) [32]byte {
	var buf bytes.Buffer
	buf.WriteString(req.Host)
	buf.WriteString(req.URL.Path)
	if req.URL.RawQuery != "" {
		buf.WriteByte('?')
		buf.WriteString(req.URL.RawQuery)
	}
	for _, e := range extra {
		buf.Write(e)
	}
	return sha256.Sum256(buf.Bytes())
}
