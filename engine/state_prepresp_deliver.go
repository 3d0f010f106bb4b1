package engine

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/relaycache/relaycache/outbuf"
	"github.com/relaycache/relaycache/pkg/iobuf"
	xhttp "github.com/relaycache/relaycache/pkg/x/http"
	"github.com/relaycache/relaycache/session"
)

// framing enumerates how PREPRESP decided to delimit the response body.
type framing int

const (
	framingContentLength framing = iota
	framingChunked
	framingClose
	framingNone // HEAD, or an ESI child fragment folded into its parent
)

// cntPrepResp chooses response framing, touches the LRU if due, builds
// the outgoing header set, and evaluates Policy.Deliver.
func (e *Engine) cntPrepResp(sess *session.Session) Result {
	req := sess.Req
	ex := getExt(sess)
	oc := ex.obj
	if oc == nil && ex.busy != nil {
		oc = ex.busy.Obj
	}

	now := time.Now()
	if req.RespStart.IsZero() {
		req.RespStart = now
	}

	if e.Expiry != nil && oc != nil && now.Sub(oc.LastUse) > e.Cfg.LRUTimeout {
		e.Expiry.Touch(oc)
		oc.LastUse = now
	}

	fr := decideFraming(req, ex, oc)
	ex.director = fr.String()
	ex.rng = resolveRange(req, oc, fr)

	var handling Handling = HDELIVER
	if e.Policy != nil {
		handling = e.Policy.Deliver(&policyCtx{sess: sess})
	}

	switch handling {
	case HRESTART:
		if req.Restarts < req.MaxRestarts {
			e.releaseObjAndBusy(sess)
			req.Restarts++
			return Step(session.StateRecv)
		}
		fallthrough
	default: // DELIVER
		streaming := ex.busy != nil && ex.busy.DoStream
		if streaming {
			return Step(session.StateStreamBody)
		}
		return Step(session.StateDeliver)
	}
}

func (f framing) String() string {
	switch f {
	case framingContentLength:
		return "content-length"
	case framingChunked:
		return "chunked"
	case framingClose:
		return "close"
	default:
		return "none"
	}
}

func decideFraming(req *session.Request, ex *ext, oc *ObjCore) framing {
	if req.HTTP.Method == http.MethodHead {
		return framingNone
	}
	if oc != nil && oc.Size == 0 && (ex.busy == nil || !ex.busy.DoStream) {
		return framingContentLength
	}
	if req.ESILevel > 0 {
		return framingNone
	}
	if ex.busy != nil && ex.busy.DoStream {
		if req.HTTP.ProtoAtLeast(1, 1) {
			return framingChunked
		}
		req.DoClose = "EOF mode"
		return framingClose
	}
	return framingContentLength
}

// resolveRange resolves a single satisfiable byte-range against a fully
// resident object (spec.md's sendfile/splice note; SPEC_FULL.md's Range
// / partial-object caching item). Only a GET against a non-streaming,
// fully buffered object with a known size can be range-served; anything
// else (HEAD, chunked/streamed bodies, empty objects, multi-range
// requests) falls back to a full delivery, per RFC 7233 §3.1's license
// to ignore Range on such responses.
func resolveRange(req *session.Request, oc *ObjCore, fr framing) *xhttp.Range {
	if fr != framingContentLength || oc == nil || oc.Body == nil || oc.Size <= 0 {
		return nil
	}
	if req.HTTP.Method != http.MethodGet {
		return nil
	}
	header := req.HTTP.Header.Get("Range")
	if header == "" {
		return nil
	}
	r, err := xhttp.SingleRange(header, uint64(oc.Size))
	if err != nil {
		return nil
	}
	return r
}

func (e *Engine) releaseObjAndBusy(sess *session.Session) {
	ex := getExt(sess)
	if ex.obj != nil {
		e.Hash.Deref(ex.obj)
		ex.obj = nil
	}
	e.releaseBusy(sess)
}

// ob returns the session's lazily-bound OutputBuffer, constructing and
// reserving it against sess.Conn on first use.
func (e *Engine) ob(sess *session.Session) *outbuf.OutputBuffer {
	ex := getExt(sess)
	if ex.ob == nil {
		ex.ob = outbuf.New(e.Cfg.OutbufCapacity)
	}
	if !ex.ob.Bound() && sess.Conn != nil {
		_ = ex.ob.Reserve(sess.Conn, sess.Req.RespStart, e.Cfg.SendTimeout)
	}
	return ex.ob
}

func writeStatusLine(ob *outbuf.OutputBuffer, proto string, code int) error {
	return ob.WriteHeader(fmt.Sprintf("%s %d %s\r\n", proto, code, http.StatusText(code)))
}

func writeHeaders(ob *outbuf.OutputBuffer, h http.Header) error {
	for k, vv := range h {
		for _, v := range vv {
			if err := ob.WriteHeader(k + ": " + v + "\r\n"); err != nil {
				return err
			}
		}
	}
	return ob.WriteHeader("\r\n")
}

// cntDeliver writes headers plus the fully-resident body (already read
// back in FETCHBODY) in one flush, then dereferences the object.
func (e *Engine) cntDeliver(sess *session.Session) Result {
	req := sess.Req
	ex := getExt(sess)
	oc := ex.obj
	if oc == nil && ex.busy != nil {
		oc = ex.busy.Obj
	}

	ob := e.ob(sess)
	proto := "HTTP/1.1"
	if !req.HTTP.ProtoAtLeast(1, 1) {
		proto = "HTTP/1.0"
	}
	code := http.StatusOK
	if oc != nil {
		code = oc.Code
	}
	rng := ex.rng
	size := objSize(oc)
	if rng != nil {
		code = http.StatusPartialContent
	}

	_ = writeStatusLine(ob, proto, code)
	hdrs := http.Header{}
	if oc != nil {
		hdrs = oc.Header.Clone()
	}
	if rng != nil {
		hdrs.Set("Content-Range", rng.ContentRange(uint64(size)))
		hdrs.Set("Content-Length", strconv.FormatInt(rng.RangeLength(size), 10))
	} else {
		hdrs.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	_ = writeHeaders(ob, hdrs)

	if req.HTTP.Method != http.MethodHead && oc != nil && oc.Body != nil {
		if body, err := oc.Body(); err == nil {
			if rng != nil {
				body = iobuf.RangeReader(body, 0, int(rng.End), int(rng.Start), int(rng.End))
			}
			buf := make([]byte, 32*1024)
			for {
				n, rerr := body.Read(buf)
				if n > 0 {
					_ = ob.Write(append([]byte(nil), buf[:n]...))
				}
				if rerr != nil {
					break
				}
			}
			_ = body.Close()
		}
	}
	_ = ob.Flush()

	e.releaseObjAndBusy(sess)
	return Step(session.StateDone)
}

func objSize(oc *ObjCore) int64 {
	if oc == nil {
		return 0
	}
	return oc.Size
}
