package engine

import (
	"net/http"

	"github.com/relaycache/relaycache/outbuf"
	"github.com/relaycache/relaycache/session"
)

// obChunkWriter adapts an OutputBuffer in chunked mode to io.Writer:
// each Write becomes one chunk, flushed immediately so bytes reach the
// client as soon as the backend produces them (rather than waiting for
// the whole body, which would defeat streaming).
type obChunkWriter struct {
	ob *outbuf.OutputBuffer
}

func (w obChunkWriter) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	if err := w.ob.Write(cp); err != nil {
		return 0, err
	}
	if err := w.ob.Flush(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// cntStreamBody emits status line and headers immediately, begins
// chunked framing (always; no Content-Length is sent on this path),
// drives Fetcher.Body into the connection, then closes out the framing.
func (e *Engine) cntStreamBody(sess *session.Session) Result {
	req := sess.Req
	ex := getExt(sess)
	oc := ex.busy.Obj
	resp := ex.busy.BackendResp

	ob := e.ob(sess)
	proto := "HTTP/1.1"
	if !req.HTTP.ProtoAtLeast(1, 1) {
		proto = "HTTP/1.0"
	}
	_ = writeStatusLine(ob, proto, oc.Code)
	hdrs := oc.Header.Clone()
	hdrs.Del("Content-Length")
	hdrs.Set("Transfer-Encoding", "chunked")
	_ = writeHeaders(ob, hdrs)

	chunkErr := ob.Chunked()
	if chunkErr == nil && req.HTTP.Method != http.MethodHead {
		w := obChunkWriter{ob: ob}
		if err := e.Fetcher.Body(reqContext(sess), resp, w); err != nil && e.Log != nil {
			e.Log.Warnf("stream body xid=%d err=%v", req.XID, err)
		}
	}
	_ = ob.EndChunk()

	if e.Expiry != nil && !oc.Pass {
		e.Expiry.Insert(oc)
	}
	e.Hash.Unbusy(oc)

	e.releaseObjAndBusy(sess)
	return Step(session.StateDone)
}
