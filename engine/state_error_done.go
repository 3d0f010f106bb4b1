package engine

import (
	"net/http"
	"time"

	"github.com/relaycache/relaycache/session"
)

// cntError synthesizes a minimal error response object and evaluates
// Policy.Error; a RESTART within budget unwinds back to RECV, otherwise
// the connection is forced to close after the response is sent.
func (e *Engine) cntError(sess *session.Session) Result {
	req := sess.Req
	ex := getExt(sess)

	code := req.ErrorCode
	if code < 100 || code > 599 {
		code = http.StatusNotImplemented
	}
	req.ErrorCode = code

	oc, err := e.Storage.NewObject(TRANSIENT, 0, 0)
	if err == nil {
		oc.Code = code
		oc.Header = http.Header{
			"Date":   {time.Now().UTC().Format(http.TimeFormat)},
			"Server": {"relaycache"},
		}
		if req.ErrorReason != "" {
			oc.Header.Set("X-Error-Reason", req.ErrorReason)
		}
		ex.obj = oc
	}

	var handling Handling = HDELIVER
	if e.Policy != nil {
		handling = e.Policy.Error(&policyCtx{sess: sess})
	}

	if handling == HRESTART && req.Restarts < req.MaxRestarts {
		e.releaseObjAndBusy(sess)
		req.Restarts++
		return Step(session.StateRecv)
	}

	req.DoClose = "error"
	req.WantBody = true
	return Step(session.StatePrepResp)
}

// cntDone emits the accounting log line, hands the connection back to
// WAIT (or START, for a pipelined second request already buffered), or
// tears the session down per DoClose / closed fd.
func (e *Engine) cntDone(sess *session.Session) Result {
	req := sess.Req
	now := time.Now()

	if e.Log != nil && req != nil {
		e.Log.Infof("ReqEnd xid=%d t_req=%s t_resp=%s t_idle=%s",
			req.XID, req.RespStart.Sub(req.ReqStart), now.Sub(req.RespStart), now.Sub(req.RespStart))
	}

	if req != nil && req.ESILevel > 0 {
		// ESI child: the parent request continues; this sub-request's
		// worker yields without touching the shared connection again.
		return Yield()
	}

	doClose := req != nil && req.DoClose != ""
	if sess.Conn != nil && doClose {
		e.deleteSession(sess, req.DoClose)
		return Yield()
	}
	if sess.Conn == nil {
		e.deleteSession(sess, "closed")
		return Yield()
	}

	sess.Workspace.Reset()
	if e.Pool != nil {
		e.Pool.ReleaseReq(sess)
	} else {
		sess.Req = nil
	}
	sess.Ext = nil
	sess.TIdle = now

	if sess.HTC.HasPipelined() {
		sess.PipelineCount++
		if e.Pool != nil {
			e.Pool.GetReq(sess)
		} else {
			sess.Req = &session.Request{MaxRestarts: e.Cfg.MaxRestarts}
		}
		return Step(session.StateStart)
	}
	return Step(session.StateWait)
}
