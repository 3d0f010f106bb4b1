package engine

import (
	"net/http"
	"time"

	xhttp "github.com/relaycache/relaycache/pkg/x/http"
	"github.com/relaycache/relaycache/session"
)

// synthesizeBereq builds the backend request from the client request,
// stripping hop-by-hop and connection-management headers per RFC 7230
// (including any extra names the client itself listed in Connection).
// force-GET and gzip injection are applied by the caller where named.
func synthesizeBereq(req *http.Request) *http.Request {
	bereq := req.Clone(req.Context())
	xhttp.RemoveHopByHopHeaders(bereq.Header)
	bereq.Header.Del("Expect")
	return bereq
}

// cntMiss acquires the BusyObj installed by LOOKUP, synthesizes bereq,
// forces GET, and evaluates Policy.Miss.
func (e *Engine) cntMiss(sess *session.Session) Result {
	req := sess.Req
	ex := getExt(sess)
	if ex.busy == nil {
		ex.busy = &BusyObj{}
	}
	bereq := synthesizeBereq(req.HTTP)
	bereq.Method = http.MethodGet
	if e.Cfg.GzipEnabled {
		bereq.Header.Set("Accept-Encoding", "gzip")
	}
	ex.busy.BackendReq = bereq
	ex.busy.Entered = time.Now()

	var handling Handling = HFETCH
	if e.Policy != nil {
		handling = e.Policy.Miss(&policyCtx{sess: sess})
	}
	switch handling {
	case HPASS:
		return Step(session.StatePass)
	case HERROR:
		return Step(session.StateError)
	case HRESTART:
		e.releaseBusy(sess)
		req.Restarts++
		return Step(session.StateRecv)
	default:
		return Step(session.StateFetch)
	}
}

// cntPass acquires a BusyObj for a pass-fetch (never cacheable) and
// evaluates Policy.Pass; only PASS and ERROR are legal outcomes.
func (e *Engine) cntPass(sess *session.Session) Result {
	req := sess.Req
	ex := getExt(sess)
	if ex.busy == nil {
		ex.busy = &BusyObj{ForPass: true}
	}
	ex.busy.ForPass = true
	ex.busy.BackendReq = synthesizeBereq(req.HTTP)
	ex.busy.Entered = time.Now()

	var handling Handling = HFETCH
	if e.Policy != nil {
		handling = e.Policy.Pass(&policyCtx{sess: sess})
	}
	if handling == HERROR {
		return Step(session.StateError)
	}
	return Step(session.StateFetch)
}

// cntPipe acquires a BusyObj, synthesizes bereq, evaluates Policy.Pipe
// (only PIPE is legal), and delegates to the full-duplex copy loop.
func (e *Engine) cntPipe(sess *session.Session) Result {
	req := sess.Req
	ex := getExt(sess)
	ex.busy = &BusyObj{BackendReq: synthesizeBereq(req.HTTP), Entered: time.Now()}

	if e.Policy != nil {
		_ = e.Policy.Pipe(&policyCtx{sess: sess})
	}

	if e.Fetcher != nil && sess.Conn != nil {
		if err := e.Fetcher.PipeSession(reqContext(sess), sess.Conn, ex.busy.BackendReq); err != nil && e.Log != nil {
			e.Log.Warnf("pipe xid=%d err=%v", req.XID, err)
		}
	}
	req.DoClose = "pipe"
	ex.busy = nil
	return Step(session.StateDone)
}

func (e *Engine) releaseBusy(sess *session.Session) {
	ex := getExt(sess)
	if ex.busy != nil && ex.busy.Obj != nil {
		e.Hash.Drop(ex.busy.Obj)
	}
	ex.busy = nil
	ex.obj = nil
}
