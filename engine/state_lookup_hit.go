package engine

import (
	"io"

	"github.com/relaycache/relaycache/session"
)

// cntLookup reserves a workspace region for the vary-key buffer and
// queries Hash.Lookup. See DESIGN.md for the busy-park handoff: when
// Hash reports LookupPark, the caller (this engine, via the Hash
// implementation) must not touch sess again — the hash layer owns
// rescheduling it into LOOKUP once the colliding busy entry clears,
// typically via Pool.HandleFromWaiter.
func (e *Engine) cntLookup(sess *session.Session) Result {
	req := sess.Req
	req.VaryMark = sess.Workspace.Snapshot()

	outcome, oc := e.Hash.Lookup(reqContext(sess), req.Digest)
	ex := getExt(sess)

	switch outcome {
	case LookupPark:
		return Yield()
	case LookupNewBusy:
		ex.obj = oc
		ex.busy = &BusyObj{Obj: oc}
		return Step(session.StateMiss)
	default: // LookupHit
		sess.Workspace.Rewind(req.VaryMark)
		if oc.Pass {
			if e.Log != nil {
				e.Log.Debugf("HitPass xid=%d", req.XID)
			}
			e.Hash.Deref(oc)
			return Step(session.StatePass)
		}
		ex.obj = oc
		return Step(session.StateHit)
	}
}

// cntHit evaluates Policy.Hit against the looked-up object.
func (e *Engine) cntHit(sess *session.Session) Result {
	req := sess.Req
	ex := getExt(sess)

	var handling Handling = HDELIVER
	if e.Policy != nil {
		handling = e.Policy.Hit(&policyCtx{sess: sess})
	}

	switch handling {
	case HPASS:
		e.Hash.Deref(ex.obj)
		ex.obj = nil
		return Step(session.StatePass)
	case HRESTART:
		e.Hash.Deref(ex.obj)
		ex.obj = nil
		req.Restarts++
		return Step(session.StateRecv)
	case HERROR:
		return Step(session.StateError)
	default: // DELIVER
		if req.HTTP.Body != nil {
			_, _ = io.Copy(io.Discard, req.HTTP.Body)
			_ = req.HTTP.Body.Close()
		}
		if e.Log != nil {
			e.Log.Debugf("Hit xid=%d", req.XID)
		}
		return Step(session.StatePrepResp)
	}
}
