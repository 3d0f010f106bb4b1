package engine

import (
	"net"
	"strings"
	"time"

	"github.com/relaycache/relaycache/session"
)

// cntFirst resolves local/peer socket names and logs session-open.
func (e *Engine) cntFirst(sess *session.Session) Result {
	if sess.Conn != nil {
		local, localPort := splitHostPort(sess.Conn.LocalAddr())
		remote, remotePort := splitHostPort(sess.Conn.RemoteAddr())
		sess.SetAddrs(local, localPort, remote, remotePort)
	}
	if e.Log != nil {
		e.Log.Debugf("session open local=%s:%s remote=%s:%s", sess.LocalAddr, sess.LocalPort, sess.RemoteAddr, sess.RemotePort)
	}
	return Step(session.StateWait)
}

func splitHostPort(addr net.Addr) (host, port string) {
	if addr == nil {
		return "", ""
	}
	s := addr.String()
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

// cntWait implements the WAIT state: acquire a request record if absent,
// initialise HTC, then read until the request is complete, the
// connection ends, or a timeout fires. Re-entered from the scheduler
// (fresh connection), from a parked waiter wakeup, or from DONE
// (keep-alive / pipelining).
func (e *Engine) cntWait(sess *session.Session) Result {
	if sess.Req == nil {
		if e.Pool != nil {
			e.Pool.GetReq(sess)
		} else {
			sess.Req = &session.Request{}
		}
		sess.Req.MaxRestarts = e.Cfg.MaxRestarts
	}
	if sess.Req.ReqStart.IsZero() {
		sess.Req.ReqStart = time.Now()
	}
	if !sess.HTC.HasPipelined() {
		sess.HTC.Init()
	}

	for {
		if sess.HTC.Complete() {
			return Step(session.StateStart)
		}

		now := time.Now()
		idleDeadline := sess.TIdle.Add(e.Cfg.TimeoutIdle)
		lingerDeadline := sess.TIdle.Add(e.Cfg.TimeoutLinger)

		if sess.HTC.Len() == 0 && !idleDeadline.After(now) {
			e.deleteSession(sess, "timeout")
			return Yield()
		}
		if sess.HTC.Len() > 0 && !sess.Req.ReqStart.Add(e.Cfg.TimeoutReq).After(now) {
			e.deleteSession(sess, "req timeout")
			return Yield()
		}
		if sess.HTC.Len() == 0 && !lingerDeadline.After(now) {
			// Park: release the request record and hand back to the
			// waiter; the next readable event reschedules us at WAIT.
			if e.Pool != nil {
				e.Pool.ReleaseReq(sess)
			} else {
				sess.Req = nil
			}
			return Yield()
		}

		readDeadline := lingerDeadline
		if idleDeadline.Before(readDeadline) {
			readDeadline = idleDeadline
		}
		if sess.Conn != nil {
			_ = sess.Conn.SetReadDeadline(readDeadline)
		}

		n, err := sess.HTC.ReadFrom(sess.Conn)
		if err != nil {
			if err == session.ErrHTCOverflow {
				e.deleteSession(sess, "overflow")
				return Yield()
			}
			if isTimeout(err) {
				continue
			}
			e.deleteSession(sess, "eof")
			return Yield()
		}
		if n == 0 {
			e.deleteSession(sess, "eof")
			return Yield()
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// deleteSession routes through the owning Pool so the freelist's
// parameter-stability check decides free-vs-recycle; falls back to a
// bare close when the engine is driven without a Pool (e.g. in tests).
func (e *Engine) deleteSession(sess *session.Session, reason string) {
	if e.Log != nil {
		e.Log.Debugf("session delete reason=%s", reason)
	}
	if e.Pool != nil {
		e.Pool.Delete(sess, reason, time.Now())
		return
	}
	if sess.Conn != nil {
		_ = sess.Conn.Close()
		sess.Conn = nil
	}
	sess.Req = nil
}
