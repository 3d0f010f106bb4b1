package engine

import (
	"fmt"
	"time"

	"github.com/relaycache/relaycache/outbuf"
	xhttp "github.com/relaycache/relaycache/pkg/x/http"
	"github.com/relaycache/relaycache/session"
)

// Config holds the timeouts and feature toggles the state handlers
// consult. All durations mirror the named spec.md parameters.
type Config struct {
	TimeoutIdle      time.Duration
	TimeoutLinger    time.Duration
	TimeoutReq       time.Duration
	SendTimeout      time.Duration
	LRUTimeout       time.Duration
	ConnectTimeout   time.Duration
	FirstByteTimeout time.Duration
	BetweenBytes     time.Duration

	MaxRestarts int
	GzipEnabled bool

	OutbufCapacity int
}

// Engine wires the consumed collaborators together and drives sessions
// through the state table.
type Engine struct {
	Policy  Policy
	Hash    Hash
	Fetcher Fetcher
	Storage Storage
	Expiry  Expiry

	Pool *session.Pool

	Cfg Config

	Log Logger
}

// Logger is the narrow logging surface the engine needs.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Result is what a state handler returns: either Yield (the worker must
// release the session; it may only be re-entered at a ReentrySafe state)
// or Step to the named next state.
type Result struct {
	yield bool
	next  session.State
}

// Yield parks the session; the worker is freed.
func Yield() Result { return Result{yield: true} }

// Step immediately dispatches next on the same worker.
func Step(next session.State) Result { return Result{next: next} }

func (r Result) IsYield() bool         { return r.yield }
func (r Result) Next() session.State   { return r.next }

// ext is the engine's private per-session extension slot; see
// session.Session.Ext's doc comment for why it lives here instead of on
// Session directly.
type ext struct {
	busy *BusyObj
	obj  *ObjCore
	ob   *outbuf.OutputBuffer

	director string

	// rng is the single byte-range PREPRESP resolved from the request's
	// Range header against a fully-resident object. nil means deliver
	// the whole body.
	rng *xhttp.Range
}

func getExt(sess *session.Session) *ext {
	e, _ := sess.Ext.(*ext)
	if e == nil {
		e = &ext{}
		sess.Ext = e
	}
	return e
}

// handlerTable is the RSE's transition table: one pure-of-the-rest-of-the-
// table function per state. A recursive call chain between states is
// deliberately avoided; Drive is the only loop.
var handlerTable = map[session.State]func(*Engine, *session.Session) Result{
	session.StateFirst:      (*Engine).cntFirst,
	session.StateWait:       (*Engine).cntWait,
	session.StateStart:      (*Engine).cntStart,
	session.StateRecv:       (*Engine).cntRecv,
	session.StateLookup:     (*Engine).cntLookup,
	session.StateHit:        (*Engine).cntHit,
	session.StateMiss:       (*Engine).cntMiss,
	session.StatePass:       (*Engine).cntPass,
	session.StatePipe:       (*Engine).cntPipe,
	session.StateFetch:      (*Engine).cntFetch,
	session.StateFetchBody:  (*Engine).cntFetchBody,
	session.StateStreamBody: (*Engine).cntStreamBody,
	session.StatePrepResp:   (*Engine).cntPrepResp,
	session.StateDeliver:    (*Engine).cntDeliver,
	session.StateError:      (*Engine).cntError,
	session.StateDone:       (*Engine).cntDone,
}

// Drive runs sess from its current state until the session yields,
// closes, or parks. It is invoked on a worker goroutine; re-entry after a
// yield must only happen at a ReentrySafe state (assertion-checked
// here, matching spec.md's "assertion-grade" invariant re-check on every
// STEP).
func (e *Engine) Drive(sess *session.Session) {
	for {
		h, ok := handlerTable[sess.State]
		if !ok {
			panic(fmt.Sprintf("engine: WRONG: no handler for state %s", sess.State))
		}
		r := h(e, sess)
		if r.IsYield() {
			if !sess.State.ReentrySafe() {
				panic(fmt.Sprintf("engine: WRONG: yielded at non-reentrant state %s", sess.State))
			}
			return
		}
		e.checkInvariants(sess, r.Next())
		sess.State = r.Next()
	}
}

// checkInvariants re-checks the spec.md §3 invariant set on every STEP.
func (e *Engine) checkInvariants(sess *session.Session, next session.State) {
	ex := getExt(sess)
	if sess.Req == nil && next != session.StateFirst && next != session.StateWait {
		panic("engine: WRONG: no request record outside FIRST/WAIT")
	}
	if ex.busy != nil && next == session.StateDone {
		panic("engine: WRONG: busyobj still held entering DONE")
	}
	if ex.obj != nil && next == session.StateDone && !isESIChild(sess) {
		panic("engine: WRONG: object reference still held entering DONE")
	}
}

func isESIChild(sess *session.Session) bool {
	return sess.Req != nil && sess.Req.ESILevel > 0
}
