package session

import (
	"net"
	"net/http"
	"time"
)

// Request is the per-transaction record: lifetime is one HTTP request
// within a session, even across a policy-driven restart. It is fetched
// from the owning Pool's request micro-pool on entry to WAIT and
// returned on the next entry to WAIT or on session deletion.
type Request struct {
	ReqStart  time.Time
	RespStart time.Time

	XID      uint64
	Restarts int

	// Snapshot is a workspace mark taken right after parsing, so a
	// restart can rewind to the pristine request.
	Snapshot int
	// VaryMark is a workspace mark bracketing the vary-key buffer
	// reserved in LOOKUP.
	VaryMark int

	HTTP     *http.Request // the live, possibly-filtered request
	Pristine *http.Request // http0: deep copy taken at START, never mutated

	Digest [32]byte // 256-bit cache-key digest computed in RECV

	BodyBytes     int64
	ContentLength int64

	WantBody       bool
	SendBody       bool
	DisableESI     bool
	HashAlwaysMiss bool
	HashIgnoreBusy bool
	DoClose        string // non-empty ⇒ close instead of recycle, and why

	ESILevel    int
	MaxRestarts int

	ErrorCode   int
	ErrorReason string
}

// Reset clears a Request for reuse from the micro-pool. Every field is
// zeroed, XID included (callers assign a fresh one), except MaxRestarts,
// which is kept.
func (r *Request) Reset() {
	*r = Request{MaxRestarts: r.MaxRestarts}
}

// Session is the state of one client TCP connection, across potentially
// many requests. Sessions are allocated (or recycled) in one block by a
// Pool: the Session record itself plus its two header scratch areas
// (held implicitly via Workspace-backed *http.Request values) and its
// Workspace.
type Session struct {
	Conn net.Conn

	LocalAddr, LocalPort   string
	RemoteAddr, RemotePort string

	TOpen     time.Time
	TIdle     time.Time
	TReqStart time.Time
	TRespStart time.Time

	State State

	Workspace *Workspace

	Req *Request
	HTC *HTC

	// Accounting, rolled up into the pool's worker-wide counters.
	ReqCount      uint64
	PipelineCount uint64

	// Ext is an opaque slot the request state engine uses to stash its
	// own per-session state (in-flight BusyObj, held ObjCore reference,
	// output buffer) without this package importing engine and creating
	// an import cycle. Nothing in this package reads or writes it except
	// reset, which clears it between lifetimes.
	Ext any

	pool *Pool
}

// SetAddrs records the connection's local and remote address/port
// strings. Unlike the historical source (see DESIGN.md: the "-" literal
// was written into the wrong field when the port half of a peer name was
// empty), this records both sides unconditionally and does not defer
// either half to a later, skippable step.
func (s *Session) SetAddrs(localAddr, localPort, remoteAddr, remotePort string) {
	if localAddr == "" {
		localAddr = "-"
	}
	if localPort == "" {
		localPort = "-"
	}
	if remoteAddr == "" {
		remoteAddr = "-"
	}
	if remotePort == "" {
		remotePort = "-"
	}
	s.LocalAddr, s.LocalPort = localAddr, localPort
	s.RemoteAddr, s.RemotePort = remoteAddr, remotePort
}

// reset restores a Session to its post-allocation, pre-FIRST state for
// reuse from the freelist. The Workspace and HTC pointers are kept
// (their backing arrays are reused, not reallocated) provided the pool's
// stability parameters have not changed — see Pool.Delete. Req and Ext
// are cleared.
func (s *Session) reset() {
	s.Conn = nil
	s.LocalAddr, s.LocalPort = "", ""
	s.RemoteAddr, s.RemotePort = "", ""
	s.TOpen, s.TIdle, s.TReqStart, s.TRespStart = time.Time{}, time.Time{}, time.Time{}, time.Time{}
	s.State = StateFirst
	s.Req = nil
	s.Ext = nil
	s.ReqCount, s.PipelineCount = 0, 0
	s.Workspace.Reset()
	s.HTC.Init()
}
