// Package session implements the Session Pool: amortised session
// allocation/recycling and the per-pool request-record micro-pool.
package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Logger is the narrow logging surface Pool needs; contrib/log's
// Helper satisfies it.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// WorkerPool is the consumed scheduler collaborator: it hands a Session
// to some worker goroutine for its next non-yielding run. Schedule
// returns a non-nil error when the work queue is saturated; Pool treats
// that as "drop the connection", per spec.
type WorkerPool interface {
	Schedule(sess *Session) error
}

// Params are the stability parameters recorded at allocation time. A
// session recycled from the freelist is only reused as-is when these are
// unchanged from the pool's current configuration; otherwise its memory
// is discarded instead of recycled (see Delete).
type Params struct {
	WorkspaceSize int
	HTTPReqSize   int
	HTTPReqHdrLen int
	PoolCap       int
}

// Pool is the Session Pool (SP): a freelist of recyclable Session
// allocations plus a micro-pool of Request records, both guarded by
// small, low-contention mutex sections.
type Pool struct {
	id     string
	params Params
	wp     WorkerPool
	log    Logger

	mu       sync.Mutex
	freelist []*Session
	nsess    int

	reqMu   sync.Mutex
	reqPool []*Request

	freedCount atomic.Int64 // deferred accounting, attributed by a worker later
}

// NewPool constructs a Pool bound to a WorkerPool and the given stability
// parameters (spec: new_pool(worker_pool, pool_id) -> Pool).
func NewPool(id string, wp WorkerPool, params Params, log Logger) *Pool {
	return &Pool{
		id:     id,
		params: params,
		wp:     wp,
		log:    log,
	}
}

// ID returns the pool's identifier (used in log lines and metrics).
func (p *Pool) ID() string { return p.id }

// NewSession hands the caller a Session ready to enter StateFirst: first
// try the freelist, else allocate one block (Session + Workspace + HTC)
// if the pool is under its cap, else return nil (spec: caller must
// then reject the accept).
func (p *Pool) NewSession(conn net.Conn) *Session {
	p.mu.Lock()
	if n := len(p.freelist); n > 0 {
		s := p.freelist[n-1]
		p.freelist = p.freelist[:n-1]
		p.mu.Unlock()
		s.reset()
		s.Conn = conn
		s.TOpen = time.Now()
		s.TIdle = s.TOpen
		return s
	}
	if p.params.PoolCap > 0 && p.nsess >= p.params.PoolCap {
		p.mu.Unlock()
		return nil
	}
	p.nsess++
	p.mu.Unlock()

	s := &Session{
		Workspace: NewWorkspace(p.params.WorkspaceSize),
		HTC:       NewHTC(p.params.HTTPReqSize, p.params.HTTPReqHdrLen),
		pool:      p,
		State:     StateFirst,
	}
	s.Conn = conn
	s.TOpen = time.Now()
	s.TIdle = s.TOpen
	return s
}

// DeletePool drains the freelist and asserts every allocated session has
// been accounted for (nsess == 0). Call only after every outstanding
// session has gone through Delete.
func (p *Pool) DeletePool() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nsess -= len(p.freelist)
	p.freelist = nil
	if p.nsess != 0 {
		panic(fmt.Sprintf("session: DeletePool %s: nsess = %d, want 0", p.id, p.nsess))
	}
}

// GetReq obtains a Request record for sess from the micro-pool, assigning
// it to sess.Req. A fresh Request is allocated if the micro-pool is
// empty.
func (p *Pool) GetReq(sess *Session) *Request {
	p.reqMu.Lock()
	var req *Request
	if n := len(p.reqPool); n > 0 {
		req = p.reqPool[n-1]
		p.reqPool = p.reqPool[:n-1]
	}
	p.reqMu.Unlock()

	if req == nil {
		req = &Request{}
	} else {
		req.Reset()
	}
	sess.Req = req
	return req
}

// ReleaseReq returns sess's current Request record to the micro-pool and
// clears sess.Req.
func (p *Pool) ReleaseReq(sess *Session) {
	if sess.Req == nil {
		return
	}
	req := sess.Req
	sess.Req = nil
	p.reqMu.Lock()
	p.reqPool = append(p.reqPool, req)
	p.reqMu.Unlock()
}

// Schedule hands sess to the worker pool. On rejection (queue
// saturated), the session is closed and deleted instead, and the caller
// should count the drop (client_drop_late).
func (p *Pool) Schedule(sess *Session) error {
	if err := p.wp.Schedule(sess); err != nil {
		p.Close(sess, "drop-late")
		p.Delete(sess, "drop-late", time.Now())
		return err
	}
	return nil
}

// HandleFromWaiter resumes a session parked behind the waiter: sets
// state to WAIT, stamps the wakeup time, and reschedules.
func (p *Pool) HandleFromWaiter(sess *Session, now time.Time) error {
	sess.State = StateWait
	sess.TIdle = now
	return p.Schedule(sess)
}

// Close closes sess's connection if still open and logs the reason.
func (p *Pool) Close(sess *Session, reason string) {
	if sess.Conn == nil {
		return
	}
	if p.log != nil {
		p.log.Infof("session close sess=%p reason=%s", sess, reason)
	}
	_ = sess.Conn.Close()
	sess.Conn = nil
}

// Delete closes sess if still open, releases any held Request, logs
// session statistics, then either frees the memory (if the pool's
// stability parameters changed or the pool is over capacity) or resets
// and returns it to the freelist.
//
// Freed-count accounting is deferred (via freedCount) rather than
// attributed synchronously here, to avoid adding lock contention on a
// path with no worker readily available to own the stat update.
func (p *Pool) Delete(sess *Session, reason string, now time.Time) {
	if sess.Conn != nil {
		p.Close(sess, reason)
	}
	if sess.Req != nil {
		p.ReleaseReq(sess)
	}
	if p.log != nil {
		p.log.Debugf("session delete sess=%p reason=%s reqs=%d open=%s", sess, reason, sess.ReqCount, now.Sub(sess.TOpen))
	}

	stable := sess.Workspace.Cap() == p.params.WorkspaceSize &&
		sess.HTC.maxSize == p.params.HTTPReqSize

	p.mu.Lock()
	defer p.mu.Unlock()

	if !stable || (p.params.PoolCap > 0 && p.nsess > p.params.PoolCap) {
		p.nsess--
		p.freedCount.Add(1)
		return
	}
	sess.reset()
	p.freelist = append(p.freelist, sess)
}

// FreedCount returns and resets the deferred freed-session counter, for
// a worker to roll up into its periodic stats (spec: "wthread_stats_rate").
func (p *Pool) FreedCount() int64 {
	return p.freedCount.Swap(0)
}

// Live returns the current number of sessions the pool has allocated
// (in the freelist or checked out to a worker).
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nsess
}
