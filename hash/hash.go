// Package hash implements the cache-index collaborator the request
// state engine calls into from LOOKUP, FETCH, FETCHBODY and PREPRESP:
// a digest-keyed table of objects, with busy-placeholder collapse for
// concurrent misses on the same key, grounded on the keyed-mutex
// resource locker the HTTP round-tripper middleware (no longer in this
// tree) used for the same purpose, and adapted into a
// park/wake queue instead of a blocking RWMutex, since a session must
// free its worker while parked rather than block it.
package hash

import (
	"context"
	"sync"
	"time"

	"github.com/relaycache/relaycache/engine"
	"github.com/relaycache/relaycache/session"
)

// entry is one digest's index slot: either a busy placeholder with a
// queue of parked waiters, or a settled object ready for LookupHit.
type entry struct {
	obj     *engine.ObjCore
	refs    int
	waiters []*session.Session
}

// Index is the default engine.Hash: an in-memory digest table. It holds
// no object bytes itself (Storage does), only the ObjCore index entry
// and the busy/waiter bookkeeping around it.
type Index struct {
	mu      sync.Mutex
	entries map[[32]byte]*entry
	pool    *session.Pool
}

var _ engine.Hash = (*Index)(nil)

// New builds an Index. pool is used to reschedule sessions parked by
// Lookup once the busy entry they collided with clears; see
// HandleFromWaiter. pool may be nil at construction time (the pool
// itself is normally built after the Engine it belongs to, and the
// Engine needs its Hash before that) — call SetPool once it exists.
func New(pool *session.Pool) *Index {
	return &Index{
		entries: make(map[[32]byte]*entry),
		pool:    pool,
	}
}

// SetPool attaches the session.Pool used to reschedule parked waiters,
// for callers that must build Index before the pool exists.
func (h *Index) SetPool(pool *session.Pool) {
	h.mu.Lock()
	h.pool = pool
	h.mu.Unlock()
}

// Lookup returns the object at digest, installs a fresh busy
// placeholder if none exists, or parks the calling session (recovered
// from ctx, see engine.SessionFromContext) behind the colliding busy
// entry.
func (h *Index) Lookup(ctx context.Context, digest [32]byte) (engine.LookupOutcome, *engine.ObjCore) {
	h.mu.Lock()

	e, ok := h.entries[digest]
	if !ok {
		oc := &engine.ObjCore{Digest: digest, Busy: true}
		h.entries[digest] = &entry{obj: oc}
		h.mu.Unlock()
		return engine.LookupNewBusy, oc
	}

	if e.obj.Busy {
		if sess := engine.SessionFromContext(ctx); sess != nil {
			e.waiters = append(e.waiters, sess)
		}
		h.mu.Unlock()
		return engine.LookupPark, nil
	}

	e.refs++
	obj := e.obj
	h.mu.Unlock()
	return engine.LookupHit, obj
}

// Deref drops one reference to oc. It never evicts: Expiry owns
// removal, this only tracks live holders so a concurrent evict can tell
// whether oc is still in use.
func (h *Index) Deref(oc *engine.ObjCore) {
	h.mu.Lock()
	if e, ok := h.entries[oc.Digest]; ok && e.refs > 0 {
		e.refs--
	}
	h.mu.Unlock()
}

// Drop removes oc's digest entirely and wakes anything parked behind
// it. Parked sessions re-enter LOOKUP and, finding the entry gone,
// become the new busy owner themselves.
func (h *Index) Drop(oc *engine.ObjCore) {
	h.mu.Lock()
	e, ok := h.entries[oc.Digest]
	var waiters []*session.Session
	if ok {
		waiters = e.waiters
		delete(h.entries, oc.Digest)
	}
	h.mu.Unlock()
	h.wake(waiters)
}

// Unbusy clears oc's BUSY flag and installs it as the entry's settled
// object (oc is typically not the same *ObjCore pointer Lookup handed
// back — FETCHBODY allocates a fresh one from Storage and carries the
// digest forward — so entries are keyed and replaced by digest, not by
// pointer identity). Parked waiters are woken to re-Lookup and hit.
func (h *Index) Unbusy(oc *engine.ObjCore) {
	oc.Busy = false

	h.mu.Lock()
	e, ok := h.entries[oc.Digest]
	if !ok {
		e = &entry{}
		h.entries[oc.Digest] = e
	}
	e.obj = oc
	waiters := e.waiters
	e.waiters = nil
	h.mu.Unlock()

	h.wake(waiters)
}

// Prealloc reserves a digest slot before the response body is known,
// for callers that need a placeholder ObjCore ahead of a Storage
// allocation (synthesized error objects). It does not park or collapse
// concurrent callers the way Lookup does.
func (h *Index) Prealloc(digest [32]byte) *engine.ObjCore {
	oc := &engine.ObjCore{Digest: digest, Busy: true}

	h.mu.Lock()
	h.entries[digest] = &entry{obj: oc}
	h.mu.Unlock()

	return oc
}

func (h *Index) wake(waiters []*session.Session) {
	if len(waiters) == 0 || h.pool == nil {
		return
	}
	now := time.Now()
	for _, sess := range waiters {
		_ = h.pool.HandleFromWaiter(sess, now)
	}
}

// Len reports the number of live digest entries, for metrics.
func (h *Index) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
