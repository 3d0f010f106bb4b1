// Package engine implements the Request State Engine (RSE): the
// deterministic, table-dispatched state machine that drives one session
// from FIRST through DONE, consuming Policy, Hash, Fetcher, Storage and
// Expiry at the points spec.md names.
package engine

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/relaycache/relaycache/api/defined/v1/policy"
)

// TRANSIENT names the short-lived storage fallback used when the
// preferred storage pool is full or no named backend applies.
const TRANSIENT = "transient"

// ObjCore is a cached artifact's index entry: the engine only ever holds
// a reference to one, never the storage bytes directly.
type ObjCore struct {
	Digest [32]byte

	// Busy is true while a MISS/PASS fetch that owns this entry is still
	// in flight; Hash.Lookup returning a busy ObjCore to a second caller
	// is the "collided with a busy peer" outcome.
	Busy bool
	// Pass marks this digest as hit-for-pass: future lookups should not
	// attempt to cache a response for it.
	Pass bool

	XID int64

	Code        int
	Header      http.Header
	Size        int64
	Body        func() (io.ReadCloser, error)
	LastUse     time.Time
	LastModTime time.Time
	ETag        string
	ExpiresAt   time.Time
	Grace       time.Duration
	Keep        time.Duration
	VaryKey     string
}

// BusyObj is transient state for a backend fetch in progress, owned by
// the worker for the duration of the fetch. It is never itself cached;
// it produces (or fails to produce) an ObjCore.
type BusyObj struct {
	BackendReq  *http.Request
	BackendResp *http.Response

	TTL     time.Duration
	Grace   time.Duration
	Keep    time.Duration
	Entered time.Time

	// VFP selects the body transform pipeline; precedence is
	// ESI > gunzip > gzip > test-gzip > identity.
	VFP string

	DoStream     bool
	DoGzip       bool
	DoGunzip     bool
	DoESI        bool
	IsGzip       bool
	IsGunzip     bool
	ShouldClose  bool
	HContentLen  int64
	ForPass      bool
	HitForPass   bool

	Obj *ObjCore
}

const (
	VFPIdentity = ""
	VFPTestGzip = "test-gzip"
	VFPGzip     = "gzip"
	VFPGunzip   = "gunzip"
	VFPESI      = "esi"
)

// LookupOutcome is the three-way result of Hash.Lookup.
type LookupOutcome int

const (
	// LookupPark means the digest collided with a busy peer entry; the
	// hash layer will re-schedule the caller in LOOKUP once that entry
	// leaves BUSY. The caller must not touch the session after this
	// returns — see DESIGN.md's note on the busy-park handoff.
	LookupPark LookupOutcome = iota
	// LookupNewBusy means a fresh placeholder (BUSY) was installed on the
	// caller's behalf: this is a miss, and the caller now owns it.
	LookupNewBusy
	// LookupHit means an existing object (possibly PASS-marked) was
	// returned.
	LookupHit
)

// Hash is the consumed cache-index collaborator.
type Hash interface {
	// Lookup either returns an existing object, installs and returns a
	// fresh busy placeholder, or reports that the caller must park.
	Lookup(ctx context.Context, digest [32]byte) (LookupOutcome, *ObjCore)
	// Deref drops one reference to oc.
	Deref(oc *ObjCore)
	// Drop removes oc from the index entirely (used on PASS/error paths
	// where the placeholder must not become visible to other lookups).
	Drop(oc *ObjCore)
	// Unbusy clears the BUSY flag, making oc visible to parked lookups.
	Unbusy(oc *ObjCore)
	// Prealloc reserves a digest slot before the body is known. No engine
	// state calls it; FETCHBODY and ERROR allocate via Storage.NewObject.
	Prealloc(digest [32]byte) *ObjCore
}

// ErrFetchRetry is returned by Fetcher.Headers to signal the one-shot
// connection-reuse retry named in spec.md's FETCH state.
var ErrFetchRetry = fetchRetryError{}

type fetchRetryError struct{}

func (fetchRetryError) Error() string { return "engine: backend connection needs retry" }

// Fetcher is the consumed backend-fetch collaborator.
type Fetcher interface {
	// Headers sends bereq and returns the backend response headers
	// (without having read the body). A closed-recycled-connection error
	// that satisfies errors.Is(err, ErrFetchRetry) triggers exactly one
	// retry in FETCH.
	Headers(ctx context.Context, bereq *http.Request) (*http.Response, error)
	// Body streams resp's body into w.
	Body(ctx context.Context, resp *http.Response, w io.Writer) error
	// PipeSession delegates to a full-duplex byte-copy loop between
	// client and the backend connection for bereq, returning once either
	// side closes.
	PipeSession(ctx context.Context, client net.Conn, bereq *http.Request) error
}

// Storage is the consumed object-body allocator.
type Storage interface {
	// NewObject allocates storage for an object whose headers are
	// approximately headerBytes across nHeaders entries. hint names a
	// preferred backend, or TRANSIENT for the short-lived fallback.
	NewObject(hint string, headerBytes, nHeaders int) (*ObjCore, error)
}

// Expiry is the consumed LRU/expiry index.
type Expiry interface {
	Insert(oc *ObjCore)
	Touch(oc *ObjCore) bool
}

// engine declares no WorkerPool of its own: Engine.Drive is invoked
// already running on a worker goroutine and does not schedule itself.

// Policy re-exports the consumed decision interface for callers that
// only import engine.
type Policy = policy.Policy

// Handling re-exports policy.Handling.
type Handling = policy.Handling

const (
	HLOOKUP     = policy.LOOKUP
	HPASS       = policy.PASS
	HPIPE       = policy.PIPE
	HHitForPass = policy.HitForPass
	HDELIVER    = policy.DELIVER
	HFETCH      = policy.FETCH
	HRESTART    = policy.RESTART
	HERROR      = policy.ERROR
	HHASH       = policy.HASH
)
