package engine

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/relaycache/relaycache/api/defined/v1/policy"
	"github.com/relaycache/relaycache/session"
)

// fakeHash is a minimal engine.Hash stand-in: every digest is a miss on
// first lookup, and whatever gets Unbusy'd afterward is a hit on the
// next lookup. Good enough to drive LOOKUP without the real index.
type fakeHash struct {
	entries map[[32]byte]*ObjCore
}

func newFakeHash() *fakeHash { return &fakeHash{entries: map[[32]byte]*ObjCore{}} }

func (h *fakeHash) Lookup(ctx context.Context, digest [32]byte) (LookupOutcome, *ObjCore) {
	if oc, ok := h.entries[digest]; ok && !oc.Busy {
		return LookupHit, oc
	}
	oc := &ObjCore{Digest: digest, Busy: true}
	h.entries[digest] = oc
	return LookupNewBusy, oc
}
func (h *fakeHash) Deref(oc *ObjCore) {}
func (h *fakeHash) Drop(oc *ObjCore) { delete(h.entries, oc.Digest) }
func (h *fakeHash) Unbusy(oc *ObjCore) {
	oc.Busy = false
	h.entries[oc.Digest] = oc
}
func (h *fakeHash) Prealloc(digest [32]byte) *ObjCore {
	oc := &ObjCore{Digest: digest, Busy: true}
	h.entries[digest] = oc
	return oc
}

type fakeExpiry struct{ touched int }

func (e *fakeExpiry) Insert(oc *ObjCore)    {}
func (e *fakeExpiry) Touch(oc *ObjCore) bool { e.touched++; return true }

func newSession(t *testing.T, method, path string) (*session.Session, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	req := httptest.NewRequest(method, path, nil)

	sess := &session.Session{
		Conn:      serverConn,
		Workspace: session.NewWorkspace(4096),
		State:     session.StateLookup,
		Req: &session.Request{
			HTTP:        req,
			MaxRestarts: 4,
		},
	}
	return sess, clientConn
}

func TestLookupMissThenHit(t *testing.T) {
	eng := &Engine{Hash: newFakeHash()}
	sess, _ := newSession(t, http.MethodGet, "/a")

	r := eng.cntLookup(sess)
	if r.IsYield() || r.Next() != session.StateMiss {
		t.Fatalf("first lookup = yield=%v next=%v, want Step(Miss)", r.IsYield(), r.Next())
	}

	ex := getExt(sess)
	if ex.obj == nil || !ex.obj.Busy {
		t.Fatalf("first lookup should install a busy object")
	}

	eng.Hash.Unbusy(ex.obj)

	sess2, _ := newSession(t, http.MethodGet, "/a")
	sess2.Req.Digest = sess.Req.Digest
	r2 := eng.cntLookup(sess2)
	if r2.IsYield() || r2.Next() != session.StateHit {
		t.Fatalf("second lookup after Unbusy = yield=%v next=%v, want Step(Hit)", r2.IsYield(), r2.Next())
	}
}

func TestHitDeliversByDefault(t *testing.T) {
	eng := &Engine{Hash: newFakeHash()}
	sess, _ := newSession(t, http.MethodGet, "/a")
	ex := getExt(sess)
	ex.obj = &ObjCore{Code: http.StatusOK, Header: http.Header{}}

	r := eng.cntHit(sess)
	if r.IsYield() || r.Next() != session.StatePrepResp {
		t.Fatalf("cntHit = yield=%v next=%v, want Step(PrepResp)", r.IsYield(), r.Next())
	}
}

func TestPrepRespTouchesExpiryWhenOverdue(t *testing.T) {
	exp := &fakeExpiry{}
	eng := &Engine{Hash: newFakeHash(), Expiry: exp, Cfg: Config{LRUTimeout: time.Millisecond}}
	sess, _ := newSession(t, http.MethodGet, "/a")
	ex := getExt(sess)
	ex.obj = &ObjCore{Code: http.StatusOK, Header: http.Header{}, LastUse: time.Now().Add(-time.Hour)}

	r := eng.cntPrepResp(sess)
	if r.IsYield() || r.Next() != session.StateDeliver {
		t.Fatalf("cntPrepResp = yield=%v next=%v, want Step(Deliver)", r.IsYield(), r.Next())
	}
	if exp.touched != 1 {
		t.Fatalf("touched = %d, want 1 for an overdue object", exp.touched)
	}
}

type passAlwaysPolicy struct{}

func (passAlwaysPolicy) Recv(ctx policy.Ctx) policy.Handling    { return policy.LOOKUP }
func (passAlwaysPolicy) Hash(ctx policy.Ctx) policy.Handling    { return policy.HASH }
func (passAlwaysPolicy) Hit(ctx policy.Ctx) policy.Handling     { return policy.PASS }
func (passAlwaysPolicy) Miss(ctx policy.Ctx) policy.Handling    { return policy.FETCH }
func (passAlwaysPolicy) Pass(ctx policy.Ctx) policy.Handling    { return policy.FETCH }
func (passAlwaysPolicy) Pipe(ctx policy.Ctx) policy.Handling    { return policy.PIPE }
func (passAlwaysPolicy) Deliver(ctx policy.Ctx) policy.Handling { return policy.DELIVER }
func (passAlwaysPolicy) Fetch(ctx policy.Ctx) policy.Handling   { return policy.DELIVER }
func (passAlwaysPolicy) Error(ctx policy.Ctx) policy.Handling   { return policy.DELIVER }

func TestHitPolicyPassDerefsObject(t *testing.T) {
	h := newFakeHash()
	eng := &Engine{Hash: h, Policy: passAlwaysPolicy{}}
	sess, _ := newSession(t, http.MethodGet, "/a")
	ex := getExt(sess)
	ex.obj = &ObjCore{Code: http.StatusOK, Header: http.Header{}}

	r := eng.cntHit(sess)
	if r.IsYield() || r.Next() != session.StatePass {
		t.Fatalf("cntHit under a PASS policy = yield=%v next=%v, want Step(Pass)", r.IsYield(), r.Next())
	}
	if ex.obj != nil {
		t.Fatalf("cntHit should clear ex.obj on PASS")
	}
}

type hashOnHeaderPolicy struct{ header string }

func (p hashOnHeaderPolicy) Recv(ctx policy.Ctx) policy.Handling { return policy.LOOKUP }
func (p hashOnHeaderPolicy) Hash(ctx policy.Ctx) policy.Handling {
	ctx.HashData([]byte(ctx.Header(p.header)))
	return policy.HASH
}
func (hashOnHeaderPolicy) Hit(ctx policy.Ctx) policy.Handling     { return policy.DELIVER }
func (hashOnHeaderPolicy) Miss(ctx policy.Ctx) policy.Handling    { return policy.FETCH }
func (hashOnHeaderPolicy) Pass(ctx policy.Ctx) policy.Handling    { return policy.FETCH }
func (hashOnHeaderPolicy) Pipe(ctx policy.Ctx) policy.Handling    { return policy.PIPE }
func (hashOnHeaderPolicy) Deliver(ctx policy.Ctx) policy.Handling { return policy.DELIVER }
func (hashOnHeaderPolicy) Fetch(ctx policy.Ctx) policy.Handling   { return policy.DELIVER }
func (hashOnHeaderPolicy) Error(ctx policy.Ctx) policy.Handling   { return policy.DELIVER }

func TestRecvHashesInPolicyHashData(t *testing.T) {
	eng := &Engine{Hash: newFakeHash(), Policy: hashOnHeaderPolicy{header: "X-Shard"}}

	sessA, _ := newSession(t, http.MethodGet, "/a")
	sessA.Req.HTTP.Header.Set("X-Shard", "one")
	if r := eng.cntRecv(sessA); r.IsYield() || r.Next() != session.StateLookup {
		t.Fatalf("cntRecv = yield=%v next=%v, want Step(Lookup)", r.IsYield(), r.Next())
	}

	sessB, _ := newSession(t, http.MethodGet, "/a")
	sessB.Req.HTTP.Header.Set("X-Shard", "two")
	if r := eng.cntRecv(sessB); r.IsYield() || r.Next() != session.StateLookup {
		t.Fatalf("cntRecv = yield=%v next=%v, want Step(Lookup)", r.IsYield(), r.Next())
	}

	if sessA.Req.Digest == sessB.Req.Digest {
		t.Fatalf("Policy.Hash's HashData should make the two requests hash differently")
	}
}

func TestMissAcquiresBusyAndForcesGET(t *testing.T) {
	eng := &Engine{Hash: newFakeHash(), Cfg: Config{GzipEnabled: true}}
	sess, _ := newSession(t, http.MethodPost, "/a")
	ex := getExt(sess)
	ex.obj = &ObjCore{Busy: true}
	ex.busy = &BusyObj{Obj: ex.obj}

	r := eng.cntMiss(sess)
	if r.IsYield() || r.Next() != session.StateFetch {
		t.Fatalf("cntMiss = yield=%v next=%v, want Step(Fetch)", r.IsYield(), r.Next())
	}
	if ex.busy.BackendReq.Method != http.MethodGet {
		t.Fatalf("cntMiss should force the backend request method to GET, got %s", ex.busy.BackendReq.Method)
	}
	if ex.busy.BackendReq.Header.Get("Accept-Encoding") != "gzip" {
		t.Fatalf("cntMiss should set Accept-Encoding: gzip when GzipEnabled")
	}
}

func TestDeliverWritesStatusAndBody(t *testing.T) {
	eng := &Engine{Hash: newFakeHash(), Cfg: Config{OutbufCapacity: 4096, SendTimeout: time.Second}}
	sess, clientConn := newSession(t, http.MethodGet, "/a")

	ex := getExt(sess)
	ex.obj = &ObjCore{
		Code:   http.StatusOK,
		Header: http.Header{"X-Test": []string{"1"}},
		Size:   5,
		Body: func() (io.ReadCloser, error) {
			return io.NopCloser(newStringReader("hello")), nil
		},
	}

	readDone := make(chan []byte, 1)
	go func() {
		out, _ := io.ReadAll(clientConn)
		readDone <- out
	}()

	r := eng.cntDeliver(sess)
	if r.IsYield() || r.Next() != session.StateDone {
		t.Fatalf("cntDeliver = yield=%v next=%v, want Step(Done)", r.IsYield(), r.Next())
	}
	// io.ReadAll on the client side only returns once it sees EOF, which
	// a net.Pipe only produces once the other end closes.
	sess.Conn.Close()

	select {
	case out := <-readDone:
		reader := bufio.NewReader(newStringReader(string(out)))
		statusLine, _ := reader.ReadString('\n')
		if statusLine != "HTTP/1.1 200 OK\r\n" {
			t.Fatalf("status line = %q", statusLine)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing was written to the client connection")
	}

	if getExt(sess).obj != nil {
		t.Fatalf("cntDeliver should release the object reference")
	}
}

func TestDeliverServesPartialContentForRangeRequest(t *testing.T) {
	eng := &Engine{Hash: newFakeHash(), Cfg: Config{OutbufCapacity: 4096, SendTimeout: time.Second}}
	sess, clientConn := newSession(t, http.MethodGet, "/a")
	sess.Req.HTTP.Header.Set("Range", "bytes=2-5")

	ex := getExt(sess)
	ex.obj = &ObjCore{
		Code:   http.StatusOK,
		Header: http.Header{},
		Size:   10,
		Body: func() (io.ReadCloser, error) {
			return io.NopCloser(newStringReader("0123456789")), nil
		},
	}

	if r := eng.cntPrepResp(sess); r.IsYield() || r.Next() != session.StateDeliver {
		t.Fatalf("cntPrepResp = yield=%v next=%v, want Step(Deliver)", r.IsYield(), r.Next())
	}
	if ex.rng == nil || ex.rng.Start != 2 || ex.rng.End != 5 {
		t.Fatalf("cntPrepResp should resolve a 2-5 range, got %+v", ex.rng)
	}

	readDone := make(chan []byte, 1)
	go func() {
		out, _ := io.ReadAll(clientConn)
		readDone <- out
	}()

	r := eng.cntDeliver(sess)
	if r.IsYield() || r.Next() != session.StateDone {
		t.Fatalf("cntDeliver = yield=%v next=%v, want Step(Done)", r.IsYield(), r.Next())
	}
	sess.Conn.Close()

	select {
	case out := <-readDone:
		text := string(out)
		if !strings.Contains(text, "206 Partial Content") {
			t.Fatalf("response missing 206 status, got %q", text)
		}
		if !strings.Contains(text, "Content-Range: bytes 2-5/10") {
			t.Fatalf("response missing Content-Range header, got %q", text)
		}
		if !strings.HasSuffix(text, "2345") {
			t.Fatalf("response body = %q, want suffix 2345", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing was written to the client connection")
	}
}

func newStringReader(s string) io.Reader { return &stringReader{s: s} }

type stringReader struct {
	s string
	i int
}

func (r *stringReader) Read(p []byte) (int, error) {
	if r.i >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.i:])
	r.i += n
	return n, nil
}
