package hash

import (
	"context"
	"testing"

	"github.com/relaycache/relaycache/engine"
)

func digest(b byte) [32]byte {
	var d [32]byte
	d[0] = b
	return d
}

func TestLookupNewBusyThenPark(t *testing.T) {
	h := New(nil)
	d := digest(1)

	outcome, oc := h.Lookup(context.Background(), d)
	if outcome != engine.LookupNewBusy {
		t.Fatalf("first lookup = %v, want LookupNewBusy", outcome)
	}
	if oc == nil || !oc.Busy {
		t.Fatalf("first lookup should install a busy placeholder, got %+v", oc)
	}

	outcome, oc2 := h.Lookup(context.Background(), d)
	if outcome != engine.LookupPark {
		t.Fatalf("second lookup on busy digest = %v, want LookupPark", outcome)
	}
	if oc2 != nil {
		t.Fatalf("LookupPark should not return an object, got %+v", oc2)
	}

	if got := h.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestUnbusyMakesLookupHit(t *testing.T) {
	h := New(nil)
	d := digest(2)

	_, oc := h.Lookup(context.Background(), d)
	h.Unbusy(oc)

	outcome, hit := h.Lookup(context.Background(), d)
	if outcome != engine.LookupHit {
		t.Fatalf("lookup after Unbusy = %v, want LookupHit", outcome)
	}
	if hit != oc {
		t.Fatalf("lookup after Unbusy returned a different object")
	}
}

func TestDropRemovesEntry(t *testing.T) {
	h := New(nil)
	d := digest(3)

	_, oc := h.Lookup(context.Background(), d)
	h.Unbusy(oc)

	if h.Len() != 1 {
		t.Fatalf("expected one entry before Drop")
	}

	h.Drop(oc)

	if h.Len() != 0 {
		t.Fatalf("expected no entries after Drop, got %d", h.Len())
	}

	outcome, _ := h.Lookup(context.Background(), d)
	if outcome != engine.LookupNewBusy {
		t.Fatalf("lookup after Drop = %v, want LookupNewBusy (fresh slot)", outcome)
	}
}

func TestDerefDecrementsRefs(t *testing.T) {
	h := New(nil)
	d := digest(4)

	_, oc := h.Lookup(context.Background(), d)
	h.Unbusy(oc)

	h.Lookup(context.Background(), d) // refs 1
	if got := h.entries[d].refs; got != 1 {
		t.Fatalf("refs after hit = %d, want 1", got)
	}
	h.Deref(oc) // refs 0, should not panic or underflow
	if got := h.entries[d].refs; got != 0 {
		t.Fatalf("refs after Deref = %d, want 0", got)
	}

	h.Deref(oc) // already zero, must stay a no-op
	if got := h.entries[d].refs; got != 0 {
		t.Fatalf("refs after second Deref = %d, want 0", got)
	}
}

func TestPrealloc(t *testing.T) {
	h := New(nil)
	d := digest(5)

	oc := h.Prealloc(d)
	if !oc.Busy {
		t.Fatalf("Prealloc should install a busy placeholder")
	}
	if h.Len() != 1 {
		t.Fatalf("Prealloc should register a digest entry")
	}

	outcome, got := h.Lookup(context.Background(), d)
	if outcome != engine.LookupPark {
		t.Fatalf("lookup against a preallocated busy slot = %v, want LookupPark", outcome)
	}
	if got != nil {
		t.Fatalf("LookupPark should not return an object")
	}
}

func TestSetPool(t *testing.T) {
	h := New(nil)
	h.SetPool(nil) // must not panic even with a nil pool
}
