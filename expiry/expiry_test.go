package expiry

import (
	"testing"

	"github.com/relaycache/relaycache/engine"
)

func obj(b byte) *engine.ObjCore {
	var d [32]byte
	d[0] = b
	return &engine.ObjCore{Digest: d}
}

func TestInsertAndTouch(t *testing.T) {
	idx := New(8)
	oc := obj(1)

	idx.Insert(oc)
	if idx.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", idx.Len())
	}

	if !idx.Touch(oc) {
		t.Fatalf("Touch on an inserted object should report true")
	}
}

func TestTouchUntrackedReportsFalse(t *testing.T) {
	idx := New(8)
	oc := obj(2)

	if idx.Touch(oc) {
		t.Fatalf("Touch on an object never Inserted should report false")
	}
}

func TestTouchNilIsNoop(t *testing.T) {
	idx := New(8)
	if idx.Touch(nil) {
		t.Fatalf("Touch(nil) should report false")
	}
	idx.Insert(nil) // must not panic
}

func TestEvictionOnCapacity(t *testing.T) {
	idx := New(1)

	first := obj(3)
	second := obj(4)

	idx.Insert(first)
	idx.Insert(second)

	select {
	case ev := <-idx.Evicted:
		if ev.Key != first.Digest {
			t.Fatalf("evicted the wrong digest: got %x, want %x", ev.Key, first.Digest)
		}
	default:
		t.Fatalf("expected an eviction once capacity 1 is exceeded")
	}

	if idx.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after eviction", idx.Len())
	}
}

func TestTouchRateIncreasesWithActivity(t *testing.T) {
	idx := New(8)
	oc := obj(5)

	idx.Insert(oc)
	idx.Touch(oc)
	idx.Touch(oc)

	if idx.TouchRate() <= 0 {
		t.Fatalf("TouchRate() = %d, want > 0 after inserts/touches", idx.TouchRate())
	}
}
