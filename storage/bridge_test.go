package storage

import (
	"context"
	"errors"
	"testing"

	storageapi "github.com/relaycache/relaycache/api/defined/v1/storage"
	"github.com/relaycache/relaycache/api/defined/v1/storage/object"
	"github.com/relaycache/relaycache/engine"
)

type fakeBucket struct {
	id       string
	path     string
	stored   []*object.Metadata
	storeErr error
}

func (b *fakeBucket) Close() error { return nil }
func (b *fakeBucket) Lookup(ctx context.Context, id *object.ID) (*object.Metadata, error) {
	return nil, errors.New("not implemented")
}
func (b *fakeBucket) Store(ctx context.Context, meta *object.Metadata) error {
	if b.storeErr != nil {
		return b.storeErr
	}
	b.stored = append(b.stored, meta)
	return nil
}
func (b *fakeBucket) Exist(ctx context.Context, id []byte) bool          { return false }
func (b *fakeBucket) Remove(ctx context.Context, id *object.ID) error    { return nil }
func (b *fakeBucket) Discard(ctx context.Context, id *object.ID) error   { return nil }
func (b *fakeBucket) ID() string                                        { return b.id }
func (b *fakeBucket) Weight() int                                       { return 100 }
func (b *fakeBucket) Allow() int                                        { return 100 }
func (b *fakeBucket) UseAllow() bool                                    { return false }
func (b *fakeBucket) HasBad() bool                                      { return false }
func (b *fakeBucket) Type() string                                      { return "memory" }
func (b *fakeBucket) StoreType() string                                 { return "hot" }
func (b *fakeBucket) Path() string                                      { return b.path }

type fakeBackend struct {
	bucket *fakeBucket
}

func (f *fakeBackend) Close() error { return nil }
func (f *fakeBackend) Select(ctx context.Context, id *object.ID) storageapi.Bucket {
	return f.bucket
}
func (f *fakeBackend) Rebuild(ctx context.Context, buckets []storageapi.Bucket) error { return nil }
func (f *fakeBackend) Buckets() []storageapi.Bucket                                   { return []storageapi.Bucket{f.bucket} }
func (f *fakeBackend) PURGE(storeUrl string, typ storageapi.PurgeControl) error        { return nil }

func TestNewObjectSelectsBucket(t *testing.T) {
	backend := &fakeBackend{bucket: &fakeBucket{id: "b1", path: t.TempDir()}}
	bridge := NewEngineBridge(backend)

	oc, err := bridge.NewObject("default", 256, 4)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	if oc == nil {
		t.Fatalf("NewObject returned a nil object")
	}
	if oc.LastUse.IsZero() {
		t.Fatalf("NewObject should stamp LastUse")
	}
}

func TestNewObjectTransientNeverTouchesBucket(t *testing.T) {
	backend := &fakeBackend{bucket: &fakeBucket{id: "b1", path: t.TempDir()}}
	bridge := NewEngineBridge(backend)

	oc, err := bridge.NewObject(engine.TRANSIENT, 256, 4)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	if oc.Body != nil {
		t.Fatalf("a transient object should have no on-disk Body accessor")
	}
}

func TestNewObjectNoBackendErrors(t *testing.T) {
	bridge := NewEngineBridge(nil)
	if _, err := bridge.NewObject("default", 0, 0); err == nil {
		t.Fatalf("expected an error with no backend configured")
	}
}

func TestPersistWritesMetadata(t *testing.T) {
	bucket := &fakeBucket{id: "b1", path: t.TempDir()}
	backend := &fakeBackend{bucket: bucket}
	bridge := NewEngineBridge(backend)

	var digest [32]byte
	digest[0] = 7
	oc := &engine.ObjCore{Digest: digest, Code: 200, Size: 42}

	if err := bridge.Persist(context.Background(), oc, "gzip"); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(bucket.stored) != 1 {
		t.Fatalf("expected one Store call, got %d", len(bucket.stored))
	}
	if bucket.stored[0].Size != 42 {
		t.Fatalf("stored size = %d, want 42", bucket.stored[0].Size)
	}
	if len(bucket.stored[0].VirtualKey) != 1 || bucket.stored[0].VirtualKey[0] != "gzip" {
		t.Fatalf("stored vary key = %v, want [gzip]", bucket.stored[0].VirtualKey)
	}
}

func TestPersistNilObjectErrors(t *testing.T) {
	bridge := NewEngineBridge(&fakeBackend{bucket: &fakeBucket{}})
	if err := bridge.Persist(context.Background(), nil, ""); err == nil {
		t.Fatalf("expected an error persisting a nil object")
	}
}
