package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/relaycache/relaycache/api/defined/v1/storage"
	"github.com/relaycache/relaycache/api/defined/v1/storage/object"
	"github.com/relaycache/relaycache/engine"
)

// EngineBridge adapts a storage.Storage (bucket selection, pebble index)
// to engine.Storage, the single allocation call FETCHBODY makes. Per
// spec.md §6 and SPEC_FULL.md's non-goal note, the state engine's
// contract never depends on what happens to the bytes afterward — actual
// metadata/body persistence is this package's own concern, exercised
// through Persist, not through anything the engine calls.
type EngineBridge struct {
	backend storage.Storage
}

var _ engine.Storage = (*EngineBridge)(nil)

func NewEngineBridge(backend storage.Storage) *EngineBridge {
	return &EngineBridge{backend: backend}
}

// NewObject reserves a fresh object identity (a random path under hint)
// and asks the backend to select a bucket for it. A TRANSIENT hint, or no
// selected bucket, yields an ObjCore with no Body; otherwise Body opens
// the object's file in the selected bucket. No capacity check is made
// here. The digest, status code, headers and size are filled in by
// the caller once they're known (see engine.cntFetchBody); NewObject's
// only job is picking where the bytes will eventually live.
func (b *EngineBridge) NewObject(hint string, headerBytes, nHeaders int) (*engine.ObjCore, error) {
	if b.backend == nil {
		return nil, errors.New("storage: no backend configured")
	}

	path, err := randomPath(hint)
	if err != nil {
		return nil, err
	}
	id := object.NewID(path)

	bucket := b.backend.Select(context.Background(), id)
	if bucket == nil || hint == engine.TRANSIENT {
		// TRANSIENT objects are never handed to a named bucket: they
		// live only as long as the in-flight delivery, so the digest
		// stays their only handle.
		return &engine.ObjCore{LastUse: time.Now()}, nil
	}

	return &engine.ObjCore{
		LastUse: time.Now(),
		Body: func() (io.ReadCloser, error) {
			return os.Open(id.WPath(bucket.Path()))
		},
	}, nil
}

// Persist writes oc's final metadata to the bucket selected for it. Not
// part of engine.Storage, and no code outside this package's tests calls
// it; it expects oc.Digest, Code, Header and Size to be settled.
func (b *EngineBridge) Persist(ctx context.Context, oc *engine.ObjCore, vary string) error {
	if b.backend == nil || oc == nil {
		return errors.New("storage: nothing to persist")
	}
	id := object.NewID(hex.EncodeToString(oc.Digest[:]))
	bucket := b.backend.Select(ctx, id)
	if bucket == nil {
		return fmt.Errorf("storage: no bucket for digest %x", oc.Digest)
	}

	meta := &object.Metadata{
		ID:          id,
		Code:        oc.Code,
		Size:        uint64(oc.Size),
		RespUnix:    oc.LastModTime.Unix(),
		LastRefUnix: oc.LastUse.Unix(),
		Refs:        1,
		Headers:     oc.Header,
	}
	if vary != "" {
		meta.VirtualKey = []string{vary}
	}
	if !oc.ExpiresAt.IsZero() {
		meta.ExpiresAt = oc.ExpiresAt.Unix()
	}
	return bucket.Store(ctx, meta)
}

func randomPath(hint string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hint + "/" + hex.EncodeToString(buf), nil
}
