// Package expiry implements the engine.Expiry collaborator: an LRU
// touch/insert index tracking object liveness, grounded on the disk
// bucket's own `cache *lru.Cache[object.IDHash, storage.Mark]` +
// eviction-channel pattern (storage/bucket/disk/disk.go's loadLRU/evict)
// and its paulbellamy/ratecounter hit-rate instrumentation.
package expiry

import (
	"time"

	"github.com/paulbellamy/ratecounter"

	"github.com/relaycache/relaycache/api/defined/v1/storage"
	"github.com/relaycache/relaycache/engine"
	"github.com/relaycache/relaycache/pkg/algorithm/lru"
)

// Index is the default engine.Expiry: an LRU of live digests backed by
// the same generic cache the disk bucket uses for its own hot-key
// tracking, plus a rolling touch-rate counter exposed for metrics.
type Index struct {
	cache   *lru.Cache[[32]byte, storage.Mark]
	touches *ratecounter.RateCounter

	// Evicted receives the digest of anything the LRU drops for
	// capacity, so a caller (storage) can schedule its disk discard.
	Evicted chan lru.Eviction[[32]byte, storage.Mark]
}

// New builds an Index holding up to limit live digests.
func New(limit int) *Index {
	cache := lru.New[[32]byte, storage.Mark](limit)
	ch := make(chan lru.Eviction[[32]byte, storage.Mark], 128)
	cache.EvictionChannel = ch

	return &Index{
		cache:   cache,
		touches: ratecounter.NewRateCounter(1 * time.Second),
		Evicted: ch,
	}
}

var _ engine.Expiry = (*Index)(nil)

// Insert records a freshly-fetched object as live, marking it touched
// now with one reference.
func (idx *Index) Insert(oc *engine.ObjCore) {
	if oc == nil {
		return
	}
	idx.cache.Set(oc.Digest, storage.NewMark(time.Now().Unix(), 1))
	idx.touches.Incr(1)
}

// Touch refreshes oc's last-access mark, moving it to the front of the
// LRU. Reports false if oc isn't tracked (evicted, or never inserted —
// e.g. a hit-for-pass object, which Insert is never called for).
func (idx *Index) Touch(oc *engine.ObjCore) bool {
	if oc == nil {
		return false
	}
	mark, ok := idx.cache.Get(oc.Digest)
	if !ok {
		return false
	}
	idx.cache.Set(oc.Digest, storage.NewMark(time.Now().Unix(), mark.Refs()+1))
	idx.touches.Incr(1)
	return true
}

// TouchRate returns the current touches-per-second, for metrics.
func (idx *Index) TouchRate() int64 { return idx.touches.Rate() }

// Len reports the number of live digests tracked, for metrics.
func (idx *Index) Len() int { return idx.cache.Len() }
