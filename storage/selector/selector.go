// Package selector chooses the Bucket responsible for an object ID
// using rendezvous (highest random weight) hashing: every bucket
// computes a score for the key and the highest score wins. Unlike
// modulo or consistent-hash-ring schemes, removing or adding a bucket
// only reshuffles the objects that hashed to it, not the whole keyspace.
package selector

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"github.com/relaycache/relaycache/api/defined/v1/storage"
	"github.com/relaycache/relaycache/api/defined/v1/storage/object"
)

var _ storage.Selector = (*rendezvousSelector)(nil)

type rendezvousSelector struct {
	mu      sync.RWMutex
	buckets map[string]storage.Bucket
	ring    *rendezvous.Rendezvous
}

func hasher(s string) uint64 {
	return xxhash.Sum64String(s)
}

// New builds a Selector over buckets. typ is accepted for symmetry
// with other selection policies but rendezvous hashing is currently
// the only implementation wired.
func New(buckets []storage.Bucket, typ string) storage.Selector {
	s := &rendezvousSelector{buckets: make(map[string]storage.Bucket, len(buckets))}

	ids := make([]string, 0, len(buckets))
	for _, b := range buckets {
		s.buckets[b.ID()] = b
		ids = append(ids, b.ID())
	}
	s.ring = rendezvous.New(ids, hasher)
	return s
}

// Select implements storage.Selector.
func (s *rendezvousSelector) Select(ctx context.Context, id *object.ID) storage.Bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.buckets) == 0 {
		return nil
	}
	bucketID := s.ring.Lookup(id.Key())
	return s.buckets[bucketID]
}

// Rebuild implements storage.Selector, swapping in a new bucket set.
func (s *rendezvousSelector) Rebuild(ctx context.Context, buckets []storage.Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets = make(map[string]storage.Bucket, len(buckets))
	ids := make([]string, 0, len(buckets))
	for _, b := range buckets {
		s.buckets[b.ID()] = b
		ids = append(ids, b.ID())
	}
	s.ring = rendezvous.New(ids, hasher)
	return nil
}
