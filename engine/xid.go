package engine

import (
	"math/rand"
	"sync/atomic"
)

// xidCounter is the process-wide transaction identifier counter. A
// relaxed atomic increment is sufficient: spec.md accepts occasional
// non-linearisability across cores in exchange for avoiding a shared
// lock on the hottest possible path (one increment per request).
var xidCounter atomic.Int64

// NextXID returns the next transaction id. Strictly increasing within a
// goroutine; across goroutines, gaps are possible but reuse within a
// sampling window is not (spec.md §8).
func NextXID() int64 {
	return xidCounter.Add(1)
}

// SeedXID implements the `debug.xid [value]` CLI hook: with a value it
// reseeds the counter (returning the previous value), with none it just
// reads the current value.
func SeedXID(value int64, set bool) int64 {
	if !set {
		return xidCounter.Load()
	}
	return xidCounter.Swap(value)
}

// debugRandSource backs `debug.srandom`; Varnish reseeds a global PRNG
// used for load-balancing jitter etc. Kept here since it is named as
// part of the RSE's debug CLI surface in spec.md §6.
var debugRandSource = rand.New(rand.NewSource(1))

// SeedRandom implements `debug.srandom [seed]` (default seed 1, matching
// the documented reproducible default).
func SeedRandom(seed int64) {
	debugRandSource = rand.New(rand.NewSource(seed))
}

// DebugRandom exposes the reseedable source for any engine code that
// needs deterministic-under-test randomness (e.g. jittered timeouts);
// unused by the core state handlers themselves today.
func DebugRandom() *rand.Rand { return debugRandSource }
