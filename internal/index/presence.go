package index

import (
	"bytes"
	"sync"

	"golang.org/x/exp/slices"
)

// Set is an additive-only, concurrent set of keys used by pkg/vaultclient to
// remember which keys are known to exist on the server without a round
// trip. It never removes entries (a blockvault image is append-only, so
// "known present" can never become false), and is sharded independently of
// the on-disk index's bucket count to keep lock contention low under
// concurrent client use.
type Set struct {
	shards []presenceShard
	mask   uint32
}

type presenceShard struct {
	mu   sync.RWMutex
	keys map[Key]struct{}
}

// NewSet returns an empty Set sharded across shardCount buckets (rounded up
// to a power of two).
func NewSet(shardCount uint32) *Set {
	n := nextPowerOfTwo(shardCount, 64)
	ps := &Set{shards: make([]presenceShard, n), mask: n - 1}
	for i := range ps.shards {
		ps.shards[i].keys = make(map[Key]struct{})
	}
	return ps
}

// Has reports whether key was previously recorded with Add.
func (p *Set) Has(key Key) bool {
	shard := &p.shards[p.shardFor(key)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	_, ok := shard.keys[key]
	return ok
}

// Add records key as present. Idempotent.
func (p *Set) Add(key Key) {
	shard := &p.shards[p.shardFor(key)]
	shard.mu.Lock()
	shard.keys[key] = struct{}{}
	shard.mu.Unlock()
}

// Len returns the total number of distinct keys recorded.
func (p *Set) Len() int {
	total := 0
	for i := range p.shards {
		p.shards[i].mu.RLock()
		total += len(p.shards[i].keys)
		p.shards[i].mu.RUnlock()
	}
	return total
}

// Keys returns every key currently recorded, sorted ascending — the export
// shape pkg/vaultclient uses to snapshot its local existence cache for
// diagnostics (e.g. dumping what a client believes the server holds).
func (p *Set) Keys() []Key {
	keys := make([]Key, 0, p.Len())
	for i := range p.shards {
		p.shards[i].mu.RLock()
		for k := range p.shards[i].keys {
			keys = append(keys, k)
		}
		p.shards[i].mu.RUnlock()
	}
	slices.SortFunc(keys, func(a, b Key) bool {
		return bytes.Compare(a[:], b[:]) < 0
	})
	return keys
}

func (p *Set) shardFor(key Key) uint32 {
	// FNV-1a over the first four bytes is plenty for shard routing; this
	// is purely a lock-contention spread, not a security boundary.
	h := uint32(2166136261)
	for _, b := range key[:4] {
		h ^= uint32(b)
		h *= 16777619
	}
	return h & p.mask
}
