package metta

import (
	"encoding/binary"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// bloomFilter is an O(1) rejection pre-filter over (head-bytes, arity)
// pairs, guarding Space.Match: consult the bloom filter first and return
// empty immediately if it says the pair is definitely absent. Built on
// github.com/bits-and-blooms/bitset for bit storage, with double hashing
// via cespare/xxhash/v2 to derive k independent bit positions from two
// base hashes — the standard Kirsch-Mitzenmacher technique.
//
// Standard bloom filters cannot retract a bit on deletion without risking
// false negatives for other keys sharing that bit, so NoteDeletion only notes
// the deletion count; rebuild() is triggered once deletions exceed 25% of
// insertions.
type bloomFilter struct {
	mu         sync.RWMutex
	bits       *bitset.BitSet
	m          uint
	k          uint
	inserted   uint64
	deleted    uint64
	rebuildSrc []bloomKey // retained keys so rebuild() can recompute bits
}

type bloomKey struct {
	headBytes string
	arity     int
}

func newBloomFilter(expectedItems uint) *bloomFilter {
	if expectedItems == 0 {
		expectedItems = 1024
	}
	m := expectedItems * 10 // ~10 bits/item gives a low false-positive rate
	return &bloomFilter{
		bits: bitset.New(m),
		m:    m,
		k:    5,
	}
}

func (bf *bloomFilter) positions(k bloomKey) []uint {
	h := xxhash.New()
	_, _ = h.Write([]byte(k.headBytes))
	var arityBuf [8]byte
	binary.LittleEndian.PutUint64(arityBuf[:], uint64(k.arity))
	_, _ = h.Write(arityBuf[:])
	h1 := h.Sum64()
	h2 := xxhash.Sum64(append([]byte(k.headBytes), arityBuf[:]...))

	positions := make([]uint, bf.k)
	for i := uint(0); i < bf.k; i++ {
		positions[i] = uint((h1 + uint64(i)*h2) % uint64(bf.m))
	}
	return positions
}

func (bf *bloomFilter) Insert(headBytes string, arity int) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	k := bloomKey{headBytes: headBytes, arity: arity}
	for _, p := range bf.positions(k) {
		bf.bits.Set(p)
	}
	bf.inserted++
	bf.rebuildSrc = append(bf.rebuildSrc, k)
}

// MaybeContains returns false only when the pair is definitely absent
// (never a false negative); true means "maybe present, go check the trie".
func (bf *bloomFilter) MaybeContains(headBytes string, arity int) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	for _, p := range bf.positions(bloomKey{headBytes: headBytes, arity: arity}) {
		if !bf.bits.Test(p) {
			return false
		}
	}
	return true
}

// NoteDeletion records a deletion for the rebuild heuristic and rebuilds
// the filter once deletions exceed 25% of insertions, since standard
// bloom filters can't retract individual bits.
func (bf *bloomFilter) NoteDeletion(headBytes string, arity int) {
	bf.mu.Lock()
	bf.deleted++
	shouldRebuild := bf.inserted > 0 && bf.deleted*4 > bf.inserted
	keys := bf.rebuildSrc
	bf.mu.Unlock()

	if !shouldRebuild {
		return
	}
	bf.rebuild(keys, headBytes, arity)
}

func (bf *bloomFilter) rebuild(liveKeys []bloomKey, removedHead string, removedArity int) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.bits = bitset.New(bf.m)
	bf.rebuildSrc = bf.rebuildSrc[:0]
	bf.deleted = 0
	bf.inserted = 0
	skipped := false
	for _, k := range liveKeys {
		// Drop one occurrence of the removed key; other atoms sharing the
		// same (head, arity) keep theirs.
		if !skipped && k.headBytes == removedHead && k.arity == removedArity {
			skipped = true
			continue
		}
		for _, p := range bf.positions(k) {
			bf.bits.Set(p)
		}
		bf.inserted++
		bf.rebuildSrc = append(bf.rebuildSrc, k)
	}
}

// clone returns a deep copy for Space's copy-on-write semantics.
func (bf *bloomFilter) clone() *bloomFilter {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	keys := make([]bloomKey, len(bf.rebuildSrc))
	copy(keys, bf.rebuildSrc)
	return &bloomFilter{
		bits:       bf.bits.Clone(),
		m:          bf.m,
		k:          bf.k,
		inserted:   bf.inserted,
		deleted:    bf.deleted,
		rebuildSrc: keys,
	}
}
