// Package prefixtree implements a compact bit-set over the universe of
// prefixes, annotated with an implicit complete binary heap so that
// ordered enumeration of occupied prefixes is cheap even when the
// occupancy is sparse.
//
// The storage is a flat bit-vector indexed as a heap: leaf p lives at
// index 2^prefix_bits + p, index 0 is unused, index 1 is the synthetic
// root, and every internal node is the logical OR of its two children,
// maintained lazily on Insert/Remove rather than recomputed on read.
package prefixtree

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Tree is a bit-set over [0, 2^prefixBits) with an implicit heap overlay
// for fast ordered occupied-prefix enumeration.
type Tree struct {
	bits       *bitset.BitSet
	prefixBits uint
}

func leafIndex(leaf uint32, prefixBits uint) uint {
	return uint(leaf) + (uint(1) << prefixBits)
}

// LeafDataLen returns the number of bytes needed to persist just the
// leaves (the occupancy bit-vector) for a tree of this many prefix bits.
func LeafDataLen(prefixBits uint) int {
	return int(((uint64(1) << prefixBits) + 7) >> 3)
}

// New creates an empty Tree for the given prefixBits.
func New(prefixBits uint) *Tree {
	size := uint(2) << prefixBits
	return &Tree{
		bits:       bitset.New(size),
		prefixBits: prefixBits,
	}
}

// FromLeaves reconstructs a Tree from a previously persisted leaves
// bit-vector, replaying Insert for every set bit so internal nodes are
// rebuilt consistently.
func FromLeaves(data []byte, prefixBits uint) (*Tree, error) {
	if len(data) != LeafDataLen(prefixBits) {
		return nil, fmt.Errorf("prefixtree: leaves data length %d does not match expected %d for prefix_bits=%d",
			len(data), LeafDataLen(prefixBits), prefixBits)
	}

	t := New(prefixBits)
	for idx, b := range data {
		var current byte = 1
		for i := 0; i < 8; i++ {
			if b&current == current {
				t.Insert(uint32(idx*8 + i))
			}
			current <<= 1
		}
	}
	return t, nil
}

// PrefixBits returns the configured prefix width.
func (t *Tree) PrefixBits() uint { return t.prefixBits }

// Has reports whether prefix is occupied. ok is false when prefix is
// outside [0, 2^prefixBits).
func (t *Tree) Has(prefix uint32) (occupied bool, ok bool) {
	idx := leafIndex(prefix, t.prefixBits)
	if idx >= t.bits.Len() {
		return false, false
	}
	return t.bits.Test(idx), true
}

// Insert marks prefix as occupied. Panics if prefix is out of range —
// an out-of-range prefix here is a programming error, not a user input
// error (see SPEC_FULL.md section 7).
func (t *Tree) Insert(prefix uint32) {
	idx := leafIndex(prefix, t.prefixBits)
	if idx >= t.bits.Len() {
		panic(fmt.Sprintf("prefixtree: insert prefix %d out of range for prefix_bits=%d", prefix, t.prefixBits))
	}

	t.bits.Set(idx)
	for idx > 1 {
		idx >>= 1
		t.bits.Set(idx)
	}
}

// Remove marks prefix as empty, clearing ancestors that no longer have
// any occupied descendant. Panics if prefix is out of range.
func (t *Tree) Remove(prefix uint32) {
	idx := leafIndex(prefix, t.prefixBits)
	if idx >= t.bits.Len() {
		panic(fmt.Sprintf("prefixtree: remove prefix %d out of range for prefix_bits=%d", prefix, t.prefixBits))
	}

	t.bits.Clear(idx)
	for idx > 1 {
		var sibling uint
		if idx%2 == 0 {
			sibling = idx + 1
		} else {
			sibling = idx - 1
		}
		if sibling < t.bits.Len() && t.bits.Test(sibling) {
			break
		}
		idx >>= 1
		t.bits.Clear(idx)
	}
}

// Bytes packs the full heap (internal nodes and leaves) into a
// little-endian, LSB-first-per-byte byte slice.
func (t *Tree) Bytes() []byte {
	size := t.bits.Len()
	out := make([]byte, (size+7)/8)
	for i := uint(0); i < size; i++ {
		if t.bits.Test(i) {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// Leaves packs only the leaf bits (the portion meant for persistence),
// leaf p at bit p%8 of byte p/8, in LeafDataLen(prefixBits) bytes.
func (t *Tree) Leaves() []byte {
	first := leafIndex(0, t.prefixBits)
	out := make([]byte, LeafDataLen(t.prefixBits))
	for i := uint(0); i < first; i++ {
		if t.bits.Test(first + i) {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// PrefixesIter returns an iterator over occupied prefixes in ascending
// order.
func (t *Tree) PrefixesIter() *OccupiedPrefixesIterator {
	return &OccupiedPrefixesIterator{
		tree:         t.bits,
		idx:          0,
		firstLeafIdx: leafIndex(0, t.prefixBits),
	}
}

// OccupiedPrefixesIterator walks the heap, descending only into subtrees
// whose root bit is set, yielding leaf prefixes in ascending order.
type OccupiedPrefixesIterator struct {
	tree         *bitset.BitSet
	idx          uint
	firstLeafIdx uint
}

func (it *OccupiedPrefixesIterator) nextIdx(idx uint) (uint, bool) {
	goBack := false
	if idx%2 == 1 {
		goBack = true
	} else {
		idx++
	}

	for {
		if !goBack {
			if idx >= it.firstLeafIdx {
				if it.tree.Test(idx) {
					return idx, true
				} else if idx%2 == 0 {
					return idx + 1, true
				}
			} else {
				if it.tree.Test(idx) {
					idx <<= 1
					continue
				} else if idx%2 == 0 {
					idx++
					continue
				}
			}
		}

		for idx%2 == 1 {
			idx >>= 1
		}
		idx++
		goBack = false

		if idx == 1 {
			return 0, false
		}
	}
}

// Next returns the next occupied prefix, or ok=false when exhausted.
func (it *OccupiedPrefixesIterator) Next() (prefix uint32, ok bool) {
	nextIdx, found := it.nextIdx(it.idx)
	if !found {
		return 0, false
	}
	it.idx = nextIdx
	return uint32(nextIdx - it.firstLeafIdx), true
}
