// Package metadata tracks per-database bookkeeping persisted alongside
// the field region of the data file: a format version, a running total
// of bytes occupied by record bodies, and two prefix trees recording
// which key prefixes are in use and which have overflowed into a
// collision file.
package metadata

import (
	"encoding/binary"
	"fmt"

	"github.com/segurodb/segurodb/prefixtree"
)

// DBVersion is the on-disk format version this package writes and
// expects to read.
const DBVersion uint16 = 0

const versionSize = 2
const occupiedSize = 8

// Metadata is the live, in-memory view of a database's bookkeeping
// state, mutated as records are inserted, removed, or overwritten.
type Metadata struct {
	DBVersion        uint16
	OccupiedBytes    uint64
	PrefixBits       uint
	Prefixes         *prefixtree.Tree
	CollidedPrefixes *prefixtree.Tree
}

// New creates empty Metadata for a database with the given prefix width.
func New(prefixBits uint) *Metadata {
	return &Metadata{
		DBVersion:        DBVersion,
		PrefixBits:       prefixBits,
		Prefixes:         prefixtree.New(prefixBits),
		CollidedPrefixes: prefixtree.New(prefixBits),
	}
}

// InsertRecord records that a record of the given length was inserted
// under prefix.
func (m *Metadata) InsertRecord(prefix uint32, length int) {
	m.OccupiedBytes += uint64(length)
	m.Prefixes.Insert(prefix)
}

// RemoveRecord records that a record of the given length was removed.
// The prefix itself is left in the tree: other records may still share it.
func (m *Metadata) RemoveRecord(length int) {
	m.OccupiedBytes -= uint64(length)
}

// UpdateRecordLen records that a record's stored length changed from
// oldLen to newLen, as happens when a value is overwritten in place.
func (m *Metadata) UpdateRecordLen(oldLen, newLen int) {
	m.OccupiedBytes -= uint64(oldLen)
	m.OccupiedBytes += uint64(newLen)
}

// AddPrefixCollision moves prefix from the occupied-prefixes tree into
// the collided-prefixes tree, marking it as overflowed to a collision
// file.
func (m *Metadata) AddPrefixCollision(prefix uint32) {
	m.CollidedPrefixes.Insert(prefix)
	m.Prefixes.Remove(prefix)
}

// PrefixLeavesOffset is the byte offset of the occupied-prefixes leaf
// bit-vector within the serialized metadata block.
func PrefixLeavesOffset() int {
	return versionSize + occupiedSize
}

// CollidedPrefixLeavesOffset is the byte offset of the collided-prefixes
// leaf bit-vector within the serialized metadata block.
func CollidedPrefixLeavesOffset(prefixBits uint) int {
	return PrefixLeavesOffset() + prefixtree.LeafDataLen(prefixBits)
}

// Len returns the total serialized size of a metadata block for the
// given prefix width.
func Len(prefixBits uint) int {
	return CollidedPrefixLeavesOffset(prefixBits) + prefixtree.LeafDataLen(prefixBits)
}

// CopyToSlice serializes m into data, which must be exactly Len(m.PrefixBits)
// bytes long.
func (m *Metadata) CopyToSlice(data []byte) {
	if len(data) != Len(m.PrefixBits) {
		panic(fmt.Sprintf("metadata: buffer length %d does not match expected %d", len(data), Len(m.PrefixBits)))
	}

	prefixLeavesOffset := PrefixLeavesOffset()
	collidedOffset := CollidedPrefixLeavesOffset(m.PrefixBits)

	copy(data[prefixLeavesOffset:collidedOffset], m.Prefixes.Leaves())
	copy(data[collidedOffset:], m.CollidedPrefixes.Leaves())

	binary.LittleEndian.PutUint16(data, m.DBVersion)
	binary.LittleEndian.PutUint64(data[versionSize:], m.OccupiedBytes)
}

// Bytes returns the serialized form of m.
func (m *Metadata) Bytes() []byte {
	out := make([]byte, Len(m.PrefixBits))
	m.CopyToSlice(out)
	return out
}

// Read deserializes a Metadata block of the given prefix width from data.
func Read(data []byte, prefixBits uint) (*Metadata, error) {
	if len(data) != Len(prefixBits) {
		return nil, fmt.Errorf("metadata: buffer length %d does not match expected %d", len(data), Len(prefixBits))
	}

	dbVersion := binary.LittleEndian.Uint16(data[:versionSize])
	occupiedBytes := binary.LittleEndian.Uint64(data[versionSize:])

	prefixLeavesOffset := PrefixLeavesOffset()
	collidedOffset := CollidedPrefixLeavesOffset(prefixBits)

	prefixes, err := prefixtree.FromLeaves(data[prefixLeavesOffset:collidedOffset], prefixBits)
	if err != nil {
		return nil, fmt.Errorf("metadata: decoding prefixes: %w", err)
	}
	collided, err := prefixtree.FromLeaves(data[collidedOffset:], prefixBits)
	if err != nil {
		return nil, fmt.Errorf("metadata: decoding collided prefixes: %w", err)
	}

	if dbVersion != DBVersion {
		return nil, fmt.Errorf("metadata: unsupported database version %d", dbVersion)
	}

	return &Metadata{
		DBVersion:        dbVersion,
		OccupiedBytes:    occupiedBytes,
		PrefixBits:       prefixBits,
		Prefixes:         prefixes,
		CollidedPrefixes: collided,
	}, nil
}
