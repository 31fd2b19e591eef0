// Package key derives the fixed-width prefix used to address a key's
// slot in the data file, reading the top prefix_bits bits of the key as
// a big-endian integer.
package key

import "github.com/segurodb/segurodb/field"

// Key pairs a raw key with its derived prefix.
type Key struct {
	Raw    []byte
	Prefix uint32
}

// New derives prefix from the top prefixBits bits of raw.
func New(raw []byte, prefixBits uint) Key {
	return Key{Raw: raw, Prefix: readPrefix(raw, prefixBits)}
}

// Offset returns the byte offset of this key's slot within the field
// region, given the configured field body size.
func (k Key) Offset(fieldBodySize int) int {
	return int(k.Prefix) * field.Size(fieldBodySize)
}

func readPrefix(key []byte, prefixBits uint) uint32 {
	var prefix uint32
	pos := prefixBits / 8
	bits := prefixBits % 8

	for i := uint(0); i < pos; i++ {
		prefix <<= 8
		prefix |= uint32(key[i])
	}

	if bits > 0 {
		prefix <<= bits
		prefix |= uint32(key[pos]) >> (8 - bits)
	}

	return prefix
}
