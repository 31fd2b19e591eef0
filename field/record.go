package field

import "encoding/binary"

// ValueLenHeaderSize is the width of the little-endian value-length
// header stored ahead of a variable-length value.
const ValueLenHeaderSize = 4

// ValueSize describes how a record's value portion is laid out: either a
// known constant size (no length header) or variable (preceded by a
// 4-byte little-endian length).
type ValueSize struct {
	Constant bool
	Size     int
}

// ConstantValueSize returns a ValueSize for fixed-length values of size n.
func ConstantValueSize(n int) ValueSize { return ValueSize{Constant: true, Size: n} }

// VariableValueSize returns a ValueSize for variable-length values whose
// actual length is read from the stored header.
func VariableValueSize() ValueSize { return ValueSize{Constant: false} }

// Record is a view onto one key/value record packed into a run of fields.
type Record struct {
	key   []byte
	value View
	len   int
}

// NewRecord parses a record out of data, which must begin at the record's
// first (Inserted) field and span enough fields to hold the whole record.
func NewRecord(data []byte, fieldBodySize int, valueSize ValueSize, keySize int) Record {
	if keySize > fieldBodySize {
		panic("field: key size must not exceed field body size")
	}

	view := NewView(data, fieldBodySize)
	keyView, rest := view.SplitAt(keySize)

	key, ok := keyView.RawSlice()
	if !ok {
		panic("field: keys are always stored in a single field")
	}

	if valueSize.Constant {
		valueView, _ := rest.SplitAt(valueSize.Size)
		return Record{key: key, value: valueView, len: valueSize.Size}
	}

	headerView, rest2 := rest.SplitAt(ValueLenHeaderSize)
	var lenBuf [ValueLenHeaderSize]byte
	headerView.CopyToSlice(lenBuf[:])
	valueLen := int(binary.LittleEndian.Uint32(lenBuf[:]))

	valueView, _ := rest2.SplitAt(valueLen)
	return Record{key: key, value: valueView, len: valueLen}
}

// ExtractKey returns only the key view, without constructing a full
// Record — used during the flush rewrite to compare keys cheaply.
func ExtractKey(data []byte, fieldBodySize, keySize int) View {
	return WithOptions(data, fieldBodySize, 0, keySize)
}

// Key returns the record's key bytes.
func (r Record) Key() []byte { return r.key }

// ValueIsEqual reports whether the record's value equals slice.
func (r Record) ValueIsEqual(slice []byte) bool { return r.value.Equal(slice) }

// ValueRawSlice returns the value's zero-copy slice when it fits in a
// single field body.
func (r Record) ValueRawSlice() ([]byte, bool) { return r.value.RawSlice() }

// ReadValue copies the record's value into dst. Panics on length mismatch.
func (r Record) ReadValue(dst []byte) { r.value.CopyToSlice(dst) }

// ValueLen returns the record's value length.
func (r Record) ValueLen() int { return r.len }
