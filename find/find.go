// Package find locates records within the packed field region of the
// data file: a single-key lookup that stops as soon as the key ordering
// rules it out, and a full scan driven by the occupied-prefix tree.
package find

import (
	"bytes"

	"github.com/segurodb/segurodb/field"
	"github.com/segurodb/segurodb/prefixtree"
)

// ResultKind distinguishes the three ways a lookup into a bounded slice
// of the field region can end.
type ResultKind int

const (
	// Found means the record is present at the returned Record.
	Found ResultKind = iota
	// NotFound means the slice proves the key is absent (an
	// Uninitialized field, or an Inserted record sorting after key).
	NotFound
	// OutOfRange means the slice was exhausted before the question
	// could be answered; the caller must look further in the file.
	OutOfRange
)

// Result is the outcome of Record.
type Result struct {
	Kind   ResultKind
	Record field.Record
}

// Record looks for key in data, a slice of the field region starting at
// key's prefix offset. Fields are scanned in order: Inserted records
// with a smaller key are skipped, and the first Uninitialized field or
// Inserted record with an equal or greater key settles the question,
// since the field region is expected to be key-ordered within a
// prefix's fallout run.
func Record(data []byte, fieldBodySize int, valueSize field.ValueSize, key []byte) (Result, error) {
	it, err := field.NewHeaderIterator(data, fieldBodySize)
	if err != nil {
		return Result{}, err
	}

	fieldSize := field.Size(fieldBodySize)
	offset := 0
	for {
		hdr, err, ok := it.Next()
		if !ok {
			return Result{Kind: OutOfRange}, nil
		}
		if err != nil {
			return Result{}, err
		}

		switch hdr {
		case field.Uninitialized:
			return Result{Kind: NotFound}, nil
		case field.Inserted:
			slice := data[offset:]
			recordKey, ok := field.ExtractKey(slice, fieldBodySize, len(key)).RawSlice()
			if !ok {
				panic("find: keys are always stored in a single field")
			}

			switch bytes.Compare(recordKey, key) {
			case -1:
				// keep scanning
			case 0:
				record := field.NewRecord(slice, fieldBodySize, valueSize, len(key))
				return Result{Kind: Found, Record: record}, nil
			case 1:
				return Result{Kind: NotFound}, nil
			}
		case field.Continued:
			// skip, belongs to a preceding Inserted field
		}

		offset += fieldSize
	}
}

// Iterator walks every live record in the field region, following the
// occupied-prefix tree to skip runs of Uninitialized fields between
// occupied prefixes.
type Iterator struct {
	data          []byte
	prefixes      *prefixtree.OccupiedPrefixesIterator
	offset        uint32
	peekOffset    *uint32
	fieldBodySize int
	fieldSize     int
	keySize       int
	valueSize     field.ValueSize
}

// NewIterator constructs an Iterator over data, driven by prefixes (an
// iterator over the occupied-prefix tree's set leaves).
func NewIterator(data []byte, prefixes *prefixtree.OccupiedPrefixesIterator, fieldBodySize, keySize int, valueSize field.ValueSize) *Iterator {
	return &Iterator{
		data:          data,
		prefixes:      prefixes,
		fieldBodySize: fieldBodySize,
		fieldSize:     field.Size(fieldBodySize),
		keySize:       keySize,
		valueSize:     valueSize,
	}
}

// Next returns the next live record, or ok=false once the prefix tree
// and field region are exhausted.
func (it *Iterator) Next() (record field.Record, err error, ok bool) {
	for {
		if it.peekOffset == nil {
			var next *uint32
			if prefix, has := it.prefixes.Next(); has {
				next = &prefix
			}

			if next != nil && *next < it.offset {
				continue
			}

			it.peekOffset = next
			if next != nil {
				it.offset = *next
			}
		}

		if it.peekOffset == nil {
			return field.Record{}, nil, false
		}

		offset := *it.peekOffset
		if int(offset)*it.fieldSize >= len(it.data) {
			return field.Record{}, nil, false
		}

		it.offset++

		slice := it.data[int(offset)*it.fieldSize:]
		hdr, err := field.FromByte(slice[0])
		if err != nil {
			return field.Record{}, err, true
		}

		switch hdr {
		case field.Uninitialized:
			it.peekOffset = nil
		case field.Continued:
			next := offset + 1
			it.peekOffset = &next
		case field.Inserted:
			next := offset + 1
			it.peekOffset = &next
			record := field.NewRecord(slice, it.fieldBodySize, it.valueSize, it.keySize)
			return record, nil, true
		}
	}
}
