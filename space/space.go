// Package space streams "spaces" — runs of occupied or empty fields —
// over a packed field region, used by the flush-writer algorithm to walk
// the on-disk layout of a data-file prefix region.
package space

import (
	"github.com/segurodb/segurodb/errs"
	"github.com/segurodb/segurodb/field"
)

// Space is either an OccupiedSpace or an EmptySpace.
type Space interface {
	isSpace()
}

// OccupiedSpace spans one Inserted field plus any immediately following
// Continued fields belonging to the same record.
type OccupiedSpace struct {
	Offset int
	Data   []byte
}

func (OccupiedSpace) isSpace() {}

// EmptySpace spans exactly one Uninitialized field. Consumers that want a
// merged view of several adjacent empty fields must do so themselves by
// consuming multiple Next calls — the iterator never merges on its own,
// matching the field-at-a-time cursor this type is modeled on.
type EmptySpace struct {
	Offset int
	Len    int
}

func (EmptySpace) isSpace() {}

// Iterator walks a packed field region. Continued fields at the start of
// a call are skipped as orphans of an earlier record, including ones that
// directly follow an Uninitialized field; a header error is reported only
// when a call finds nothing but Continued fields up to the end of the
// region.
type Iterator struct {
	data          []byte
	fieldBodySize int
	offset        int
}

// New creates an Iterator over data starting at the given logical offset.
func New(data []byte, fieldBodySize, offset int) *Iterator {
	return &Iterator{data: data, fieldBodySize: fieldBodySize, offset: offset}
}

// MoveOffsetForward jumps the cursor forward; no-op if offset is behind
// the current position.
func (it *Iterator) MoveOffsetForward(offset int) {
	if offset > it.offset {
		it.offset = offset
	}
}

// Peek returns the next space without advancing the cursor.
func (it *Iterator) Peek() (Space, error, bool) {
	saved := it.offset
	sp, err, ok := it.Next()
	it.offset = saved
	return sp, err, ok
}

// Next returns the next space, or ok=false when the region is exhausted.
func (it *Iterator) Next() (Space, error, bool) {
	if it.offset >= len(it.data) {
		return nil, nil, false
	}

	fieldSize := field.Size(it.fieldBodySize)
	start := it.offset

	var firstHeader *field.Header

	inner, err := field.NewHeaderIterator(it.data[it.offset:], it.fieldBodySize)
	if err != nil {
		return nil, err, true
	}

	for {
		hdr, herr, ok := inner.Next()
		if !ok {
			break
		}
		if herr != nil {
			return nil, herr, true
		}

		switch hdr {
		case field.Continued:
			switch {
			case firstHeader == nil:
				// orphaned continuation at the start of the region: skip it
				start += fieldSize
				it.offset += fieldSize
				continue
			case *firstHeader == field.Inserted:
				it.offset += fieldSize
			default:
				panic("space: unreachable header transition")
			}

		case field.Inserted:
			switch {
			case firstHeader != nil && *firstHeader == field.Inserted:
				return OccupiedSpace{Offset: start, Data: it.data[start:it.offset]}, nil, true
			case firstHeader == nil:
				it.offset += fieldSize
			default:
				panic("space: unreachable header transition")
			}

		case field.Uninitialized:
			switch {
			case firstHeader != nil && *firstHeader == field.Inserted:
				return OccupiedSpace{Offset: start, Data: it.data[start:it.offset]}, nil, true
			case firstHeader == nil:
				it.offset += fieldSize
				return EmptySpace{Offset: start, Len: it.offset - start}, nil, true
			default:
				panic("space: unreachable header transition")
			}
		}

		if firstHeader == nil && hdr != field.Continued {
			h := hdr
			firstHeader = &h
		}
	}

	if firstHeader == nil {
		return nil, errs.NewInvalidHeaderError("continued field with no preceding inserted header"), true
	}

	switch *firstHeader {
	case field.Inserted:
		return OccupiedSpace{Offset: start, Data: it.data[start:it.offset]}, nil, true
	case field.Uninitialized:
		return EmptySpace{Offset: start, Len: it.offset - start}, nil, true
	default:
		panic("space: unreachable header transition")
	}
}
