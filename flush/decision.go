// Package flush rewrites the data file's field region against a sorted
// batch of operations, producing a new, sealed body plus an updated
// metadata image in a single atomic artifact.
package flush

import (
	"github.com/segurodb/segurodb/field"
	"github.com/segurodb/segurodb/key"
	"github.com/segurodb/segurodb/space"
	"github.com/segurodb/segurodb/transaction"
)

// Decision is the outcome of comparing one pending operation against the
// current space under the write cursor, optionally adjusted by an
// in-flight forward or backward shift.
type Decision struct {
	Kind DecisionKind

	Key      []byte
	Value    []byte
	Offset   int
	SpaceLen int
	OldLen   int
	Len      int
	Data     []byte
}

// DecisionKind enumerates the distinct shapes a Decision can take.
type DecisionKind int

const (
	// InsertIntoEmptySpace writes a new record into an empty slot.
	InsertIntoEmptySpace DecisionKind = iota
	// InsertBeforeOccupiedSpace writes a new record ahead of an existing
	// one, because the operation's key sorts before it.
	InsertBeforeOccupiedSpace
	// Overwrite replaces an existing record's value in place.
	Overwrite
	// Delete removes an existing record.
	Delete
	// SeekSpace means no decision can be made yet; the space cursor must
	// advance before retrying the same operation.
	SeekSpace
	// IgnoreOperation discards a delete whose key was never found.
	IgnoreOperation
	// ConsumeEmptySpace absorbs an empty span into the running shift
	// without writing anything for it.
	ConsumeEmptySpace
	// ShiftOccupiedSpace copies an occupied span, forward or backward,
	// to make room for operations sorting ahead of or behind it.
	ShiftOccupiedSpace
	// FinishBackwardShift ends an in-progress backward shift: no space
	// further back still belongs to the key being sought.
	FinishBackwardShift
)

// Shift classifies the write cursor's running signed offset from the
// read cursor.
type Shift int

const (
	ShiftNone     Shift = 0
	ShiftForward  Shift = 1
	ShiftBackward Shift = -1
)

// ShiftFromInt classifies a raw signed shift value.
func ShiftFromInt(shift int) Shift {
	switch {
	case shift == 0:
		return ShiftNone
	case shift > 0:
		return ShiftForward
	default:
		return ShiftBackward
	}
}

func compareSpaceAndOperation(spaceData, opKey []byte, fieldBodySize int) int {
	cmp, ok := field.ExtractKey(spaceData, fieldBodySize, len(opKey)).Compare(opKey)
	if !ok {
		panic("flush: extracted key length must equal operation key length")
	}
	return cmp
}

// MinOffsetForKey is the lowest data-file offset a record with this key
// is permitted to occupy given the configured prefix width.
func MinOffsetForKey(k []byte, prefixBits uint, fieldBodySize int) int {
	return key.New(k, prefixBits).Offset(fieldBodySize)
}

// MinOffsetForSpace derives the same bound for an already-stored record
// by reading its key's prefix out of the space's field data.
func MinOffsetForSpace(data []byte, prefixBits uint, fieldBodySize int) int {
	keyPrefixLen := int((prefixBits + 7) / 8)
	view := field.ExtractKey(data, fieldBodySize, keyPrefixLen)
	var prefix [4]byte
	view.CopyToSlice(prefix[:keyPrefixLen])
	return MinOffsetForKey(prefix[:keyPrefixLen], prefixBits, fieldBodySize)
}

func isMinOffsetForKey(offset, shift int, k []byte, prefixBits uint, fieldBodySize int) bool {
	if shift >= 0 {
		panic("flush: is_min_offset_for_key only makes sense for a negative shift")
	}
	adjusted := offset - (-shift)
	return MinOffsetForKey(k, prefixBits, fieldBodySize) <= adjusted
}

func isMinOffsetForSpace(offset, shift int, data []byte, prefixBits uint, fieldBodySize int) bool {
	if shift >= 0 {
		panic("flush: is_min_offset_for_space only makes sense for a negative shift")
	}
	adjusted := offset - (-shift)
	return MinOffsetForSpace(data, prefixBits, fieldBodySize) <= adjusted
}

// Decide compares a pending operation against the space currently under
// the cursor and returns the action the flush writer should take.
func Decide(op transaction.Operation, sp space.Space, shift int, fieldBodySize int, prefixBits uint) Decision {
	tip := ShiftFromInt(shift)

	switch s := sp.(type) {
	case space.EmptySpace:
		switch {
		case op.Kind == transaction.Insert && tip == ShiftNone:
			return Decision{Kind: InsertIntoEmptySpace, Key: op.Key, Value: op.Value, Offset: s.Offset, SpaceLen: s.Len}

		case op.Kind == transaction.Insert && tip == ShiftBackward:
			if isMinOffsetForKey(s.Offset, shift, op.Key, prefixBits, fieldBodySize) {
				return Decision{Kind: InsertIntoEmptySpace, Key: op.Key, Value: op.Value, Offset: s.Offset, SpaceLen: s.Len}
			}
			return Decision{Kind: FinishBackwardShift}

		case op.Kind == transaction.Insert && tip == ShiftForward:
			return Decision{Kind: ConsumeEmptySpace, Len: s.Len}

		case op.Kind == transaction.Delete && tip == ShiftNone:
			return Decision{Kind: IgnoreOperation}

		case op.Kind == transaction.Delete && tip == ShiftForward:
			return Decision{Kind: ConsumeEmptySpace, Len: s.Len}

		case op.Kind == transaction.Delete && tip == ShiftBackward:
			if isMinOffsetForKey(s.Offset, shift, op.Key, prefixBits, fieldBodySize) {
				return Decision{Kind: ConsumeEmptySpace, Len: s.Len}
			}
			return Decision{Kind: IgnoreOperation}
		}

	case space.OccupiedSpace:
		cmp := compareSpaceAndOperation(s.Data, op.Key, fieldBodySize)

		if op.Kind == transaction.Insert {
			switch {
			case cmp < 0 && tip == ShiftNone:
				return Decision{Kind: SeekSpace}
			case cmp < 0 && tip == ShiftBackward:
				if isMinOffsetForSpace(s.Offset, shift, s.Data, prefixBits, fieldBodySize) {
					return Decision{Kind: ShiftOccupiedSpace, Data: s.Data}
				}
				return Decision{Kind: FinishBackwardShift}
			case cmp < 0 && tip == ShiftForward:
				return Decision{Kind: ShiftOccupiedSpace, Data: s.Data}
			case cmp == 0:
				return Decision{Kind: Overwrite, Key: op.Key, Value: op.Value, Offset: s.Offset, OldLen: len(s.Data)}
			case cmp > 0 && tip == ShiftBackward:
				if isMinOffsetForKey(s.Offset, shift, op.Key, prefixBits, fieldBodySize) {
					return Decision{Kind: InsertBeforeOccupiedSpace, Key: op.Key, Value: op.Value, Offset: s.Offset}
				}
				return Decision{Kind: FinishBackwardShift}
			default: // cmp > 0 && (ShiftNone || ShiftForward)
				return Decision{Kind: InsertBeforeOccupiedSpace, Key: op.Key, Value: op.Value, Offset: s.Offset}
			}
		}

		// Delete
		switch {
		case cmp < 0 && tip == ShiftNone:
			return Decision{Kind: SeekSpace}
		case cmp < 0 && tip == ShiftBackward:
			if isMinOffsetForSpace(s.Offset, shift, s.Data, prefixBits, fieldBodySize) {
				return Decision{Kind: ShiftOccupiedSpace, Data: s.Data}
			}
			return Decision{Kind: FinishBackwardShift}
		case cmp < 0 && tip == ShiftForward:
			return Decision{Kind: ShiftOccupiedSpace, Data: s.Data}
		case cmp == 0:
			return Decision{Kind: Delete, Offset: s.Offset, Len: len(s.Data)}
		default: // cmp > 0
			return Decision{Kind: IgnoreOperation}
		}
	}

	panic("flush: unreachable operation/space combination")
}
