// Package options defines the engine's configuration surface and the
// validation that turns it into the internal sizing parameters the rest
// of the engine relies on (field size, initial data-file size, and so on).
//
// Parsing configuration from a file or flags is explicitly out of scope
// (see SPEC_FULL.md section 10) — this package only validates a struct the
// caller already constructed in-process.
package options

import (
	"fmt"

	"github.com/segurodb/segurodb/errs"
)

// ValuesLen describes how value length is encoded for records.
type ValuesLen struct {
	// Constant, when true, means every value is exactly Size bytes and no
	// length header is stored per record.
	Constant bool
	// Size is the constant length when Constant is true.
	Size int
	// Expected is a sizing hint used for field layout when Constant is
	// false; the actual value length is stored as a 4-byte header.
	Expected int
}

// ConstantValuesLen returns a ValuesLen describing fixed-length values.
func ConstantValuesLen(size int) ValuesLen {
	return ValuesLen{Constant: true, Size: size}
}

// VariableValuesLen returns a ValuesLen describing variable-length values
// whose typical size is expected, used only for field-size estimation.
func VariableValuesLen(expected int) ValuesLen {
	return ValuesLen{Constant: false, Expected: expected}
}

// ValueSize returns the number of body bytes a value of this kind
// contributes to field_body_size: the constant size itself, or 4 bytes of
// length header plus the expected size for variable values.
func (v ValuesLen) ValueSize() int {
	if v.Constant {
		return v.Size
	}
	return 4 + v.Expected
}

// Options is the external, user-facing configuration for a database.
type Options struct {
	JournalEras            int
	ExtendThresholdPercent int
	KeyIndexBits           int
	KeyLen                 int
	ValueLen               ValuesLen
	MaxPrefixCollisions    int
}

// DefaultOptions mirrors the original engine's defaults.
func DefaultOptions() Options {
	return Options{
		JournalEras:            5,
		ExtendThresholdPercent: 80,
		KeyIndexBits:           8,
		KeyLen:                 32,
		ValueLen:               ConstantValuesLen(64),
		MaxPrefixCollisions:    6,
	}
}

// Internal holds the validated, derived sizing parameters computed once
// from Options at create/open time.
type Internal struct {
	Options

	FieldBodySize   int
	FieldSize       int
	InitialDBSize   uint64
	RecordOffset    uint64
}

// Validate checks Options against the bounds documented in SPEC_FULL.md
// section 6 and, on success, derives the Internal sizing parameters.
func Validate(o Options) (Internal, error) {
	if o.ExtendThresholdPercent < 1 || o.ExtendThresholdPercent > 100 {
		return Internal{}, &errs.InvalidOptionsError{
			Field:  "extend_threshold_percent",
			Detail: fmt.Sprintf("must be in 1..=100, got %d", o.ExtendThresholdPercent),
		}
	}

	if o.KeyIndexBits < 1 || o.KeyIndexBits > 32 {
		return Internal{}, &errs.InvalidOptionsError{
			Field:  "key_index_bits",
			Detail: fmt.Sprintf("must be in 1..=32, got %d", o.KeyIndexBits),
		}
	}

	if o.KeyLen <= 0 {
		return Internal{}, &errs.InvalidOptionsError{
			Field:  "key_len",
			Detail: fmt.Sprintf("must be > 0, got %d", o.KeyLen),
		}
	}

	if o.KeyIndexBits > o.KeyLen*8 {
		return Internal{}, &errs.InvalidOptionsError{
			Field:  "key_index_bits",
			Detail: fmt.Sprintf("must be <= key_len*8 (%d), got %d", o.KeyLen*8, o.KeyIndexBits),
		}
	}

	if o.MaxPrefixCollisions < 1 {
		return Internal{}, &errs.InvalidOptionsError{
			Field:  "max_prefix_collisions",
			Detail: fmt.Sprintf("must be >= 1, got %d", o.MaxPrefixCollisions),
		}
	}

	if o.ValueLen.Constant && o.ValueLen.Size < 0 {
		return Internal{}, &errs.InvalidOptionsError{
			Field:  "value_len",
			Detail: "constant size must be >= 0",
		}
	}

	bodySize := o.KeyLen + o.ValueLen.ValueSize()
	fieldSize := bodySize + 1 // +1 header byte

	// initial_db_size = (2 << (key_index_bits+1)) * record_offset, where
	// record_offset is the field size. That is 4 * 2^key_index_bits
	// slots, so 3 * 2^key_index_bits slots lie past the last prefix's
	// home slot and the last prefixes may overflow into them.
	slots := uint64(2) << uint(o.KeyIndexBits+1)
	recordOffset := uint64(fieldSize)

	return Internal{
		Options:       o,
		FieldBodySize: bodySize,
		FieldSize:     fieldSize,
		InitialDBSize: slots * recordOffset,
		RecordOffset:  recordOffset,
	}, nil
}
