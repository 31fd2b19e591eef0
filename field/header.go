// Package field implements the fixed-size field layer the data file is
// packed into: one header byte plus a body of field_body_size bytes,
// headers distinguishing the start of a record from its continuations.
package field

import "github.com/segurodb/segurodb/errs"

// HeaderSize is the width in bytes of a field's header.
const HeaderSize = 1

// Header is the first byte of a field.
type Header uint8

const (
	// Uninitialized marks a field that has never held record data.
	Uninitialized Header = 0
	// Inserted marks the first field of a record.
	Inserted Header = 1
	// Continued marks a field that continues a preceding Inserted field.
	Continued Header = 2
)

// FromByte converts a raw byte into a Header, rejecting anything outside
// {0,1,2}.
func FromByte(b byte) (Header, error) {
	switch Header(b) {
	case Uninitialized, Inserted, Continued:
		return Header(b), nil
	default:
		return 0, errs.NewInvalidHeaderError("header byte must be 0, 1, or 2")
	}
}

// Size returns the total size of a field given its body size.
func Size(fieldBodySize int) int {
	return fieldBodySize + HeaderSize
}
