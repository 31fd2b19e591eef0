package field

import "github.com/segurodb/segurodb/errs"

// HeaderIterator walks a packed field region yielding each field's header
// byte in turn.
type HeaderIterator struct {
	data      []byte
	fieldSize int
}

// NewHeaderIterator validates that data is an exact multiple of the field
// size before constructing the iterator.
func NewHeaderIterator(data []byte, fieldBodySize int) (*HeaderIterator, error) {
	fieldSize := Size(fieldBodySize)
	if len(data)%fieldSize != 0 {
		return nil, errs.NewInvalidLengthError("field region length is not a multiple of the field size")
	}

	return &HeaderIterator{data: data, fieldSize: fieldSize}, nil
}

// Next returns the next field's header, or ok=false when the region is
// exhausted. A non-nil error means the byte read was not a valid header;
// the iterator still advances so callers may continue past it if desired.
func (it *HeaderIterator) Next() (hdr Header, err error, ok bool) {
	if len(it.data) == 0 {
		return 0, nil, false
	}

	nextField := it.data[:it.fieldSize]
	it.data = it.data[it.fieldSize:]

	h, err := FromByte(nextField[0])
	return h, err, true
}
