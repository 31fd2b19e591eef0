package flush

import "encoding/binary"

// IdempotentOperation is one offset-tagged write recorded by
// OperationWriter: applying it to the field region at Offset is safe to
// repeat any number of times.
type IdempotentOperation struct {
	Offset int
	Data   []byte
}

// IdempotentOperationIterator walks a serialized idempotent-operations
// buffer produced by OperationWriter.Run.
type IdempotentOperationIterator struct {
	data []byte
}

// NewIdempotentOperationIterator wraps a serialized operations buffer.
func NewIdempotentOperationIterator(data []byte) *IdempotentOperationIterator {
	return &IdempotentOperationIterator{data: data}
}

// Next returns the next operation, or ok=false once exhausted.
func (it *IdempotentOperationIterator) Next() (IdempotentOperation, bool) {
	if len(it.data) == 0 {
		return IdempotentOperation{}, false
	}

	offset := int(binary.LittleEndian.Uint64(it.data[0:8]))
	dataLen := int(binary.LittleEndian.Uint32(it.data[8:12]))
	end := 12 + dataLen

	result := IdempotentOperation{Offset: offset, Data: it.data[12:end]}
	it.data = it.data[end:]
	return result, true
}
