// Package transaction implements the batched insert/delete operation
// list submitted to a database in a single commit, along with its wire
// encoding used by the journal and the flush writer.
package transaction

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/segurodb/segurodb/errs"
)

// Kind distinguishes an Insert from a Delete operation.
type Kind uint8

const (
	Insert Kind = 0
	Delete Kind = 1
)

// Operation is a single insert or delete recorded in a Transaction.
//
// Binary layout:
//
//	| kind (1) | key_len (4) | value_len (4, Insert only) | key | value (Insert only) |
type Operation struct {
	Kind  Kind
	Key   []byte
	Value []byte
}

func (o Operation) writeTo(buf *bytes.Buffer) {
	switch o.Kind {
	case Insert:
		buf.WriteByte(byte(Insert))
		writeUint32(buf, uint32(len(o.Key)))
		writeUint32(buf, uint32(len(o.Value)))
		buf.Write(o.Key)
		buf.Write(o.Value)
	case Delete:
		buf.WriteByte(byte(Delete))
		writeUint32(buf, uint32(len(o.Key)))
		buf.Write(o.Key)
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

// readOperation decodes a single operation from the front of data,
// returning the operation and the number of bytes it consumed.
func readOperation(data []byte) (Operation, int, error) {
	if len(data) == 0 {
		return Operation{}, 0, errs.NewInvalidLengthError("empty operation buffer")
	}

	switch Kind(data[0]) {
	case Insert:
		if len(data) < 9 {
			return Operation{}, 0, errs.NewInvalidLengthError("truncated insert operation header")
		}
		keyLen := int(binary.LittleEndian.Uint32(data[1:5]))
		valueLen := int(binary.LittleEndian.Uint32(data[5:9]))
		keyEnd := 9 + keyLen
		valueEnd := keyEnd + valueLen
		if valueEnd > len(data) {
			return Operation{}, 0, errs.NewInvalidLengthError("truncated insert operation body")
		}
		return Operation{Kind: Insert, Key: data[9:keyEnd], Value: data[keyEnd:valueEnd]}, valueEnd, nil

	case Delete:
		if len(data) < 5 {
			return Operation{}, 0, errs.NewInvalidLengthError("truncated delete operation header")
		}
		keyLen := int(binary.LittleEndian.Uint32(data[1:5]))
		keyEnd := 5 + keyLen
		if keyEnd > len(data) {
			return Operation{}, 0, errs.NewInvalidLengthError("truncated delete operation body")
		}
		return Operation{Kind: Delete, Key: data[5:keyEnd]}, keyEnd, nil

	default:
		return Operation{}, 0, errs.NewInvalidHeaderError("unknown operation kind byte")
	}
}

// Transaction accumulates the insert/delete operations of a single
// commit into one contiguous, length-prefixed byte buffer.
type Transaction struct {
	keyLen     int
	operations bytes.Buffer
}

// New creates an empty Transaction bound to the database's fixed key
// length.
func New(keyLen int) *Transaction {
	return &Transaction{keyLen: keyLen}
}

// Insert appends an insert operation. Returns an error if key does not
// match the database's configured key length.
func (t *Transaction) Insert(key, value []byte) error {
	if len(key) != t.keyLen {
		return &errs.InvalidKeyLenError{Expected: t.keyLen, Got: len(key)}
	}
	Operation{Kind: Insert, Key: key, Value: value}.writeTo(&t.operations)
	return nil
}

// Delete appends a delete operation. Returns an error if key does not
// match the database's configured key length.
func (t *Transaction) Delete(key []byte) error {
	if len(key) != t.keyLen {
		return &errs.InvalidKeyLenError{Expected: t.keyLen, Got: len(key)}
	}
	Operation{Kind: Delete, Key: key}.writeTo(&t.operations)
	return nil
}

// Raw returns the serialized operation list, for handing off to the
// journal.
func (t *Transaction) Raw() []byte {
	return t.operations.Bytes()
}

// Operations returns an iterator over the operations appended so far.
func (t *Transaction) Operations() *OperationsIterator {
	return &OperationsIterator{data: t.operations.Bytes()}
}

// OperationsIterator walks a serialized operation list in the order
// operations were appended.
type OperationsIterator struct {
	data []byte
}

// NewOperationsIterator wraps a previously serialized operation buffer,
// such as one read back from a journal era file.
func NewOperationsIterator(data []byte) *OperationsIterator {
	return &OperationsIterator{data: data}
}

// Next returns the next operation, or ok=false once the buffer is
// exhausted.
func (it *OperationsIterator) Next() (Operation, error, bool) {
	if len(it.data) == 0 {
		return Operation{}, nil, false
	}

	op, consumed, err := readOperation(it.data)
	if err != nil {
		return Operation{}, err, true
	}
	it.data = it.data[consumed:]
	return op, nil, true
}

// SortedByKey drains the iterator and returns its operations ordered by
// key, the ordering the flush writer walks operations in against the
// space iterator.
func SortedByKey(data []byte) ([]Operation, error) {
	it := NewOperationsIterator(data)
	var ops []Operation
	for {
		op, err, ok := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		ops = append(ops, op)
	}
	sort.SliceStable(ops, func(i, j int) bool {
		return bytes.Compare(ops[i].Key, ops[j].Key) < 0
	})
	return ops, nil
}
