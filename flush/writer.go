package flush

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/segurodb/segurodb/field"
	"github.com/segurodb/segurodb/key"
	"github.com/segurodb/segurodb/metadata"
	"github.com/segurodb/segurodb/space"
	"github.com/segurodb/segurodb/transaction"
)

func writeInsertOperation(buf *bytes.Buffer, k, value []byte, fieldBodySize int, constValue bool) int {
	before := buf.Len()
	field.AppendRecord(buf, k, value, fieldBodySize, constValue)
	return buf.Len() - before
}

func writeEmptyBytes(buf *bytes.Buffer, n int) {
	for i := 0; i < n; i++ {
		buf.WriteByte(0)
	}
}

// operationBuffer accumulates idempotent operations, each framed with an
// 8-byte destination offset and a 4-byte length patched in once the
// operation's bytes are fully known.
type operationBuffer struct {
	inner           bytes.Buffer
	denotedStart    int
	hasDenotedStart bool
}

func (b *operationBuffer) denoteOperationStart(offset uint64) {
	if b.hasDenotedStart {
		return
	}
	b.denotedStart = b.inner.Len()
	b.hasDenotedStart = true

	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], offset)
	b.inner.Write(tmp[:])
	b.inner.Write([]byte{0, 0, 0, 0})
}

func (b *operationBuffer) finishOperation() {
	if !b.hasDenotedStart {
		return
	}
	start := b.denotedStart
	b.hasDenotedStart = false

	length := b.inner.Len() - (start + 12)
	out := b.inner.Bytes()
	binary.LittleEndian.PutUint32(out[start+8:start+12], uint32(length))
}

// OperationWriter rewrites a sorted batch of operations against the
// existing field region, producing a buffer of idempotent, offset-tagged
// operations plus an updated Metadata.
type OperationWriter struct {
	operations    []transaction.Operation
	opIdx         int
	spaces        *space.Iterator
	metadata      *metadata.Metadata
	buffer        operationBuffer
	fieldBodySize int
	prefixBits    uint
	constValue    bool
	// shift is always increased or decreased by the length of an
	// inserted/deleted record or an empty field. Inserted and deleted
	// records are always aligned by field.AppendRecord.
	shift int
}

// NewOperationWriter creates a writer over operations, which must already
// be sorted by key, and db, the current field region contents.
func NewOperationWriter(
	operations []transaction.Operation,
	db []byte,
	md *metadata.Metadata,
	fieldBodySize int,
	prefixBits uint,
	constValue bool,
) *OperationWriter {
	return &OperationWriter{
		operations:    operations,
		spaces:        space.New(db, fieldBodySize, 0),
		metadata:      md,
		fieldBodySize: fieldBodySize,
		prefixBits:    prefixBits,
		constValue:    constValue,
	}
}

func (w *OperationWriter) peekOperation() (transaction.Operation, bool) {
	if w.opIdx >= len(w.operations) {
		return transaction.Operation{}, false
	}
	return w.operations[w.opIdx], true
}

func (w *OperationWriter) nextOperation() {
	w.opIdx++
}

func (w *OperationWriter) lastStep() error {
	for {
		if w.shift == 0 {
			break
		}
		sp, err, ok := w.spaces.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		switch s := sp.(type) {
		case space.EmptySpace:
			if w.shift > 0 {
				w.shift -= s.Len
			} else {
				writeEmptyBytes(&w.buffer.inner, -w.shift)
				w.shift = 0
			}
		case space.OccupiedSpace:
			if w.shift > 0 {
				w.buffer.inner.Write(s.Data)
			} else if isMinOffsetForSpace(s.Offset, w.shift, s.Data, w.prefixBits, w.fieldBodySize) {
				w.buffer.inner.Write(s.Data)
			} else {
				minOffset := MinOffsetForSpace(s.Data, w.prefixBits, w.fieldBodySize)
				diff := s.Offset - (-w.shift) - minOffset
				if diff < 0 {
					writeEmptyBytes(&w.buffer.inner, -diff)
					w.buffer.inner.Write(s.Data)
					w.shift += -diff
				} else {
					writeEmptyBytes(&w.buffer.inner, -w.shift+diff)
					w.buffer.inner.Write(s.Data)
					w.shift = diff
				}
			}
		}
	}

	if w.shift < 0 {
		writeEmptyBytes(&w.buffer.inner, -w.shift)
	}

	w.buffer.finishOperation()
	return nil
}

// step advances the writer by one decision. finished is true once both
// the operation stream and any pending shift have been fully drained.
func (w *OperationWriter) step() (finished bool, err error) {
	op, ok := w.peekOperation()
	if !ok {
		if err := w.lastStep(); err != nil {
			return false, err
		}
		return true, nil
	}

	prefixedKey := key.New(op.Key, w.prefixBits)

	if w.shift == 0 {
		w.buffer.finishOperation()
		w.spaces.MoveOffsetForward(prefixedKey.Offset(w.fieldBodySize))
	}

	sp, serr, sok := w.spaces.Peek()
	if serr != nil {
		return false, serr
	}
	if !sok {
		return false, fmt.Errorf("flush: ran out of space while writing operations")
	}

	d := Decide(op, sp, w.shift, w.fieldBodySize, w.prefixBits)

	switch d.Kind {
	case InsertIntoEmptySpace:
		w.nextOperation()
		if _, err, _ := w.spaces.Next(); err != nil {
			return false, err
		}

		w.buffer.denoteOperationStart(uint64(d.Offset))
		written := writeInsertOperation(&w.buffer.inner, d.Key, d.Value, w.fieldBodySize, w.constValue)
		w.shift += written - d.SpaceLen
		w.metadata.InsertRecord(prefixedKey.Prefix, written)

	case InsertBeforeOccupiedSpace:
		w.nextOperation()

		w.buffer.denoteOperationStart(uint64(d.Offset))
		written := writeInsertOperation(&w.buffer.inner, d.Key, d.Value, w.fieldBodySize, w.constValue)
		w.shift += written
		w.metadata.InsertRecord(prefixedKey.Prefix, written)

	case Overwrite:
		w.nextOperation()
		if _, err, _ := w.spaces.Next(); err != nil {
			return false, err
		}

		w.buffer.denoteOperationStart(uint64(d.Offset))
		written := writeInsertOperation(&w.buffer.inner, d.Key, d.Value, w.fieldBodySize, w.constValue)
		w.shift += written - d.OldLen
		w.metadata.UpdateRecordLen(d.OldLen, written)

	case SeekSpace:
		if _, err, _ := w.spaces.Next(); err != nil {
			return false, err
		}

	case IgnoreOperation:
		w.nextOperation()

	case ConsumeEmptySpace:
		if _, err, _ := w.spaces.Next(); err != nil {
			return false, err
		}
		w.shift -= d.Len

	case ShiftOccupiedSpace:
		if _, err, _ := w.spaces.Next(); err != nil {
			return false, err
		}
		w.buffer.inner.Write(d.Data)

	case FinishBackwardShift:
		if w.shift >= 0 {
			panic("flush: finish backward shift only valid while shift is negative")
		}
		writeEmptyBytes(&w.buffer.inner, -w.shift)
		w.shift = 0

	case Delete:
		w.nextOperation()
		if _, err, _ := w.spaces.Next(); err != nil {
			return false, err
		}
		w.buffer.denoteOperationStart(uint64(d.Offset))
		w.shift -= d.Len
		w.metadata.RemoveRecord(d.Len)
	}

	return false, nil
}

// Run drives the writer to completion and returns the serialized
// idempotent-operations buffer followed by the updated metadata image.
func (w *OperationWriter) Run() ([]byte, error) {
	for {
		finished, err := w.step()
		if err != nil {
			return nil, err
		}
		if finished {
			break
		}
	}

	result := w.buffer.inner.Bytes()
	metaImage := w.metadata.Bytes()
	return append(result, metaImage...), nil
}
