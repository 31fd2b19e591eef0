package field

import (
	"bytes"
	"encoding/binary"
)

// rawRecordContent concatenates a record's key, optional 4-byte
// little-endian value-length header, and value into the flat byte
// sequence that gets chunked into fields by AppendRecord.
func rawRecordContent(key, value []byte, constValue bool) []byte {
	if constValue {
		out := make([]byte, 0, len(key)+len(value))
		out = append(out, key...)
		out = append(out, value...)
		return out
	}

	out := make([]byte, 0, len(key)+ValueLenHeaderSize+len(value))
	out = append(out, key...)

	var lenBuf [ValueLenHeaderSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(value)))
	out = append(out, lenBuf[:]...)
	out = append(out, value...)
	return out
}

// AppendRecord writes a fully-packed record (header byte + body, repeated
// per field, zero-padded in the final field) to buf: the content is key
// followed by the optional value-length header followed by value, chunked
// into field_body_size pieces, each preceded by Inserted (first field) or
// Continued (every subsequent field).
func AppendRecord(buf *bytes.Buffer, key, value []byte, fieldBodySize int, constValue bool) {
	content := rawRecordContent(key, value, constValue)

	pos := 0
	first := true
	for pos < len(content) || first {
		end := pos + fieldBodySize
		if end > len(content) {
			end = len(content)
		}
		chunk := content[pos:end]

		if first {
			buf.WriteByte(byte(Inserted))
			first = false
		} else {
			buf.WriteByte(byte(Continued))
		}

		buf.Write(chunk)
		for i := 0; i < fieldBodySize-len(chunk); i++ {
			buf.WriteByte(0)
		}

		pos = end
	}
}
