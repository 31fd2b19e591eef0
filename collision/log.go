package collision

import (
	"encoding/binary"
	"io"
	"os"
)

// entryStaticSize is the width of a log entry's two length headers.
const entryStaticSize = 8

// tombstone is the sentinel value-length marking a deleted entry.
const tombstone = ^uint32(0)

type logEntry struct {
	key   []byte
	value []byte // nil for a tombstone
}

func entryLen(key, value []byte) int {
	return entryStaticSize + len(key) + len(value)
}

func writeEntry(f *os.File, key, value []byte) (position int64, err error) {
	position, err = f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	var keyLenBuf [4]byte
	binary.LittleEndian.PutUint32(keyLenBuf[:], uint32(len(key)))
	if _, err := f.Write(keyLenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := f.Write(key); err != nil {
		return 0, err
	}

	var valueLenBuf [4]byte
	binary.LittleEndian.PutUint32(valueLenBuf[:], uint32(len(value)))
	if _, err := f.Write(valueLenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := f.Write(value); err != nil {
		return 0, err
	}

	return position, nil
}

func writeDeletedEntry(f *os.File, key []byte) (position int64, err error) {
	position, err = f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	var keyLenBuf [4]byte
	binary.LittleEndian.PutUint32(keyLenBuf[:], uint32(len(key)))
	if _, err := f.Write(keyLenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := f.Write(key); err != nil {
		return 0, err
	}

	var tombBuf [4]byte
	binary.LittleEndian.PutUint32(tombBuf[:], tombstone)
	if _, err := f.Write(tombBuf[:]); err != nil {
		return 0, err
	}

	return position, nil
}

// readEntry decodes one log entry starting at data[0], returning the
// entry and the number of bytes consumed.
func readEntry(data []byte) (logEntry, int) {
	offset := 4
	keySize := int(binary.LittleEndian.Uint32(data[:offset]))

	key := data[offset : offset+keySize]
	offset += keySize

	valueSize := binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	if valueSize == tombstone {
		return logEntry{key: key}, offset
	}

	value := data[offset : offset+int(valueSize)]
	offset += int(valueSize)
	return logEntry{key: key, value: value}, offset
}

// logIterator walks a raw collision-log byte slice entry by entry.
type logIterator struct {
	data     []byte
	position int
}

func newLogIterator(data []byte) *logIterator {
	return &logIterator{data: data}
}

func (it *logIterator) next() (position int, entry logEntry, ok bool) {
	if it.position >= len(it.data) {
		return 0, logEntry{}, false
	}

	entry, read := readEntry(it.data[it.position:])
	position = it.position
	it.position += read
	return position, entry, true
}
