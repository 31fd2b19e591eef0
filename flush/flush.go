package flush

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/sha3"

	"github.com/segurodb/segurodb/errs"
	"github.com/segurodb/segurodb/metadata"
	"github.com/segurodb/segurodb/mmapfile"
	"github.com/segurodb/segurodb/transaction"
)

// FileName is the name of the flush artifact within a database directory.
const FileName = "db.flush"

// ChecksumSize is the width of the SHA3-256 digest prefixed onto a flush
// file's body.
const ChecksumSize = 32

// Flush is a sealed, idempotent rewrite of the field region, produced by
// one call to New and later applied to the live data file by Apply.
type Flush struct {
	path       string
	mmap       *mmapfile.File
	prefixBits uint
	metadata   *metadata.Metadata
}

// New computes the idempotent operations for the sorted transaction
// operations against db and metadata, and seals the result into a new
// flush file under dir.
func New(
	dir string,
	db []byte,
	md *metadata.Metadata,
	fieldBodySize int,
	prefixBits uint,
	constValue bool,
	operations []transaction.Operation,
) (*Flush, error) {
	mdCopy := *md
	prefixesCopy := *md.Prefixes
	collidedCopy := *md.CollidedPrefixes
	mdCopy.Prefixes = &prefixesCopy
	mdCopy.CollidedPrefixes = &collidedCopy

	writer := NewOperationWriter(operations, db, &mdCopy, fieldBodySize, prefixBits, constValue)
	flushData, err := writer.Run()
	if err != nil {
		return nil, fmt.Errorf("flush: building operations: %w", err)
	}

	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(len(flushData) + ChecksumSize)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	f.Close()

	mapped, err := mmapfile.Open(path, len(flushData)+ChecksumSize)
	if err != nil {
		return nil, err
	}

	hash := sha3.Sum256(flushData)
	copy(mapped.Bytes()[:ChecksumSize], hash[:])
	copy(mapped.Bytes()[ChecksumSize:], flushData)
	if err := mapped.Sync(); err != nil {
		return nil, err
	}

	return &Flush{path: path, mmap: mapped, prefixBits: prefixBits, metadata: &mdCopy}, nil
}

// Open opens a pre-existing flush file in dir, if one exists. Returns
// ok=false (no error) when the file is absent, which is the common case:
// most opens find no pending flush.
func Open(dir string, prefixBits uint) (fl *Flush, ok bool, err error) {
	path := filepath.Join(dir, FileName)

	info, statErr := os.Stat(path)
	if statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, statErr
	}

	mapped, err := mmapfile.Open(path, int(info.Size()))
	if err != nil {
		return nil, false, err
	}

	data := mapped.Bytes()
	checksum := data[:ChecksumSize]
	body := data[ChecksumSize:]
	hash := sha3.Sum256(body)
	if !bytes.Equal(hash[:], checksum) {
		mapped.Close()
		return nil, false, &errs.CorruptedFlushError{
			Path:   path,
			Detail: fmt.Sprintf("expected %x, got %x", hash, checksum),
		}
	}

	metaOffset := len(data) - metadata.Len(prefixBits)
	md, err := metadata.Read(data[metaOffset:], prefixBits)
	if err != nil {
		mapped.Close()
		return nil, false, fmt.Errorf("flush: decoding metadata: %w", err)
	}

	return &Flush{path: path, mmap: mapped, prefixBits: prefixBits, metadata: md}, true, nil
}

// Apply writes every idempotent operation into db and replaces
// rawMetadata and metadata with the flush's own image. Safe to call more
// than once; every operation it replays is idempotent by construction.
func (fl *Flush) Apply(db []byte, rawMetadata []byte, md *metadata.Metadata) {
	data := fl.mmap.Bytes()
	metaOffset := len(data) - metadata.Len(fl.prefixBits)
	operations := data[ChecksumSize:metaOffset]

	it := NewIdempotentOperationIterator(operations)
	for {
		op, ok := it.Next()
		if !ok {
			break
		}
		copy(db[op.Offset:op.Offset+len(op.Data)], op.Data)
	}

	copy(rawMetadata, data[metaOffset:])
	*md = *fl.metadata
}

// Delete removes the flush file. Callers must only call this after
// Apply's effects are durably reflected in the data file.
func (fl *Flush) Delete() error {
	if err := fl.mmap.Close(); err != nil {
		return err
	}
	return os.Remove(fl.path)
}
