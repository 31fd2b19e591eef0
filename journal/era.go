package journal

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/crypto/sha3"

	"github.com/segurodb/segurodb/errs"
	"github.com/segurodb/segurodb/mmapfile"
	"github.com/segurodb/segurodb/transaction"
)

// checksumSize is the width of the SHA3-256 digest prefixed onto every
// era file.
const checksumSize = 32

type eraOp struct {
	value   []byte
	deleted bool
}

// Era is one committed transaction, durably written to its own file as
// SHA3-256(raw_transaction) || raw_transaction, with an in-memory index
// over its operations for fast point lookups.
type Era struct {
	path  string
	mmap  *mmapfile.File
	cache map[string]eraOp
}

// CreateEra writes tx's raw operation bytes to a new file at path,
// prefixed with their hash, then opens it.
func CreateEra(path string, tx *transaction.Transaction) (*Era, error) {
	raw := tx.Raw()
	hash := sha3.Sum256(raw)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(hash[:]); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	f.Close()

	return OpenEra(path)
}

// OpenEra opens an existing era file, verifying its checksum and
// rebuilding its in-memory index.
func OpenEra(path string) (*Era, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	mapped, err := mmapfile.Open(path, int(info.Size()))
	if err != nil {
		return nil, err
	}

	data := mapped.Bytes()
	if len(data) < checksumSize {
		mapped.Close()
		return nil, &errs.CorruptedJournalError{Path: path, Detail: "file shorter than checksum size"}
	}

	checksum := data[:checksumSize]
	body := data[checksumSize:]
	hash := sha3.Sum256(body)
	if !bytes.Equal(hash[:], checksum) {
		mapped.Close()
		return nil, &errs.CorruptedJournalError{
			Path:   path,
			Detail: fmt.Sprintf("expected %x, got %x", hash, checksum),
		}
	}

	cache, err := cacheOperations(body)
	if err != nil {
		mapped.Close()
		return nil, fmt.Errorf("journal: decoding era %s: %w", path, err)
	}

	return &Era{path: path, mmap: mapped, cache: cache}, nil
}

func cacheOperations(data []byte) (map[string]eraOp, error) {
	cache := make(map[string]eraOp)
	it := transaction.NewOperationsIterator(data)
	for {
		op, err, ok := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch op.Kind {
		case transaction.Insert:
			cache[string(op.Key)] = eraOp{value: op.Value}
		case transaction.Delete:
			cache[string(op.Key)] = eraOp{deleted: true}
		}
	}
	return cache, nil
}

// Get returns the era's recorded value for key: value, found, tombstone.
// found is false if this era never mentions key at all.
func (e *Era) Get(key []byte) (value []byte, found, tombstone bool) {
	op, ok := e.cache[string(key)]
	if !ok {
		return nil, false, false
	}
	if op.deleted {
		return nil, true, true
	}
	return op.value, true, false
}

// Operations returns the era's operations deduplicated by key, keeping
// only the latest operation seen for each key, ordered by key.
func (e *Era) Operations() ([]transaction.Operation, error) {
	ops, err := transaction.SortedByKey(e.mmap.Bytes()[checksumSize:])
	if err != nil {
		return nil, err
	}
	return dedupeLatestByKey(ops), nil
}

func dedupeLatestByKey(ops []transaction.Operation) []transaction.Operation {
	latest := make(map[string]transaction.Operation, len(ops))
	order := make([]string, 0, len(ops))
	for _, op := range ops {
		k := string(op.Key)
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = op
	}
	out := make([]transaction.Operation, 0, len(order))
	for _, k := range order {
		out = append(out, latest[k])
	}
	return out
}

// Delete removes the era's backing file.
func (e *Era) Delete() error {
	if err := e.mmap.Close(); err != nil {
		return err
	}
	return os.Remove(e.path)
}

// Close unmaps the era's backing file without removing it.
func (e *Era) Close() error {
	return e.mmap.Close()
}
