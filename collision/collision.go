// Package collision implements the append-only log that holds every
// record for a key prefix that has overflowed the fixed-slot data file
// due to too many colliding keys, indexed in memory for point lookups.
package collision

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/segurodb/segurodb/transaction"
)

type indexEntry struct {
	position int64
	size     int
}

// Collision is one prefix's overflow log: an append-only file of
// insert/tombstone entries, an in-memory ordered index from key to the
// entry's live position in the log, and a Bloom filter that lets a
// lookup short-circuit before consulting the index.
type Collision struct {
	prefix uint32
	path   string
	file   *os.File

	data   []byte
	index  map[string]indexEntry
	filter *bloom.BloomFilter
}

func collisionFilePath(dir string, prefix uint32) string {
	return filepath.Join(dir, fmt.Sprintf("collision-%d.log", prefix))
}

// Create creates a new, empty collision log for prefix under dir.
func Create(dir string, prefix uint32) (*Collision, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	path := collisionFilePath(dir, prefix)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	return &Collision{
		prefix: prefix,
		path:   path,
		file:   f,
		data:   nil,
		index:  make(map[string]indexEntry),
		filter: newFilter(0),
	}, nil
}

// Open opens an existing collision log for prefix under dir. ok is false
// (with a nil error) when no such log exists yet.
func Open(dir string, prefix uint32) (c *Collision, ok bool, err error) {
	path := collisionFilePath(dir, prefix)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		f.Close()
		return nil, false, err
	}

	index, filter, err := buildIndex(data)
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("collision: decoding log %s: %w", path, err)
	}

	return &Collision{prefix: prefix, path: path, file: f, data: data, index: index, filter: filter}, true, nil
}

func newFilter(expectedElements uint) *bloom.BloomFilter {
	if expectedElements == 0 {
		expectedElements = 64
	}
	return bloom.NewWithEstimates(expectedElements, 0.01)
}

func buildIndex(data []byte) (map[string]indexEntry, *bloom.BloomFilter, error) {
	index := make(map[string]indexEntry)
	filter := newFilter(uint(len(data) / 32))

	it := newLogIterator(data)
	for {
		position, entry, ok := it.next()
		if !ok {
			break
		}
		if entry.value != nil {
			index[string(entry.key)] = indexEntry{position: int64(position), size: entryLen(entry.key, entry.value)}
			filter.Add(entry.key)
		} else {
			delete(index, string(entry.key))
		}
	}

	return index, filter, nil
}

func (c *Collision) rebuildIndex() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	index, filter, err := buildIndex(data)
	if err != nil {
		return err
	}
	c.data = data
	c.index = index
	c.filter = filter
	return nil
}

// Insert writes key/value to the log and updates the index. A no-op
// write (value already current) is skipped.
func (c *Collision) Insert(key, value []byte) error {
	if current, err := c.Get(key); err == nil && current != nil && string(current) == string(value) {
		return nil
	}

	if _, err := writeEntry(c.file, key, value); err != nil {
		return err
	}
	return c.rebuildIndex()
}

// Delete removes key from the log, appending a tombstone only if the key
// was present.
func (c *Collision) Delete(key []byte) error {
	if _, ok := c.index[string(key)]; !ok {
		return nil
	}
	if _, err := writeDeletedEntry(c.file, key); err != nil {
		return err
	}
	return c.rebuildIndex()
}

// Get looks up key, returning nil with no error if absent.
func (c *Collision) Get(key []byte) ([]byte, error) {
	if !c.filter.Test(key) {
		return nil, nil
	}

	entry, ok := c.index[string(key)]
	if !ok {
		return nil, nil
	}

	logEntry, _ := readEntry(c.data[entry.position:])
	return logEntry.value, nil
}

// Apply dispatches op to Insert or Delete.
func (c *Collision) Apply(op transaction.Operation) error {
	switch op.Kind {
	case transaction.Insert:
		return c.Insert(op.Key, op.Value)
	case transaction.Delete:
		return c.Delete(op.Key)
	}
	return nil
}

// Prefix returns the key prefix this collision log covers.
func (c *Collision) Prefix() uint32 { return c.prefix }

// Iter returns every live key/value pair, ordered by key.
func (c *Collision) Iter() ([][2][]byte, error) {
	keys := make([]string, 0, len(c.index))
	for k := range c.index {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][2][]byte, 0, len(keys))
	for _, k := range keys {
		entry := c.index[k]
		logEntry, _ := readEntry(c.data[entry.position:])
		out = append(out, [2][]byte{logEntry.key, logEntry.value})
	}
	return out, nil
}

// Close closes the backing file.
func (c *Collision) Close() error {
	return c.file.Close()
}
