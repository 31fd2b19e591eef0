// Package segurodb is the top-level, single-writer, embedded key-value
// store: it orchestrates the memory-mapped data file, the metadata
// image, the journal of committed transactions, and the per-prefix
// collision logs behind a small create/open/commit/get/iter/compact API.
package segurodb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/segurodb/segurodb/collision"
	"github.com/segurodb/segurodb/errs"
	"github.com/segurodb/segurodb/field"
	"github.com/segurodb/segurodb/find"
	"github.com/segurodb/segurodb/flush"
	"github.com/segurodb/segurodb/journal"
	"github.com/segurodb/segurodb/key"
	"github.com/segurodb/segurodb/metadata"
	"github.com/segurodb/segurodb/mmapfile"
	"github.com/segurodb/segurodb/options"
	"github.com/segurodb/segurodb/transaction"
)

const (
	dataFileName = "data.db"
	metaFileName = "meta.db"
	lockFileName = "LOCK"
)

// Value is a database record value: either a raw byte slice (journaled
// or collision-file data) or a zero-copy view into the memory-mapped
// data file.
type Value struct {
	raw    []byte
	record field.Record
	isRaw  bool
}

func valueFromRaw(raw []byte) Value { return Value{raw: raw, isRaw: true} }

func valueFromRecord(r field.Record) Value {
	if raw, ok := r.ValueRawSlice(); ok {
		return Value{raw: raw, isRaw: true}
	}
	return Value{record: r}
}

// Bytes copies the value out into a freshly-allocated slice.
func (v Value) Bytes() []byte {
	if v.isRaw {
		out := make([]byte, len(v.raw))
		copy(out, v.raw)
		return out
	}
	out := make([]byte, v.record.ValueLen())
	v.record.ReadValue(out)
	return out
}

// Equal reports whether the value's bytes equal other, without always
// allocating a copy first.
func (v Value) Equal(other []byte) bool {
	if v.isRaw {
		return bytes.Equal(v.raw, other)
	}
	return v.record.ValueIsEqual(other)
}

// Database is a single open handle onto a database directory. It owns
// the exclusive lock, the two memory-mapped files, the journal, and the
// in-memory collision-file index; callers must not open the same
// directory from more than one Database concurrently.
type Database struct {
	path     string
	options  options.Internal
	log      *zap.Logger
	lock     *flock.Flock
	journal  *journal.Journal
	metadata *metadata.Metadata

	dataFile *mmapfile.File
	metaFile *mmapfile.File

	collisions map[uint32]*collision.Collision
}

func acquireLock(path string) (*flock.Flock, error) {
	lockPath := filepath.Join(path, lockFileName)
	lock := flock.New(lockPath)

	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &errs.DatabaseLockedError{Path: lockPath}
	}
	return lock, nil
}

// Create creates a new, empty database at path. logger may be nil, in
// which case logging is a no-op.
func Create(path string, opts options.Options, logger *zap.Logger) (*Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	internal, err := options.Validate(opts)
	if err != nil {
		logger.Error("create: invalid options", zap.Error(err))
		return nil, err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	lock, err := acquireLock(path)
	if err != nil {
		logger.Error("create: acquiring lock", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	dataPath := filepath.Join(path, dataFileName)
	dataFile, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := dataFile.Truncate(int64(internal.InitialDBSize)); err != nil {
		dataFile.Close()
		lock.Unlock()
		return nil, err
	}
	dataFile.Close()

	metaPath := filepath.Join(path, metaFileName)
	metaFile, err := os.OpenFile(metaPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := metaFile.Truncate(int64(metadata.Len(uint(internal.KeyIndexBits)))); err != nil {
		metaFile.Close()
		lock.Unlock()
		return nil, err
	}
	metaFile.Close()

	db, err := openInternal(path, lock, internal, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("database created", zap.String("path", path))
	return db, nil
}

// Open opens an existing database at path, replaying any pending flush
// artifact left by a previous crash.
func Open(path string, opts options.Options, logger *zap.Logger) (*Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	internal, err := options.Validate(opts)
	if err != nil {
		logger.Error("open: invalid options", zap.Error(err))
		return nil, err
	}

	lock, err := acquireLock(path)
	if err != nil {
		logger.Error("open: acquiring lock", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	db, err := openInternal(path, lock, internal, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("database opened", zap.String("path", path))
	return db, nil
}

func openInternal(path string, lock *flock.Flock, internal options.Internal, logger *zap.Logger) (*Database, error) {
	prefixBits := uint(internal.KeyIndexBits)

	jrnl, err := journal.Open(path)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	dataPath := filepath.Join(path, dataFileName)
	dataInfo, err := os.Stat(dataPath)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	dataFile, err := mmapfile.Open(dataPath, int(dataInfo.Size()))
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	metaPath := filepath.Join(path, metaFileName)
	metaInfo, err := os.Stat(metaPath)
	if err != nil {
		dataFile.Close()
		lock.Unlock()
		return nil, err
	}
	metaFile, err := mmapfile.Open(metaPath, int(metaInfo.Size()))
	if err != nil {
		dataFile.Close()
		lock.Unlock()
		return nil, err
	}

	md, err := metadata.Read(metaFile.Bytes(), prefixBits)
	if err != nil {
		dataFile.Close()
		metaFile.Close()
		lock.Unlock()
		return nil, fmt.Errorf("segurodb: decoding metadata: %w", err)
	}

	if fl, ok, err := flush.Open(path, prefixBits); err != nil {
		dataFile.Close()
		metaFile.Close()
		lock.Unlock()
		return nil, err
	} else if ok {
		logger.Warn("replaying pending flush artifact found at open", zap.String("path", path))

		fl.Apply(dataFile.Bytes(), metaFile.Bytes(), md)
		if err := dataFile.Sync(); err != nil {
			return nil, err
		}
		if err := metaFile.Sync(); err != nil {
			return nil, err
		}
		if err := fl.Delete(); err != nil {
			return nil, err
		}
	}

	collisions := make(map[uint32]*collision.Collision)
	it := md.CollidedPrefixes.PrefixesIter()
	for {
		prefix, ok := it.Next()
		if !ok {
			break
		}
		col, ok, err := collision.Open(path, prefix)
		if err != nil {
			dataFile.Close()
			metaFile.Close()
			lock.Unlock()
			return nil, err
		}
		if !ok {
			dataFile.Close()
			metaFile.Close()
			lock.Unlock()
			return nil, fmt.Errorf("segurodb: prefix %d is marked collided in metadata but its collision file is missing", prefix)
		}
		collisions[prefix] = col
	}

	return &Database{
		path:       path,
		options:    internal,
		log:        logger,
		lock:       lock,
		journal:    jrnl,
		metadata:   md,
		dataFile:   dataFile,
		metaFile:   metaFile,
		collisions: collisions,
	}, nil
}

// Close releases the database's resources and its exclusive lock. It
// does not flush the journal; call FlushJournal first if that's wanted.
func (db *Database) Close() error {
	if err := db.journal.Close(); err != nil {
		return err
	}
	for _, col := range db.collisions {
		if err := col.Close(); err != nil {
			return err
		}
	}
	if err := db.dataFile.Close(); err != nil {
		return err
	}
	if err := db.metaFile.Close(); err != nil {
		return err
	}
	db.log.Info("database closed", zap.String("path", db.path))
	return db.lock.Unlock()
}

// CreateTransaction returns a new, empty Transaction sized for this
// database's configured key length.
func (db *Database) CreateTransaction() *transaction.Transaction {
	return transaction.New(db.options.KeyLen)
}

// Commit durably appends tx to the journal as a new era.
func (db *Database) Commit(tx *transaction.Transaction) error {
	if err := db.journal.Push(tx); err != nil {
		db.log.Error("commit failed", zap.Error(err))
		return err
	}
	return nil
}

func (db *Database) fieldValueSize() field.ValueSize {
	if db.options.ValueLen.Constant {
		return field.ConstantValueSize(db.options.ValueLen.Size)
	}
	return field.VariableValueSize()
}

// FlushJournal drains up to max of the oldest eras beyond the configured
// retention (journal_eras) into the data file, one era at a time. A
// negative max means "as many as retention allows".
func (db *Database) FlushJournal(max int) error {
	length := db.journal.Len()
	if length < db.options.JournalEras {
		return nil
	}

	toFlush := length - db.options.JournalEras
	if max >= 0 && max < toFlush {
		toFlush = max
	}
	if toFlush <= 0 {
		return nil
	}

	eras := db.journal.DrainFront(toFlush)
	prefixBits := uint(db.options.KeyIndexBits)

	for _, era := range eras {
		ops, err := era.Operations()
		if err != nil {
			return err
		}

		var collidedOps, dataOps []transaction.Operation
		for _, op := range ops {
			k := key.New(op.Key, prefixBits)
			if has, _ := db.metadata.CollidedPrefixes.Has(k.Prefix); has {
				collidedOps = append(collidedOps, op)
			} else {
				dataOps = append(dataOps, op)
			}
		}

		for _, op := range collidedOps {
			k := key.New(op.Key, prefixBits)
			col := db.collisions[k.Prefix]
			if err := col.Apply(op); err != nil {
				return err
			}
		}

		fl, err := flush.New(db.path, db.dataFile.Bytes(), db.metadata, db.options.FieldBodySize, prefixBits, db.options.ValueLen.Constant, dataOps)
		if err != nil {
			return err
		}

		fl.Apply(db.dataFile.Bytes(), db.metaFile.Bytes(), db.metadata)
		if err := db.dataFile.Sync(); err != nil {
			return err
		}
		if err := db.metaFile.Sync(); err != nil {
			return err
		}
		if err := fl.Delete(); err != nil {
			return err
		}

		if err := era.Delete(); err != nil {
			return err
		}

		db.log.Info("journal era flushed", zap.String("path", db.path))
	}

	return nil
}

// Get looks up key, returning ok=false if it is absent or has been
// deleted.
func (db *Database) Get(k []byte) (value Value, ok bool, err error) {
	if len(k) != db.options.KeyLen {
		err := &errs.InvalidKeyLenError{Expected: db.options.KeyLen, Got: len(k)}
		db.log.Error("get: invalid key length", zap.Error(err))
		return Value{}, false, err
	}

	if raw, found, tombstone := db.journal.Get(k); found {
		if tombstone {
			return Value{}, false, nil
		}
		return valueFromRaw(raw), true, nil
	}

	kk := key.New(k, uint(db.options.KeyIndexBits))

	if has, _ := db.metadata.CollidedPrefixes.Has(kk.Prefix); has {
		col, ok := db.collisions[kk.Prefix]
		if !ok {
			return Value{}, false, fmt.Errorf("segurodb: prefix %d marked collided but no collision file is open", kk.Prefix)
		}
		raw, err := col.Get(kk.Raw)
		if err != nil {
			return Value{}, false, err
		}
		if raw == nil {
			return Value{}, false, nil
		}
		return valueFromRaw(raw), true, nil
	}

	if has, _ := db.metadata.Prefixes.Has(kk.Prefix); !has {
		return Value{}, false, nil
	}

	offset := kk.Offset(db.options.FieldBodySize)
	data := db.dataFile.Bytes()[offset:]

	res, err := find.Record(data, db.options.FieldBodySize, db.fieldValueSize(), k)
	if err != nil {
		return Value{}, false, err
	}

	switch res.Kind {
	case find.Found:
		return valueFromRecord(res.Record), true, nil
	case find.NotFound:
		return Value{}, false, nil
	default:
		panic("segurodb: lookup ran past the end of the data file; the data file is undersized for its prefix width")
	}
}

func (db *Database) recordIter() *find.Iterator {
	return find.NewIterator(db.dataFile.Bytes(), db.metadata.Prefixes.PrefixesIter(), db.options.FieldBodySize, db.options.KeyLen, db.fieldValueSize())
}

type recordEntry struct {
	key   []byte
	value Value
}

func (db *Database) mergedRecordsAndCollisions() ([]recordEntry, error) {
	var records []recordEntry
	it := db.recordIter()
	for {
		record, err, ok := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		recordKey := append([]byte(nil), record.Key()...)
		records = append(records, recordEntry{key: recordKey, value: valueFromRecord(record)})
	}

	prefixes := make([]uint32, 0, len(db.collisions))
	for p := range db.collisions {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i] < prefixes[j] })

	var collided []recordEntry
	for _, p := range prefixes {
		pairs, err := db.collisions[p].Iter()
		if err != nil {
			return nil, err
		}
		for _, pair := range pairs {
			collided = append(collided, recordEntry{
				key:   append([]byte(nil), pair[0]...),
				value: valueFromRaw(append([]byte(nil), pair[1]...)),
			})
		}
	}

	return mergeRecordEntries(records, collided), nil
}

// mergeRecordEntries merges two key-ordered slices. No key may appear in
// both the data file and a collision file at once; a key found in both
// panics.
func mergeRecordEntries(a, b []recordEntry) []recordEntry {
	out := make([]recordEntry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch bytes.Compare(a[i].key, b[j].key) {
		case -1:
			out = append(out, a[i])
			i++
		case 1:
			out = append(out, b[j])
			j++
		default:
			panic("segurodb: key present in both the data file and a collision file")
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// Iterator walks every live (key, value) pair in the database, in
// strictly ascending key order, with journal entries overriding the
// flushed data for the same key.
type Iterator struct {
	records    []recordEntry
	journalOps []transaction.Operation
	ri, ji     int
}

// Next returns the next (key, value) pair, or ok=false when exhausted.
func (it *Iterator) Next() (k []byte, value Value, ok bool) {
	for {
		haveRecord := it.ri < len(it.records)
		haveJournal := it.ji < len(it.journalOps)

		if !haveRecord && !haveJournal {
			return nil, Value{}, false
		}
		if !haveJournal {
			r := it.records[it.ri]
			it.ri++
			return r.key, r.value, true
		}
		if !haveRecord {
			op := it.journalOps[it.ji]
			it.ji++
			if op.Kind == transaction.Delete {
				continue
			}
			return op.Key, valueFromRaw(op.Value), true
		}

		rec := it.records[it.ri]
		op := it.journalOps[it.ji]

		switch bytes.Compare(rec.key, op.Key) {
		case -1:
			it.ri++
			return rec.key, rec.value, true
		case 1:
			it.ji++
			if op.Kind == transaction.Delete {
				continue
			}
			return op.Key, valueFromRaw(op.Value), true
		default:
			it.ri++
			it.ji++
			if op.Kind == transaction.Delete {
				continue
			}
			return op.Key, valueFromRaw(op.Value), true
		}
	}
}

// Iter returns an Iterator over every key/value pair currently visible
// in the database: the flushed data and collision files, overlaid with
// the still-journaled transactions.
func (db *Database) Iter() (*Iterator, error) {
	records, err := db.mergedRecordsAndCollisions()
	if err != nil {
		return nil, err
	}
	journalOps, err := db.journal.Iter()
	if err != nil {
		return nil, err
	}
	return &Iterator{records: records, journalOps: journalOps}, nil
}

func (db *Database) collectCollisionCandidates() (map[uint32][][]byte, error) {
	buckets := make(map[uint32][][]byte)

	it := db.recordIter()
	for {
		record, err, ok := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		k := key.New(record.Key(), uint(db.options.KeyIndexBits))
		buckets[k.Prefix] = append(buckets[k.Prefix], append([]byte(nil), record.Key()...))
	}

	for prefix, keys := range buckets {
		if len(keys) < db.options.MaxPrefixCollisions {
			delete(buckets, prefix)
		}
	}

	return buckets, nil
}

// Compact finds every key prefix whose number of distinct keys in the
// data file meets or exceeds max_prefix_collisions, moves all of that
// prefix's records into its own collision file, and returns the list of
// newly collided prefixes (nil if none were found).
func (db *Database) Compact() ([]uint32, error) {
	buckets, err := db.collectCollisionCandidates()
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, nil
	}

	prefixes := make([]uint32, 0, len(buckets))
	for p := range buckets {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i] < prefixes[j] })

	mdCopy := *db.metadata
	prefixesCopy := *db.metadata.Prefixes
	collidedCopy := *db.metadata.CollidedPrefixes
	mdCopy.Prefixes = &prefixesCopy
	mdCopy.CollidedPrefixes = &collidedCopy

	newFiles := make(map[uint32]*collision.Collision, len(prefixes))
	var deletions []transaction.Operation

	for _, prefix := range prefixes {
		col, err := collision.Create(db.path, prefix)
		if err != nil {
			return nil, err
		}

		for _, k := range buckets[prefix] {
			value, found, err := db.Get(k)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			if err := col.Insert(k, value.Bytes()); err != nil {
				return nil, err
			}
			deletions = append(deletions, transaction.Operation{Kind: transaction.Delete, Key: k})
		}

		newFiles[prefix] = col
		mdCopy.AddPrefixCollision(prefix)
	}

	fl, err := flush.New(db.path, db.dataFile.Bytes(), &mdCopy, db.options.FieldBodySize, uint(db.options.KeyIndexBits), db.options.ValueLen.Constant, deletions)
	if err != nil {
		return nil, err
	}

	// Persist the collided-prefix metadata before applying the flush: if
	// the process crashes right after this, reopening replays the flush
	// artifact against metadata that already knows these prefixes moved.
	mdCopy.CopyToSlice(db.metaFile.Bytes())
	if err := db.metaFile.Sync(); err != nil {
		return nil, err
	}

	fl.Apply(db.dataFile.Bytes(), db.metaFile.Bytes(), db.metadata)
	if err := db.dataFile.Sync(); err != nil {
		return nil, err
	}
	if err := db.metaFile.Sync(); err != nil {
		return nil, err
	}
	if err := fl.Delete(); err != nil {
		return nil, err
	}

	for prefix, col := range newFiles {
		db.collisions[prefix] = col
	}

	db.log.Info("compaction spilled prefixes to collision files", zap.Uint32s("prefixes", prefixes))
	return prefixes, nil
}
