package segurodb

import (
	"errors"
	"testing"

	"github.com/segurodb/segurodb/errs"
	"github.com/segurodb/segurodb/options"
)

func createTestDB(t *testing.T, opts options.Options) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := Create(dir, opts, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateInsertAndQuery(t *testing.T) {
	db := createTestDB(t, options.Options{
		JournalEras:            0,
		ExtendThresholdPercent: 80,
		KeyIndexBits:           8,
		KeyLen:                 3,
		ValueLen:               options.ConstantValuesLen(3),
		MaxPrefixCollisions:    6,
	})

	tx := db.CreateTransaction()
	mustInsert(t, tx, "abc", "xyz")
	mustInsert(t, tx, "cde", "123")
	if err := db.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	expectValue(t, db, "abc", "xyz")
	expectValue(t, db, "cde", "123")

	tx2 := db.CreateTransaction()
	mustInsert(t, tx2, "abc", "456")
	mustDelete(t, tx2, "cde")
	if err := db.Commit(tx2); err != nil {
		t.Fatalf("commit: %v", err)
	}

	expectValue(t, db, "abc", "456")
	expectAbsent(t, db, "cde")

	if err := db.FlushJournal(2); err != nil {
		t.Fatalf("flush journal: %v", err)
	}

	expectValue(t, db, "abc", "456")
	expectAbsent(t, db, "cde")
}

func TestValidateKeyLengthAtInsert(t *testing.T) {
	db := createTestDB(t, options.Options{
		JournalEras:            0,
		ExtendThresholdPercent: 80,
		KeyIndexBits:           8,
		KeyLen:                 3,
		ValueLen:               options.ConstantValuesLen(3),
		MaxPrefixCollisions:    6,
	})

	tx := db.CreateTransaction()
	err := tx.Insert([]byte("abcdef"), []byte("456"))
	var invalidKeyLen *errs.InvalidKeyLenError
	if !errors.As(err, &invalidKeyLen) {
		t.Fatalf("expected InvalidKeyLenError, got %v", err)
	}
	if invalidKeyLen.Expected != 3 || invalidKeyLen.Got != 6 {
		t.Fatalf("unexpected error detail: %+v", invalidKeyLen)
	}
}

func TestValidateKeyLengthAtGet(t *testing.T) {
	db := createTestDB(t, options.Options{
		JournalEras:            0,
		ExtendThresholdPercent: 80,
		KeyIndexBits:           8,
		KeyLen:                 3,
		ValueLen:               options.ConstantValuesLen(3),
		MaxPrefixCollisions:    6,
	})

	_, _, err := db.Get([]byte("a"))
	var invalidKeyLen *errs.InvalidKeyLenError
	if !errors.As(err, &invalidKeyLen) {
		t.Fatalf("expected InvalidKeyLenError, got %v", err)
	}
	if invalidKeyLen.Expected != 3 || invalidKeyLen.Got != 1 {
		t.Fatalf("unexpected error detail: %+v", invalidKeyLen)
	}
}

func TestSameKeyOperationOrdering(t *testing.T) {
	db := createTestDB(t, options.Options{
		JournalEras:            0,
		ExtendThresholdPercent: 80,
		KeyIndexBits:           8,
		KeyLen:                 3,
		ValueLen:               options.ConstantValuesLen(3),
		MaxPrefixCollisions:    6,
	})

	tx := db.CreateTransaction()
	mustInsert(t, tx, "abc", "123")
	mustDelete(t, tx, "abc")
	if err := db.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := db.FlushJournal(1); err != nil {
		t.Fatalf("flush journal: %v", err)
	}

	expectAbsent(t, db, "abc")
}

func TestDeleteAfterFlushedInsertIsAbsentBeforeNextFlush(t *testing.T) {
	db := createTestDB(t, options.Options{
		JournalEras:            0,
		ExtendThresholdPercent: 80,
		KeyIndexBits:           8,
		KeyLen:                 3,
		ValueLen:               options.ConstantValuesLen(3),
		MaxPrefixCollisions:    6,
	})

	tx1 := db.CreateTransaction()
	mustInsert(t, tx1, "abc", "123")
	if err := db.Commit(tx1); err != nil {
		t.Fatalf("commit tx1: %v", err)
	}
	if err := db.FlushJournal(1); err != nil {
		t.Fatalf("flush journal: %v", err)
	}

	expectValue(t, db, "abc", "123")

	tx2 := db.CreateTransaction()
	mustDelete(t, tx2, "abc")
	if err := db.Commit(tx2); err != nil {
		t.Fatalf("commit tx2: %v", err)
	}

	expectAbsent(t, db, "abc")
}

func TestIter(t *testing.T) {
	db := createTestDB(t, options.Options{
		JournalEras:            0,
		ExtendThresholdPercent: 80,
		KeyIndexBits:           8,
		KeyLen:                 3,
		ValueLen:               options.ConstantValuesLen(3),
		MaxPrefixCollisions:    6,
	})

	tx1 := db.CreateTransaction()
	mustInsert(t, tx1, "abc", "123")
	mustInsert(t, tx1, "def", "467")
	mustInsert(t, tx1, "ghi", "zzz")
	if err := db.Commit(tx1); err != nil {
		t.Fatalf("commit tx1: %v", err)
	}
	if err := db.FlushJournal(1); err != nil {
		t.Fatalf("flush journal: %v", err)
	}

	tx2 := db.CreateTransaction()
	mustInsert(t, tx2, "jkl", "999")
	mustInsert(t, tx2, "def", "333")
	mustInsert(t, tx2, "pqr", "aaa")
	mustDelete(t, tx2, "ghi")
	if err := db.Commit(tx2); err != nil {
		t.Fatalf("commit tx2: %v", err)
	}

	it, err := db.Iter()
	if err != nil {
		t.Fatalf("iter: %v", err)
	}

	want := []struct{ key, value string }{
		{"abc", "123"},
		{"def", "333"},
		{"jkl", "999"},
		{"pqr", "aaa"},
	}

	var got []struct{ key, value string }
	for {
		k, v, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, struct{ key, value string }{string(k), string(v.Bytes())})
	}

	if len(got) != len(want) {
		t.Fatalf("unexpected count: got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestIterCollisions(t *testing.T) {
	db := createTestDB(t, options.Options{
		JournalEras:            0,
		ExtendThresholdPercent: 80,
		KeyIndexBits:           8,
		KeyLen:                 3,
		ValueLen:               options.ConstantValuesLen(3),
		MaxPrefixCollisions:    3,
	})

	data := []struct{ key, value string }{
		{"aaa", "001"},
		{"aab", "002"},
		{"aac", "003"},
		{"hhh", "004"},
		{"zzz", "005"},
	}

	tx := db.CreateTransaction()
	for _, d := range data {
		mustInsert(t, tx, d.key, d.value)
	}
	if err := db.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := db.FlushJournal(1); err != nil {
		t.Fatalf("flush journal: %v", err)
	}

	collided, err := db.Compact()
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if len(collided) != 1 || collided[0] != uint32('a') {
		t.Fatalf("unexpected collided prefixes: %v", collided)
	}

	it, err := db.Iter()
	if err != nil {
		t.Fatalf("iter: %v", err)
	}

	var got []struct{ key, value string }
	for {
		k, v, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, struct{ key, value string }{string(k), string(v.Bytes())})
	}

	if len(got) != len(data) {
		t.Fatalf("unexpected count: got %+v, want %+v", got, data)
	}
	for i := range data {
		if got[i].key != data[i].key || got[i].value != data[i].value {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], data[i])
		}
	}
}

func TestExclusiveAccess(t *testing.T) {
	dir := t.TempDir()
	opts := options.DefaultOptions()

	db, err := Create(dir, opts, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := Open(dir, opts, nil); err == nil {
		t.Fatal("expected second open to fail with a locked-database error")
	} else {
		var locked *errs.DatabaseLockedError
		if !errors.As(err, &locked) {
			t.Fatalf("expected DatabaseLockedError, got %v", err)
		}
	}

	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir, opts, nil)
	if err != nil {
		t.Fatalf("expected reopen to succeed after close: %v", err)
	}
	reopened.Close()
}

func mustInsert(t *testing.T, tx interface {
	Insert(key, value []byte) error
}, key, value string) {
	t.Helper()
	if err := tx.Insert([]byte(key), []byte(value)); err != nil {
		t.Fatalf("insert %q: %v", key, err)
	}
}

func mustDelete(t *testing.T, tx interface {
	Delete(key []byte) error
}, key string) {
	t.Helper()
	if err := tx.Delete([]byte(key)); err != nil {
		t.Fatalf("delete %q: %v", key, err)
	}
}

func expectValue(t *testing.T, db *Database, key, value string) {
	t.Helper()
	v, ok, err := db.Get([]byte(key))
	if err != nil {
		t.Fatalf("get %q: %v", key, err)
	}
	if !ok {
		t.Fatalf("expected %q to be present", key)
	}
	if string(v.Bytes()) != value {
		t.Fatalf("get %q: got %q, want %q", key, v.Bytes(), value)
	}
}

func expectAbsent(t *testing.T, db *Database, key string) {
	t.Helper()
	_, ok, err := db.Get([]byte(key))
	if err != nil {
		t.Fatalf("get %q: %v", key, err)
	}
	if ok {
		t.Fatalf("expected %q to be absent", key)
	}
}
