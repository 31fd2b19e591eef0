package transaction

import (
	"bytes"
	"testing"
)

func TestTransactionInsertAndDelete(t *testing.T) {
	tx := New(3)
	if err := tx.Insert([]byte("key"), []byte("value")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Delete([]byte("key")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	it := tx.Operations()

	op1, err, ok := it.Next()
	if err != nil || !ok {
		t.Fatalf("expected first operation, err=%v ok=%v", err, ok)
	}
	if op1.Kind != Insert || !bytes.Equal(op1.Key, []byte("key")) || !bytes.Equal(op1.Value, []byte("value")) {
		t.Fatalf("unexpected first operation: %+v", op1)
	}

	op2, err, ok := it.Next()
	if err != nil || !ok {
		t.Fatalf("expected second operation, err=%v ok=%v", err, ok)
	}
	if op2.Kind != Delete || !bytes.Equal(op2.Key, []byte("key")) {
		t.Fatalf("unexpected second operation: %+v", op2)
	}

	_, err, ok = it.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected iterator to be exhausted")
	}
}

func TestTransactionInvalidKeyLen(t *testing.T) {
	tx := New(4)
	if err := tx.Insert([]byte("key"), []byte("value")); err == nil {
		t.Fatal("expected error for mismatched insert key length")
	}
	if err := tx.Delete([]byte("key")); err == nil {
		t.Fatal("expected error for mismatched delete key length")
	}
}

func TestOperationRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	Operation{Kind: Insert, Key: []byte("abc"), Value: []byte("xyz123")}.writeTo(&buf)

	op, consumed, err := readOperation(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != 1+4+4+3+6 {
		t.Fatalf("unexpected consumed bytes: %d", consumed)
	}
	if op.Kind != Insert || !bytes.Equal(op.Key, []byte("abc")) || !bytes.Equal(op.Value, []byte("xyz123")) {
		t.Fatalf("unexpected roundtrip: %+v", op)
	}
}

func TestDeleteOperationRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	Operation{Kind: Delete, Key: []byte("abcdef")}.writeTo(&buf)

	op, consumed, err := readOperation(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != 1+4+6 {
		t.Fatalf("unexpected consumed bytes: %d", consumed)
	}
	if op.Kind != Delete || !bytes.Equal(op.Key, []byte("abcdef")) {
		t.Fatalf("unexpected roundtrip: %+v", op)
	}
}

func TestIterateMultipleOperationsPreservesOrder(t *testing.T) {
	tx := New(3)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	must(tx.Insert([]byte("key"), []byte("value")))
	must(tx.Delete([]byte("key")))
	must(tx.Insert([]byte("key"), []byte("value")))

	it := tx.Operations()
	var kinds []Kind
	for {
		op, err, ok := it.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			break
		}
		kinds = append(kinds, op.Kind)
	}

	want := []Kind{Insert, Delete, Insert}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected operation count: %d", len(kinds))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("operation %d: got %v want %v", i, kinds[i], want[i])
		}
	}
}
