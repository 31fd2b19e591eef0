package space

import (
	"reflect"
	"testing"
)

func nextOrFatal(t *testing.T, it *Iterator) Space {
	t.Helper()
	sp, err, ok := it.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a space, got none")
	}
	return sp
}

func assertExhausted(t *testing.T, it *Iterator) {
	t.Helper()
	_, err, ok := it.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected iterator to be exhausted")
	}
}

func TestEmptySpaceIterator(t *testing.T) {
	it := New([]byte{}, 3, 0)
	assertExhausted(t, it)
}

func TestSpaceIteratorOneUninitializedElement(t *testing.T) {
	data := []byte{0, 0, 0, 0}
	it := New(data, 3, 0)

	sp := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp, EmptySpace{Offset: 0, Len: 4}) {
		t.Fatalf("unexpected space: %#v", sp)
	}
	assertExhausted(t, it)
}

func TestSpaceIteratorOneInitializedElement(t *testing.T) {
	data := []byte{1, 0, 0, 0}
	it := New(data, 3, 0)

	sp := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp, OccupiedSpace{Offset: 0, Data: data}) {
		t.Fatalf("unexpected space: %#v", sp)
	}
	assertExhausted(t, it)
}

func TestSpaceIteratorTwoDifferentSpaces1(t *testing.T) {
	data := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	it := New(data, 3, 0)

	sp1 := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp1, OccupiedSpace{Offset: 0, Data: data[0:4]}) {
		t.Fatalf("unexpected first space: %#v", sp1)
	}
	sp2 := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp2, EmptySpace{Offset: 4, Len: 4}) {
		t.Fatalf("unexpected second space: %#v", sp2)
	}
	assertExhausted(t, it)
}

func TestSpaceIteratorTwoDifferentSpaces2(t *testing.T) {
	data := []byte{0, 0, 0, 0, 1, 0, 0, 0}
	it := New(data, 3, 0)

	sp1 := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp1, EmptySpace{Offset: 0, Len: 4}) {
		t.Fatalf("unexpected first space: %#v", sp1)
	}
	sp2 := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp2, OccupiedSpace{Offset: 4, Data: data[4:8]}) {
		t.Fatalf("unexpected second space: %#v", sp2)
	}
	assertExhausted(t, it)
}

func TestSpaceIteratorTwoInserts(t *testing.T) {
	data := []byte{1, 0, 0, 0, 1, 0, 0, 0}
	it := New(data, 3, 0)

	sp1 := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp1, OccupiedSpace{Offset: 0, Data: data[0:4]}) {
		t.Fatalf("unexpected first space: %#v", sp1)
	}
	sp2 := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp2, OccupiedSpace{Offset: 4, Data: data[4:8]}) {
		t.Fatalf("unexpected second space: %#v", sp2)
	}
	assertExhausted(t, it)
}

func TestSpaceIteratorOneLongSpace1(t *testing.T) {
	data := []byte{1, 0, 0, 0, 2, 0, 0, 0}
	it := New(data, 3, 0)

	sp := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp, OccupiedSpace{Offset: 0, Data: data}) {
		t.Fatalf("unexpected space: %#v", sp)
	}
	assertExhausted(t, it)
}

func TestSpaceIteratorOneLongSpace2(t *testing.T) {
	data := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	it := New(data, 3, 0)

	sp1 := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp1, EmptySpace{Offset: 0, Len: 4}) {
		t.Fatalf("unexpected first space: %#v", sp1)
	}
	sp2 := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp2, EmptySpace{Offset: 4, Len: 4}) {
		t.Fatalf("unexpected second space: %#v", sp2)
	}
	assertExhausted(t, it)
}

func TestSpaceIteratorStartFromContinued1(t *testing.T) {
	data := []byte{2, 0, 0, 0, 0, 0, 0, 0}
	it := New(data, 3, 0)

	sp := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp, EmptySpace{Offset: 4, Len: 4}) {
		t.Fatalf("unexpected space: %#v", sp)
	}
	assertExhausted(t, it)
}

func TestSpaceIteratorStartFromContinued2(t *testing.T) {
	data := []byte{2, 0, 0, 0, 1, 0, 0, 0}
	it := New(data, 3, 0)

	sp := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp, OccupiedSpace{Offset: 4, Data: data[4:8]}) {
		t.Fatalf("unexpected space: %#v", sp)
	}
	assertExhausted(t, it)
}

func TestSpaceIteratorContinuedError(t *testing.T) {
	data := []byte{0, 0, 0, 0, 2, 0, 0, 0}
	it := New(data, 3, 0)

	sp := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp, EmptySpace{Offset: 0, Len: 4}) {
		t.Fatalf("unexpected space: %#v", sp)
	}

	_, err, ok := it.Next()
	if !ok {
		t.Fatal("expected an error result, got exhausted")
	}
	if err == nil {
		t.Fatal("expected an error for orphaned continuation")
	}
}

func TestSpaceIteratorShortInsertAfterLongInsert(t *testing.T) {
	data := []byte{1, 0, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0}
	it := New(data, 3, 0)

	sp1 := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp1, OccupiedSpace{Offset: 0, Data: data[0:8]}) {
		t.Fatalf("unexpected first space: %#v", sp1)
	}
	sp2 := nextOrFatal(t, it)
	if !reflect.DeepEqual(sp2, OccupiedSpace{Offset: 8, Data: data[8:12]}) {
		t.Fatalf("unexpected second space: %#v", sp2)
	}
	assertExhausted(t, it)
}
