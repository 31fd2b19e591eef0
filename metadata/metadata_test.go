package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyMetadataRoundtrips(t *testing.T) {
	for prefixBits := uint(1); prefixBits <= 16; prefixBits++ {
		zeroed := make([]byte, Len(prefixBits))

		m, err := Read(zeroed, prefixBits)
		require.NoErrorf(t, err, "prefix_bits=%d", prefixBits)
		require.Zerof(t, m.DBVersion, "prefix_bits=%d", prefixBits)
		require.Zerof(t, m.OccupiedBytes, "prefix_bits=%d", prefixBits)

		serialized := m.Bytes()
		require.Lenf(t, serialized, int(Len(prefixBits)), "prefix_bits=%d", prefixBits)
		require.Equalf(t, zeroed, serialized, "prefix_bits=%d", prefixBits)
	}
}

func TestInsertRemoveUpdateRecord(t *testing.T) {
	m := New(4)

	m.InsertRecord(3, 10)
	if m.OccupiedBytes != 10 {
		t.Fatalf("unexpected occupied bytes: %d", m.OccupiedBytes)
	}
	if occupied, ok := m.Prefixes.Has(3); !ok || !occupied {
		t.Fatal("expected prefix 3 to be occupied")
	}

	m.UpdateRecordLen(10, 20)
	if m.OccupiedBytes != 20 {
		t.Fatalf("unexpected occupied bytes after update: %d", m.OccupiedBytes)
	}

	m.RemoveRecord(20)
	if m.OccupiedBytes != 0 {
		t.Fatalf("unexpected occupied bytes after remove: %d", m.OccupiedBytes)
	}
	if occupied, ok := m.Prefixes.Has(3); !ok || !occupied {
		t.Fatal("prefix should remain marked occupied after a single record removal")
	}
}

func TestAddPrefixCollision(t *testing.T) {
	m := New(4)
	m.InsertRecord(5, 1)

	m.AddPrefixCollision(5)

	if occupied, ok := m.Prefixes.Has(5); !ok || occupied {
		t.Fatal("expected prefix 5 to be cleared from the occupied-prefixes tree")
	}
	if occupied, ok := m.CollidedPrefixes.Has(5); !ok || !occupied {
		t.Fatal("expected prefix 5 to be set in the collided-prefixes tree")
	}
}
