package field

import (
	"bytes"
	"testing"
)

func TestAppendRecordConstant(t *testing.T) {
	cases := []struct {
		name          string
		fieldBodySize int
		expected      []byte
	}{
		{"tight", 3, []byte("\x01key\x02val\x02ue\x00")},
		{"exact", 8, []byte("\x01keyvalue")},
		{"padded", 10, []byte("\x01keyvalue\x00\x00")},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			AppendRecord(&buf, []byte("key"), []byte("value"), c.fieldBodySize, true)
			if !bytes.Equal(buf.Bytes(), c.expected) {
				t.Fatalf("got %q, want %q", buf.Bytes(), c.expected)
			}
		})
	}
}

func TestAppendRecordVariable(t *testing.T) {
	cases := []struct {
		name          string
		fieldBodySize int
		expected      []byte
	}{
		{"tight", 3, []byte("\x01key\x02\x05\x00\x00\x02\x00va\x02lue")},
		{"exact", 12, []byte("\x01key\x05\x00\x00\x00value")},
		{"padded", 14, []byte("\x01key\x05\x00\x00\x00value\x00\x00")},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			AppendRecord(&buf, []byte("key"), []byte("value"), c.fieldBodySize, false)
			if !bytes.Equal(buf.Bytes(), c.expected) {
				t.Fatalf("got %q, want %q", buf.Bytes(), c.expected)
			}
		})
	}
}
