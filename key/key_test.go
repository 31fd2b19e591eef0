package key

import "testing"

func TestReadPrefix(t *testing.T) {
	k := []byte{0xff, 0xfe, 0xdc, 0xba}

	cases := []struct {
		bits uint
		want uint32
	}{
		{0, 0x0},
		{1, 0x1},
		{2, 0x3},
		{4, 0xf},
		{8, 0xff},
		{16, 0xfffe},
		{20, 0xfffed},
		{24, 0xfffedc},
		{26, 0x3fffb72},
		{32, 0xfffedcba},
	}

	for _, c := range cases {
		got := New(k, c.bits).Prefix
		if got != c.want {
			t.Fatalf("prefix_bits=%d: got %#x, want %#x", c.bits, got, c.want)
		}
	}
}
