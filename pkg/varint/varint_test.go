package varint

import "testing"

func TestZigZagRoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, 2, -2, 1 << 20, -(1 << 20), 1<<31 - 1, -(1 << 31)}
	for _, n := range cases {
		u := ZigZag32(n)
		if got := UnZigZag32(u); got != n {
			t.Fatalf("round trip failed for %d: got %d (via %d)", n, got, u)
		}
	}
}

func TestZigZagSmallMagnitudesStaySmall(t *testing.T) {
	if ZigZag32(0) != 0 {
		t.Fatalf("expected 0 to map to 0, got %d", ZigZag32(0))
	}
	if ZigZag32(-1) != 1 {
		t.Fatalf("expected -1 to map to 1, got %d", ZigZag32(-1))
	}
	if ZigZag32(1) != 2 {
		t.Fatalf("expected 1 to map to 2, got %d", ZigZag32(1))
	}
}

func TestUvarintRoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 127, 128, 300, 1 << 20, 0xffffffff}
	for _, v := range cases {
		buf := AppendUvarint32(nil, v)
		got, n, err := Uvarint32(buf)
		if err != nil {
			t.Fatalf("decode %d: unexpected error: %v", v, err)
		}
		if n != len(buf) {
			t.Fatalf("decode %d: expected to consume %d bytes, consumed %d", v, len(buf), n)
		}
		if got != v {
			t.Fatalf("round trip failed for %d: got %d", v, got)
		}
	}
}

func TestUvarintBufferUnderrun(t *testing.T) {
	buf := AppendUvarint32(nil, 1<<20)
	if _, _, err := Uvarint32(buf[:len(buf)-1]); err != ErrBufferUnderrun {
		t.Fatalf("expected ErrBufferUnderrun, got %v", err)
	}
}

func TestUvarintOverflow(t *testing.T) {
	// Five continuation bytes (high bit set) with no terminator exceeds the
	// 32-bit payload this codec accepts.
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80}
	if _, _, err := Uvarint32(buf); err != ErrIntegerOverflow {
		t.Fatalf("expected ErrIntegerOverflow, got %v", err)
	}
}
