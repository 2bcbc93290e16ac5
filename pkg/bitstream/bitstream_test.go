package bitstream

import (
	"errors"
	"strings"
	"testing"
)

// TestAlignedValues tests that aligned writes produce little-endian bytes
func TestAlignedValues(t *testing.T) {
	w := NewWriter()
	w.WriteU8(0x01)
	w.WriteU16(0x0302)
	w.WriteU32(0x07060504)

	want := []byte{1, 2, 3, 4, 5, 6, 7}
	got := w.Bytes()
	if string(got) != string(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
}

// TestUnalignedRoundTrip tests values written after single bits
func TestUnalignedRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteBit(false)
	w.WriteBit(true)
	w.WriteF32(2.5)
	w.WriteBit(true)
	if err := w.WriteString8("pos"); err != nil {
		t.Fatal(err)
	}
	w.WriteS32(-42)

	if w.BitLen() != 1+1+32+1+8+24+32 {
		t.Errorf("Unexpected bit length %d", w.BitLen())
	}

	r := NewReader(w.Bytes())
	if b, _ := r.ReadBit(); b {
		t.Error("Expected first bit to be 0")
	}
	if b, _ := r.ReadBit(); !b {
		t.Error("Expected second bit to be 1")
	}
	if f, err := r.ReadF32(); err != nil || f != 2.5 {
		t.Errorf("Expected 2.5, got %v (%v)", f, err)
	}
	if b, _ := r.ReadBit(); !b {
		t.Error("Expected third bit to be 1")
	}
	if s, err := r.ReadString8(); err != nil || s != "pos" {
		t.Errorf("Expected pos, got %q (%v)", s, err)
	}
	if v, err := r.ReadS32(); err != nil || v != -42 {
		t.Errorf("Expected -42, got %d (%v)", v, err)
	}
}

// TestReadPastEnd tests that truncated data reports ErrUnexpectedEOF
func TestReadPastEnd(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if _, err := r.ReadU32(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("Expected ErrUnexpectedEOF, got %v", err)
	}
	if r.Remaining() != 0 {
		t.Error("Expected reader to be exhausted after a failed read")
	}

	r = NewReader([]byte{5, 'a'})
	if _, err := r.ReadString8(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("Expected ErrUnexpectedEOF for short string, got %v", err)
	}
}

// TestLengthLimits tests the u8 and u16 length prefixes
func TestLengthLimits(t *testing.T) {
	w := NewWriter()
	if err := w.WriteString8(strings.Repeat("x", 256)); !errors.Is(err, ErrTooLong) {
		t.Errorf("Expected ErrTooLong, got %v", err)
	}
	if err := w.WriteString8(strings.Repeat("x", 255)); err != nil {
		t.Errorf("Expected 255 bytes to fit, got %v", err)
	}
	if err := w.WriteBytes16(make([]byte, 65536)); !errors.Is(err, ErrTooLong) {
		t.Errorf("Expected ErrTooLong, got %v", err)
	}
}

// TestBytes16RoundTrip tests length prefixed byte slices
func TestBytes16RoundTrip(t *testing.T) {
	w := NewWriter()
	if err := w.WriteBytes16([]byte{9, 8, 7}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBytes16(nil); err != nil {
		t.Fatal(err)
	}

	r := NewReader(w.Bytes())
	p, err := r.ReadBytes16()
	if err != nil || len(p) != 3 || p[0] != 9 || p[2] != 7 {
		t.Fatalf("Unexpected payload %v (%v)", p, err)
	}
	p, err = r.ReadBytes16()
	if err != nil || len(p) != 0 {
		t.Fatalf("Expected empty payload, got %v (%v)", p, err)
	}
	if r.Remaining() != 0 {
		t.Errorf("Expected no remaining bits, got %d", r.Remaining())
	}
}
