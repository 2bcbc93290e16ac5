package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// TestFrameRoundTrip tests length prefixed framing
func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	for _, p := range [][]byte{{}, []byte("scene"), bytes.Repeat([]byte{7}, 70000)} {
		if err := WriteFrame(&buf, p); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	if got := buf.Bytes()[:4]; !bytes.Equal(got, []byte{0, 0, 0, 0}) {
		t.Errorf("Expected empty frame header, got %v", got)
	}

	for _, want := range []int{0, 5, 70000} {
		p, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if len(p) != want {
			t.Errorf("Expected %d bytes, got %d", want, len(p))
		}
	}

	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

// TestFrameLimits tests oversized and truncated frames
func TestFrameLimits(t *testing.T) {
	header := []byte{0xff, 0xff, 0xff, 0xff}
	if _, err := ReadFrame(bytes.NewReader(header)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}

	truncated := []byte{4, 0, 0, 0, 1, 2}
	if _, err := ReadFrame(bytes.NewReader(truncated)); err != io.ErrUnexpectedEOF {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}
