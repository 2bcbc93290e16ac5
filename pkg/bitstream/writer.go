// Package bitstream implements the bit-addressed little-endian encoding used
// for attribute values and wire messages. Values written while the stream is
// byte aligned are plain little-endian bytes; a single bit shifts every
// following value by that offset.
package bitstream

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnexpectedEOF = errors.New("bitstream: unexpected end of data")
	ErrTooLong       = errors.New("bitstream: value exceeds length prefix")
)

// Writer appends bits to a growing buffer.
type Writer struct {
	buf    []byte
	bitPos uint64
}

func NewWriter() *Writer {
	return &Writer{}
}

// NewWriterSize returns a writer with capacity preallocated for n bytes.
func NewWriterSize(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n)}
}

// Reset empties the writer and keeps its buffer.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.bitPos = 0
}

// Bytes returns the written data. The last byte is zero padded when the
// stream does not end on a byte boundary.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes filled, counting a partial byte.
func (w *Writer) Len() int {
	return len(w.buf)
}

// BitLen returns the number of bits written.
func (w *Writer) BitLen() uint64 {
	return w.bitPos
}

func (w *Writer) aligned() bool {
	return w.bitPos%8 == 0
}

// WriteBits writes the n low bits of v, least significant bit first.
func (w *Writer) WriteBits(v uint64, n uint) {
	if w.aligned() && n%8 == 0 {
		for i := uint(0); i < n; i += 8 {
			w.buf = append(w.buf, byte(v>>i))
		}
		w.bitPos += uint64(n)
		return
	}

	for i := uint(0); i < n; i++ {
		idx := w.bitPos / 8
		if idx == uint64(len(w.buf)) {
			w.buf = append(w.buf, 0)
		}
		if (v>>i)&1 == 1 {
			w.buf[idx] |= 1 << (w.bitPos % 8)
		}
		w.bitPos++
	}
}

func (w *Writer) WriteBit(b bool) {
	if b {
		w.WriteBits(1, 1)
	} else {
		w.WriteBits(0, 1)
	}
}

func (w *Writer) WriteU8(v uint8) {
	w.WriteBits(uint64(v), 8)
}

func (w *Writer) WriteU16(v uint16) {
	w.WriteBits(uint64(v), 16)
}

func (w *Writer) WriteU32(v uint32) {
	w.WriteBits(uint64(v), 32)
}

func (w *Writer) WriteU64(v uint64) {
	w.WriteBits(v, 64)
}

func (w *Writer) WriteS32(v int32) {
	w.WriteBits(uint64(uint32(v)), 32)
}

func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}

// WriteBool writes a whole byte, unlike WriteBit.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

// WriteRaw writes p without a length prefix.
func (w *Writer) WriteRaw(p []byte) {
	if w.aligned() {
		w.buf = append(w.buf, p...)
		w.bitPos += uint64(len(p)) * 8
		return
	}
	for _, b := range p {
		w.WriteU8(b)
	}
}

// WriteString8 writes s with a u8 length prefix.
func (w *Writer) WriteString8(s string) error {
	if len(s) > math.MaxUint8 {
		return fmt.Errorf("%w: %d bytes, max %d", ErrTooLong, len(s), math.MaxUint8)
	}
	w.WriteU8(uint8(len(s)))
	w.WriteRaw([]byte(s))
	return nil
}

// WriteString16 writes s with a u16 length prefix.
func (w *Writer) WriteString16(s string) error {
	return w.WriteBytes16([]byte(s))
}

// WriteBytes16 writes p with a u16 length prefix.
func (w *Writer) WriteBytes16(p []byte) error {
	if len(p) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes, max %d", ErrTooLong, len(p), math.MaxUint16)
	}
	w.WriteU16(uint16(len(p)))
	w.WriteRaw(p)
	return nil
}
