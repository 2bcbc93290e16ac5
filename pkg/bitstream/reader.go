package bitstream

import "math"

// Reader consumes bits from a byte slice written by Writer.
type Reader struct {
	data   []byte
	bitPos uint64
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bits.
func (r *Reader) Remaining() uint64 {
	total := uint64(len(r.data)) * 8
	if r.bitPos >= total {
		return 0
	}
	return total - r.bitPos
}

// BytesLeft returns the number of whole unread bytes.
func (r *Reader) BytesLeft() int {
	return int(r.Remaining() / 8)
}

// ReadBits reads n bits written by Writer.WriteBits.
func (r *Reader) ReadBits(n uint) (uint64, error) {
	if n > 64 {
		n = 64
	}
	if r.Remaining() < uint64(n) {
		r.bitPos = uint64(len(r.data)) * 8
		return 0, ErrUnexpectedEOF
	}

	var v uint64
	if r.bitPos%8 == 0 && n%8 == 0 {
		start := r.bitPos / 8
		for i := uint(0); i < n/8; i++ {
			v |= uint64(r.data[start+uint64(i)]) << (8 * i)
		}
		r.bitPos += uint64(n)
		return v, nil
	}

	for i := uint(0); i < n; i++ {
		b := (r.data[r.bitPos/8] >> (r.bitPos % 8)) & 1
		v |= uint64(b) << i
		r.bitPos++
	}
	return v, nil
}

func (r *Reader) ReadBit() (bool, error) {
	v, err := r.ReadBits(1)
	return v == 1, err
}

func (r *Reader) ReadU8() (uint8, error) {
	v, err := r.ReadBits(8)
	return uint8(v), err
}

func (r *Reader) ReadU16() (uint16, error) {
	v, err := r.ReadBits(16)
	return uint16(v), err
}

func (r *Reader) ReadU32() (uint32, error) {
	v, err := r.ReadBits(32)
	return uint32(v), err
}

func (r *Reader) ReadU64() (uint64, error) {
	return r.ReadBits(64)
}

func (r *Reader) ReadS32() (int32, error) {
	v, err := r.ReadBits(32)
	return int32(uint32(v)), err
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	return v != 0, err
}

// ReadRaw reads exactly n bytes.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if r.Remaining() < uint64(n)*8 {
		r.bitPos = uint64(len(r.data)) * 8
		return nil, ErrUnexpectedEOF
	}
	out := make([]byte, n)
	if r.bitPos%8 == 0 {
		start := r.bitPos / 8
		copy(out, r.data[start:start+uint64(n)])
		r.bitPos += uint64(n) * 8
		return out, nil
	}
	for i := range out {
		b, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (r *Reader) ReadString8() (string, error) {
	n, err := r.ReadU8()
	if err != nil {
		return "", err
	}
	p, err := r.ReadRaw(int(n))
	return string(p), err
}

func (r *Reader) ReadString16() (string, error) {
	p, err := r.ReadBytes16()
	return string(p), err
}

func (r *Reader) ReadBytes16() ([]byte, error) {
	n, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	return r.ReadRaw(int(n))
}
