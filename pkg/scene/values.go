package scene

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/QYUbit/scenesync/pkg/bitstream"
)

type Float3 struct {
	X, Y, Z float32
}

type Quat struct {
	X, Y, Z, W float32
}

// clampString cuts s to MaxStringLength on a rune boundary. Set rejects
// such values, so only defaults can reach it.
func clampString(s string) string {
	if len(s) <= MaxStringLength {
		return s
	}
	n := MaxStringLength
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func lerp32(a, b, t float32) float32 {
	return a + (b-a)*t
}

func builtinAttributeTypes() []*AttributeType {
	return []*AttributeType{
		{
			Name:   "bool",
			Zero:   func() any { return false },
			Encode: func(w *bitstream.Writer, v any) { w.WriteBool(v.(bool)) },
			Decode: func(r *bitstream.Reader) (any, error) { return r.ReadBool() },
		},
		{
			Name:   "int",
			Zero:   func() any { return int32(0) },
			Encode: func(w *bitstream.Writer, v any) { w.WriteS32(v.(int32)) },
			Decode: func(r *bitstream.Reader) (any, error) { return r.ReadS32() },
		},
		{
			Name:   "uint",
			Zero:   func() any { return uint32(0) },
			Encode: func(w *bitstream.Writer, v any) { w.WriteU32(v.(uint32)) },
			Decode: func(r *bitstream.Reader) (any, error) { return r.ReadU32() },
		},
		{
			Name:   "real",
			Zero:   func() any { return float32(0) },
			Encode: func(w *bitstream.Writer, v any) { w.WriteF32(v.(float32)) },
			Decode: func(r *bitstream.Reader) (any, error) { return r.ReadF32() },
			Lerp: func(from, to any, t float32) any {
				return lerp32(from.(float32), to.(float32), t)
			},
		},
		{
			Name: "string",
			Zero: func() any { return "" },
			Encode: func(w *bitstream.Writer, v any) {
				_ = w.WriteString16(clampString(v.(string)))
			},
			Decode: func(r *bitstream.Reader) (any, error) { return r.ReadString16() },
			Validate: func(v any) error {
				if n := len(v.(string)); n > MaxStringLength {
					return fmt.Errorf("%w: %d string bytes", ErrValueTooLarge, n)
				}
				return nil
			},
		},
		{
			Name: "float3",
			Zero: func() any { return Float3{} },
			Encode: func(w *bitstream.Writer, v any) {
				f := v.(Float3)
				w.WriteF32(f.X)
				w.WriteF32(f.Y)
				w.WriteF32(f.Z)
			},
			Decode: func(r *bitstream.Reader) (any, error) {
				var f Float3
				var err error
				if f.X, err = r.ReadF32(); err != nil {
					return nil, err
				}
				if f.Y, err = r.ReadF32(); err != nil {
					return nil, err
				}
				if f.Z, err = r.ReadF32(); err != nil {
					return nil, err
				}
				return f, nil
			},
			Lerp: func(from, to any, t float32) any {
				a, b := from.(Float3), to.(Float3)
				return Float3{lerp32(a.X, b.X, t), lerp32(a.Y, b.Y, t), lerp32(a.Z, b.Z, t)}
			},
		},
		{
			Name: "quat",
			Zero: func() any { return Quat{W: 1} },
			Encode: func(w *bitstream.Writer, v any) {
				q := v.(Quat)
				w.WriteF32(q.X)
				w.WriteF32(q.Y)
				w.WriteF32(q.Z)
				w.WriteF32(q.W)
			},
			Decode: func(r *bitstream.Reader) (any, error) {
				var q Quat
				var err error
				if q.X, err = r.ReadF32(); err != nil {
					return nil, err
				}
				if q.Y, err = r.ReadF32(); err != nil {
					return nil, err
				}
				if q.Z, err = r.ReadF32(); err != nil {
					return nil, err
				}
				if q.W, err = r.ReadF32(); err != nil {
					return nil, err
				}
				return q, nil
			},
			Lerp: func(from, to any, t float32) any {
				return nlerp(from.(Quat), to.(Quat), t)
			},
		},
	}
}

// nlerp interpolates along the shorter arc and renormalizes.
func nlerp(a, b Quat, t float32) Quat {
	if a.X*b.X+a.Y*b.Y+a.Z*b.Z+a.W*b.W < 0 {
		b = Quat{-b.X, -b.Y, -b.Z, -b.W}
	}
	q := Quat{lerp32(a.X, b.X, t), lerp32(a.Y, b.Y, t), lerp32(a.Z, b.Z, t), lerp32(a.W, b.W, t)}
	n := float32(math.Sqrt(float64(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)))
	if n == 0 {
		return Quat{W: 1}
	}
	return Quat{q.X / n, q.Y / n, q.Z / n, q.W / n}
}
