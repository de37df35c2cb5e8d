package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

var ErrUnsupportedConversion = errors.New("tensor: unsupported conversion")

// CopySame copies n bytes between two buffers of the same encoding.
func CopySame(dst, src []byte, n int) error {
	if len(src) < n || len(dst) < n {
		return fmt.Errorf("%w: need %d bytes, src %d dst %d", ErrShortBuffer, n, len(src), len(dst))
	}
	copy(dst[:n], src[:n])
	return nil
}

// Convert converts count elements from src (encoded as from) into dst
// (encoded as to). Narrowing rounds to nearest even. Only float32 to and
// from the reduced-precision float formats is supported besides identity.
func Convert(dst, src []byte, count int, from, to Encoding) error {
	if from == to {
		return CopySame(dst, src, count*from.Width())
	}
	if len(src) < count*from.Width() || len(dst) < count*to.Width() {
		return fmt.Errorf("%w: %d elements %s->%s, src %d dst %d",
			ErrShortBuffer, count, from, to, len(src), len(dst))
	}

	switch {
	case from == Float32 && to == Float16:
		for i := range count {
			f := math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
			binary.LittleEndian.PutUint16(dst[i*2:], float16.Fromfloat32(f).Bits())
		}
	case from == Float16 && to == Float32:
		for i := range count {
			h := float16.Frombits(binary.LittleEndian.Uint16(src[i*2:]))
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(h.Float32()))
		}
	case from == Float32 && to == BFloat16:
		for i := range count {
			u := binary.LittleEndian.Uint32(src[i*4:])
			binary.LittleEndian.PutUint16(dst[i*2:], bf16FromF32Bits(u))
		}
	case from == BFloat16 && to == Float32:
		for i := range count {
			u := binary.LittleEndian.Uint16(src[i*2:])
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(u)<<16)
		}
	default:
		return fmt.Errorf("%w: %s -> %s", ErrUnsupportedConversion, from, to)
	}
	return nil
}

func bf16FromF32Bits(u uint32) uint16 {
	if u&0x7FFFFFFF > 0x7F800000 {
		// Keep NaN quiet; rounding could carry it into Inf.
		return uint16(u>>16) | 0x0040
	}
	// Round-to-nearest-even on the truncated 16 bits.
	rnd := uint32(0x7FFF + ((u >> 16) & 1))
	return uint16((u + rnd) >> 16)
}

// Float32s decodes a float32 buffer into a new slice.
func Float32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// PutFloat32s encodes v into b, which must hold len(v)*4 bytes.
func PutFloat32s(b []byte, v []float32) {
	if len(v) == 0 {
		return
	}
	_ = b[len(v)*4-1]
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
}

// DecodeFloat32 decodes buf into float32 values regardless of its encoding.
// Int32 elements are converted numerically.
func DecodeFloat32(buf *Buffer) ([]float32, error) {
	n := buf.Len()
	switch buf.Spec.Encoding {
	case Int32:
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(int32(binary.LittleEndian.Uint32(buf.Data[i*4:])))
		}
		return out, nil
	case Float32:
		return Float32s(buf.Data), nil
	default:
		staging := make([]byte, n*4)
		if err := Convert(staging, buf.Data, n, buf.Spec.Encoding, Float32); err != nil {
			return nil, err
		}
		return Float32s(staging), nil
	}
}

// EncodeFloat32 stores v into buf in buf's own encoding. Int32 elements are
// rounded to the nearest integer.
func EncodeFloat32(buf *Buffer, v []float32) error {
	if len(v) != buf.Len() {
		return fmt.Errorf("%w: %s holds %d elements, got %d", ErrShortBuffer, buf.Spec.Name, buf.Len(), len(v))
	}
	if len(v) == 0 {
		return nil
	}
	switch buf.Spec.Encoding {
	case Int32:
		for i, f := range v {
			binary.LittleEndian.PutUint32(buf.Data[i*4:], uint32(int32(math.RoundToEven(float64(f)))))
		}
		return nil
	case Float32:
		PutFloat32s(buf.Data, v)
		return nil
	default:
		staging := make([]byte, len(v)*4)
		PutFloat32s(staging, v)
		return Convert(buf.Data, staging, len(v), Float32, buf.Spec.Encoding)
	}
}
