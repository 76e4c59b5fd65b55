package warptile

import (
	"github.com/x448/float16"
)

// DType identifies the storage element type of an output or auxiliary
// tensor. Accumulation is always performed in float32; DType governs the
// final rounding on store and widening on load.
type DType int

const (
	Float32 DType = iota
	Float16
	BFloat16
)

// Size returns the storage size of one element in bytes.
func (dt DType) Size() int {
	switch dt {
	case Float32:
		return 4
	default:
		return 2
	}
}

func (dt DType) String() string {
	switch dt {
	case Float32:
		return "f32"
	case Float16:
		return "f16"
	case BFloat16:
		return "bf16"
	default:
		return "unknown"
	}
}

// Store rounds v to dt and writes it at element index idx of the buffer.
func (dt DType) Store(d DevicePtr, idx int, v float32) {
	switch dt {
	case Float32:
		d.Float32()[idx] = v
	case Float16:
		d.Uint16()[idx] = float16.Fromfloat32(v).Bits()
	case BFloat16:
		d.Uint16()[idx] = bfloat16FromFloat32(v)
	}
}

// Load widens the element at index idx back to float32.
func (dt DType) Load(d DevicePtr, idx int) float32 {
	switch dt {
	case Float32:
		return d.Float32()[idx]
	case Float16:
		return float16.Frombits(d.Uint16()[idx]).Float32()
	case BFloat16:
		return bfloat16ToFloat32(d.Uint16()[idx])
	default:
		return 0
	}
}

// RoundTrip returns v as it will read back after a store/load through dt.
// Verification paths use it to build bit-exact expectations for reduced
// precision outputs.
func (dt DType) RoundTrip(v float32) float32 {
	switch dt {
	case Float16:
		return float16.Fromfloat32(v).Float32()
	case BFloat16:
		return bfloat16ToFloat32(bfloat16FromFloat32(v))
	default:
		return v
	}
}
