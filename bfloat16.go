package warptile

import (
	"math"
)

// bfloat16 (1 sign, 8 exponent, 7 mantissa bits) conversions. Unlike fp16,
// bfloat16 keeps the float32 exponent range, so conversion is a rounded
// truncation of the top 16 bits.

// bfloat16FromFloat32 converts with round-to-nearest-even.
func bfloat16FromFloat32(f float32) uint16 {
	bits := math.Float32bits(f)
	low := bits & 0xFFFF
	if low > 0x8000 || (low == 0x8000 && (bits>>16)&1 == 1) {
		bits += 0x10000
	}
	return uint16(bits >> 16)
}

// bfloat16ToFloat32 widens by shifting back into float32 position.
func bfloat16ToFloat32(b uint16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}
