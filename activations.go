package warptile

import "math"

// Elementwise activation functions used by epilogue compute nodes. These run
// once per output element, so they stay simple scalar float32 code; the
// fusion tree applies them fragment-wise.

// ReLUFloat32 computes max(x, 0).
func ReLUFloat32(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// SigmoidFloat32 computes sigmoid(x) = 1 / (1 + exp(-x)), arranged to avoid
// overflow for negative inputs.
func SigmoidFloat32(x float32) float32 {
	if x >= 0 {
		return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
	}
	e := float32(math.Exp(float64(x)))
	return e / (1.0 + e)
}

// TanhFloat32 computes tanh(x).
func TanhFloat32(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// GELUFloat32 computes the exact GELU: x * Phi(x) with Phi the standard
// normal CDF, via erf.
func GELUFloat32(x float32) float32 {
	return x * 0.5 * float32(1.0+math.Erf(float64(x)*math.Sqrt2/2))
}

// SiLUFloat32 computes x * sigmoid(x).
func SiLUFloat32(x float32) float32 {
	return x * SigmoidFloat32(x)
}

// ClampFloat32 clamps x into [lo, hi].
func ClampFloat32(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
