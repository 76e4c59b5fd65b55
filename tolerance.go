// Package warptile tolerance-based verification for floating-point comparisons
package warptile

import (
	"fmt"
	"math"
)

// Tolerance defines the comparison envelope for verifying kernel output
// against a reference computation.
type Tolerance struct {
	// Abs is the absolute tolerance for values near zero.
	Abs float32

	// Rel is the relative tolerance as a fraction of the larger value.
	Rel float32

	// ULP is the maximum allowed difference in units in the last place.
	ULP int
}

// DefaultTolerance suits float32 accumulation with shallow reductions.
func DefaultTolerance() Tolerance {
	return Tolerance{Abs: 1e-5, Rel: 1e-4, ULP: 8}
}

// StrictTolerance suits comparisons that should be bit-for-bit up to
// association order.
func StrictTolerance() Tolerance {
	return Tolerance{Abs: 1e-7, Rel: 1e-6, ULP: 2}
}

// ReducedPrecisionTolerance suits fp16/bf16 output paths where rounding on
// store dominates the error.
func ReducedPrecisionTolerance() Tolerance {
	return Tolerance{Abs: 1e-2, Rel: 1e-2, ULP: 64}
}

// NearEqual reports whether a and b agree within the tolerance.
func (tol Tolerance) NearEqual(a, b float32) bool {
	if math.IsNaN(float64(a)) && math.IsNaN(float64(b)) {
		return true
	}
	if math.IsInf(float64(a), 0) || math.IsInf(float64(b), 0) {
		return a == b
	}
	if a == b {
		return true
	}

	diff := math.Abs(float64(a - b))
	if diff <= float64(tol.Abs) {
		return true
	}
	larger := math.Max(math.Abs(float64(a)), math.Abs(float64(b)))
	if diff <= larger*float64(tol.Rel) {
		return true
	}
	return tol.ULP > 0 && ULPDiff(a, b) <= tol.ULP
}

// ULPDiff computes the distance between two float32 values in units in the
// last place. Values of different sign are reported as maximally distant.
func ULPDiff(a, b float32) int {
	aBits := math.Float32bits(a)
	bBits := math.Float32bits(b)
	if (aBits^bBits)&0x80000000 != 0 {
		return math.MaxInt32
	}
	if aBits > bBits {
		aBits, bBits = bBits, aBits
	}
	d := bBits - aBits
	if d > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(d)
}

// Mismatch describes the first failing element of a comparison.
type Mismatch struct {
	Index     int
	Got, Want float32
}

func (m Mismatch) String() string {
	return fmt.Sprintf("index %d: got %g, want %g (diff=%e)",
		m.Index, m.Got, m.Want, math.Abs(float64(m.Got-m.Want)))
}

// Verify compares got against want elementwise. It returns the total number
// of mismatching elements and details of the first one.
func (tol Tolerance) Verify(got, want []float32) (mismatches int, first *Mismatch) {
	n := min(len(got), len(want))
	for i := 0; i < n; i++ {
		if !tol.NearEqual(got[i], want[i]) {
			if first == nil {
				first = &Mismatch{Index: i, Got: got[i], Want: want[i]}
			}
			mismatches++
		}
	}
	return mismatches, first
}
