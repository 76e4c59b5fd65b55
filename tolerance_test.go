package warptile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNearEqual(t *testing.T) {
	tol := Tolerance{Abs: 1e-5, Rel: 1e-4, ULP: 4}
	tests := []struct {
		name string
		a, b float32
		want bool
	}{
		{"exact", 1.5, 1.5, true},
		{"within abs", 1e-6, 2e-6, true},
		{"within rel", 1000, 1000.05, true},
		{"outside rel", 1000, 1001, false},
		{"both NaN", float32(math.NaN()), float32(math.NaN()), true},
		{"NaN vs value", float32(math.NaN()), 1, false},
		{"inf matches inf", float32(math.Inf(1)), float32(math.Inf(1)), true},
		{"inf vs value", float32(math.Inf(1)), 1, false},
		{"adjacent ulps", 1, math.Nextafter32(1, 2), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tol.NearEqual(tt.a, tt.b))
		})
	}
}

func TestULPDiff(t *testing.T) {
	require.Equal(t, 0, ULPDiff(1, 1))
	require.Equal(t, 1, ULPDiff(1, math.Nextafter32(1, 2)))
	require.Equal(t, math.MaxInt32, ULPDiff(-1, 1))
}

func TestVerifyCountsMismatches(t *testing.T) {
	tol := StrictTolerance()
	got := []float32{1, 2, 3, 4}
	want := []float32{1, 2.5, 3, 5}

	n, first := tol.Verify(got, want)
	require.Equal(t, 2, n)
	require.NotNil(t, first)
	require.Equal(t, 1, first.Index)
	require.Equal(t, float32(2), first.Got)
	require.Equal(t, float32(2.5), first.Want)
}

func TestVerifyClean(t *testing.T) {
	tol := DefaultTolerance()
	vals := []float32{0, -1.25, 3e7}
	n, first := tol.Verify(vals, vals)
	require.Zero(t, n)
	require.Nil(t, first)
}
