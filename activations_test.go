package warptile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReLUFloat32(t *testing.T) {
	require.Equal(t, float32(0), ReLUFloat32(-2.5))
	require.Equal(t, float32(0), ReLUFloat32(0))
	require.Equal(t, float32(3.25), ReLUFloat32(3.25))
}

func TestSigmoidFloat32(t *testing.T) {
	require.Equal(t, float32(0.5), SigmoidFloat32(0))
	require.InDelta(t, 1.0, SigmoidFloat32(20), 1e-6)
	require.InDelta(t, 0.0, SigmoidFloat32(-20), 1e-6)
}

func TestTanhFloat32(t *testing.T) {
	require.Equal(t, float32(0), TanhFloat32(0))
	require.InDelta(t, math.Tanh(0.5), float64(TanhFloat32(0.5)), 1e-6)
}

func TestGELUFloat32(t *testing.T) {
	require.Equal(t, float32(0), GELUFloat32(0))
	// GELU approaches identity for large positive inputs and zero for
	// large negative ones.
	require.InDelta(t, 5.0, float64(GELUFloat32(5)), 1e-4)
	require.InDelta(t, 0.0, float64(GELUFloat32(-5)), 1e-4)
	require.InDelta(t, 0.841345, float64(GELUFloat32(1)), 1e-4)
}

func TestSiLUFloat32(t *testing.T) {
	require.Equal(t, float32(0), SiLUFloat32(0))
	require.InDelta(t, 0.731059, float64(SiLUFloat32(1)), 1e-4)
}

func TestClampFloat32(t *testing.T) {
	require.Equal(t, float32(-1), ClampFloat32(-5, -1, 1))
	require.Equal(t, float32(1), ClampFloat32(5, -1, 1))
	require.Equal(t, float32(0.5), ClampFloat32(0.5, -1, 1))
}
