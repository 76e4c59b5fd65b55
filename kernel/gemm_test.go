package kernel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warptile/warptile"
	"github.com/warptile/warptile/fusion"
)

var ref warptile.Reference

func devAlloc(t *testing.T, bytes int) warptile.DevicePtr {
	t.Helper()
	d, err := warptile.Malloc(bytes)
	require.NoError(t, err)
	t.Cleanup(func() { warptile.Free(d) })
	return d
}

func randTensor(t *testing.T, rng *rand.Rand, elems int) warptile.DevicePtr {
	d := devAlloc(t, elems*4)
	v := d.Float32()
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return d
}

func requireClose(t *testing.T, tol warptile.Tolerance, got, want []float32) {
	t.Helper()
	mismatches, first := tol.Verify(got, want)
	if mismatches > 0 {
		t.Fatalf("%d of %d elements mismatch; first: %s", mismatches, len(want), first)
	}
}

func TestKernelMatchesReference(t *testing.T) {
	// Odd extents exercise the residue paths of both the mainloop and the
	// epilogue stores.
	m, n, k := 37, 64, 96
	rng := rand.New(rand.NewSource(1))
	a := randTensor(t, rng, m*k)
	b := randTensor(t, rng, k*n)
	d := devAlloc(t, m*n*4)

	ad, err := NewAdapter(Arguments{
		Problem: warptile.ProblemShape{M: m, N: n, K: k},
		A:       a, B: b, D: d,
	})
	require.NoError(t, err)
	require.True(t, ad.CanImplement())
	require.Zero(t, ad.WorkspaceSize())
	require.NoError(t, ad.Run())

	want := make([]float32, m*n)
	ref.GEMMInto(m, n, k, a.Float32(), k, b.Float32(), n, want, n)

	// Accumulation follows the same reduction order as the reference, but
	// the micro kernel's loop shape may contract multiply-adds differently.
	requireClose(t, warptile.StrictTolerance(), d.Float32(), want)
}

func TestKernelLinCombBiasActivation(t *testing.T) {
	m, n, k := 129, 120, 64
	alpha, beta := float32(1.25), float32(0.5)
	rng := rand.New(rand.NewSource(2))
	a := randTensor(t, rng, m*k)
	b := randTensor(t, rng, k*n)
	c := randTensor(t, rng, m*n)
	bias := randTensor(t, rng, n)
	d := devAlloc(t, m*n*4)

	ad, err := NewAdapter(Arguments{
		Problem: warptile.ProblemShape{M: m, N: n, K: k},
		A:       a, B: b, C: c, D: d,
		Fusion: fusion.LinCombPerColBiasEltAct(fusion.ReLU, alpha, beta, bias, warptile.Float32),
	})
	require.NoError(t, err)
	require.NoError(t, ad.Run())

	want := make([]float32, m*n)
	ref.GEMMBiasAct(m, n, k, alpha, a.Float32(), k, b.Float32(), n,
		beta, c.Float32(), n, bias.Float32(), warptile.ReLUFloat32, want, n)

	requireClose(t, warptile.DefaultTolerance(), d.Float32(), want)
}

func TestKernelGroupedProblems(t *testing.T) {
	shapes := []warptile.ProblemShape{
		{M: 96, N: 128, K: 64},
		{M: 64, N: 64, K: 96},
		{M: 40, N: 72, K: 128},
	}
	alphas := []float32{1, 0.5, 2}
	betas := []float32{0, 1, -0.5}

	rng := rand.New(rand.NewSource(3))
	groups := make([]GroupProblem, len(shapes))
	cs := make([]warptile.DevicePtr, len(shapes))
	for i, ps := range shapes {
		groups[i] = GroupProblem{
			Problem: ps,
			A:       randTensor(t, rng, ps.M*ps.K),
			B:       randTensor(t, rng, ps.K*ps.N),
			D:       devAlloc(t, ps.M*ps.N*4),
		}
		if betas[i] != 0 {
			cs[i] = randTensor(t, rng, ps.M*ps.N)
			groups[i].C = cs[i]
		}
	}

	ad, err := NewAdapter(Arguments{
		Grouped: groups,
		Fusion:  fusion.LinearCombinationPerGroup(alphas, betas),
	})
	require.NoError(t, err)
	require.NoError(t, ad.Run())

	for i, ps := range shapes {
		want := make([]float32, ps.M*ps.N)
		if betas[i] != 0 {
			copy(want, cs[i].Float32())
		}
		ref.GEMM(ps.M, ps.N, ps.K, alphas[i],
			groups[i].A.Float32(), ps.K,
			groups[i].B.Float32(), ps.N,
			betas[i], want, ps.N)

		requireClose(t, warptile.DefaultTolerance(), groups[i].D.Float32(), want)
	}
}

func TestKernelGroupedRejectsBatchedGroups(t *testing.T) {
	_, err := NewAdapter(Arguments{
		Grouped: []GroupProblem{
			{Problem: warptile.ProblemShape{M: 64, N: 64, K: 64, L: 2}},
		},
	})
	require.Error(t, err)
}

func TestKernelBatched(t *testing.T) {
	m, n, k, l := 48, 80, 64, 3
	rng := rand.New(rand.NewSource(4))
	a := randTensor(t, rng, m*k*l)
	b := randTensor(t, rng, k*n*l)
	d := devAlloc(t, m*n*l*4)

	ad, err := NewAdapter(Arguments{
		Problem: warptile.ProblemShape{M: m, N: n, K: k, L: l},
		A:       a, B: b, D: d,
	})
	require.NoError(t, err)
	require.NoError(t, ad.Run())

	for batch := 0; batch < l; batch++ {
		want := make([]float32, m*n)
		ref.GEMMInto(m, n, k,
			a.Float32()[batch*m*k:], k,
			b.Float32()[batch*k*n:], n, want, n)
		got := d.Float32()[batch*m*n : (batch+1)*m*n]
		requireClose(t, warptile.StrictTolerance(), got, want)
	}
}

func TestKernelSplitK(t *testing.T) {
	m, n := 64, 64
	for _, tc := range []struct {
		name   string
		k      int
		splitK int
	}{
		{"even slices", 512, 4},
		{"uneven slices", 160, 4},
		{"more slices than reduction tiles", 64, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(5))
			a := randTensor(t, rng, m*tc.k)
			b := randTensor(t, rng, tc.k*n)
			d := devAlloc(t, m*n*4)

			ad, err := NewAdapter(Arguments{
				Problem: warptile.ProblemShape{M: m, N: n, K: tc.k},
				A:       a, B: b, D: d,
				SplitK: tc.splitK,
			})
			require.NoError(t, err)
			require.Positive(t, ad.WorkspaceSize())

			ws := devAlloc(t, ad.WorkspaceSize())
			require.NoError(t, ad.Initialize(ws))
			require.NoError(t, ad.Run())

			want := make([]float32, m*n)
			ref.GEMMInto(m, n, tc.k, a.Float32(), tc.k, b.Float32(), n, want, n)

			// Slices change the reduction association, so the strict
			// envelope does not apply.
			requireClose(t, warptile.DefaultTolerance(), d.Float32(), want)
		})
	}
}

func TestKernelSplitKWorkspaceLifecycle(t *testing.T) {
	m, n, k := 64, 64, 128
	rng := rand.New(rand.NewSource(6))
	a := randTensor(t, rng, m*k)
	b := randTensor(t, rng, k*n)
	d := devAlloc(t, m*n*4)

	ad, err := NewAdapter(Arguments{
		Problem: warptile.ProblemShape{M: m, N: n, K: k},
		A:       a, B: b, D: d,
		SplitK: 2,
	})
	require.NoError(t, err)

	// A workspace-requiring launch refuses to run uninitialized.
	require.Error(t, ad.Run())

	// An undersized workspace is rejected up front.
	small := devAlloc(t, 16)
	require.ErrorIs(t, ad.Initialize(small), warptile.ErrWorkspaceTooSmall)

	ws := devAlloc(t, ad.WorkspaceSize())
	require.NoError(t, ad.Initialize(ws))
	require.NoError(t, ad.Run())

	want := make([]float32, m*n)
	ref.GEMMInto(m, n, k, a.Float32(), k, b.Float32(), n, want, n)
	requireClose(t, warptile.DefaultTolerance(), d.Float32(), want)

	// Each run consumes the initialization; re-running without
	// re-zeroing the reduction buffers must be refused.
	require.Error(t, ad.Run())
	require.NoError(t, ad.Initialize(ws))
	require.NoError(t, ad.Run())
	requireClose(t, warptile.DefaultTolerance(), d.Float32(), want)
}

func TestKernelRejectsInfeasibleGeometry(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := randTensor(t, rng, 64*32)
	b := randTensor(t, rng, 32*64)
	d := devAlloc(t, 64*64*4)

	ad, err := NewAdapter(Arguments{
		Problem: warptile.ProblemShape{M: 64, N: 64, K: 32},
		A:       a, B: b, D: d,
		// Not divisible into 16-wide epilogue subtiles.
		Tile: warptile.TileShape{M: 60, N: 64, K: 32},
	})
	require.NoError(t, err)
	require.False(t, ad.CanImplement())
	require.ErrorIs(t, ad.Run(), warptile.ErrNotImplementable)
}

func TestKernelRequiresCWhenFusionReadsIt(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	a := randTensor(t, rng, 64*32)
	b := randTensor(t, rng, 32*64)
	d := devAlloc(t, 64*64*4)

	ad, err := NewAdapter(Arguments{
		Problem: warptile.ProblemShape{M: 64, N: 64, K: 32},
		A:       a, B: b, D: d,
		Fusion: fusion.LinearCombination(1, 0.5),
	})
	require.NoError(t, err)
	require.Error(t, ad.Initialize(warptile.DevicePtr{}))
}

func TestKernelAuxStoreCapturesPreActivation(t *testing.T) {
	m, n, k := 96, 64, 48
	rng := rand.New(rand.NewSource(9))
	a := randTensor(t, rng, m*k)
	b := randTensor(t, rng, k*n)
	d := devAlloc(t, m*n*4)
	aux := devAlloc(t, m*n*4)

	ad, err := NewAdapter(Arguments{
		Problem: warptile.ProblemShape{M: m, N: n, K: k},
		A:       a, B: b, D: d,
		Fusion: fusion.LinCombDeEltAct(fusion.ReLU, 1, 0,
			aux, warptile.LayoutFor(m, n), warptile.Float32),
	})
	require.NoError(t, err)
	require.NoError(t, ad.Run())

	pre := make([]float32, m*n)
	ref.GEMMInto(m, n, k, a.Float32(), k, b.Float32(), n, pre, n)
	requireClose(t, warptile.StrictTolerance(), aux.Float32(), pre)

	want := make([]float32, m*n)
	for i, v := range pre {
		want[i] = warptile.ReLUFloat32(v)
	}
	requireClose(t, warptile.StrictTolerance(), d.Float32(), want)
}

func TestKernelRowReduceResult(t *testing.T) {
	m, n, k := 80, 96, 64
	rng := rand.New(rand.NewSource(10))
	a := randTensor(t, rng, m*k)
	b := randTensor(t, rng, k*n)
	d := devAlloc(t, m*n*4)

	rr := fusion.RowReduce()
	ad, err := NewAdapter(Arguments{
		Problem: warptile.ProblemShape{M: m, N: n, K: k},
		A:       a, B: b, D: d,
		Fusion: fusion.Tree(rr, fusion.LinearCombination(1, 0)),
	})
	require.NoError(t, err)

	ws := devAlloc(t, ad.WorkspaceSize())
	require.NoError(t, ad.Initialize(ws))
	require.NoError(t, ad.Run())

	dv := d.Float32()
	want := make([]float32, n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			want[j] += dv[i*n+j]
		}
	}
	requireClose(t, warptile.DefaultTolerance(), rr.Result(), want)
}

func TestKernelReducedPrecisionOutput(t *testing.T) {
	m, n, k := 64, 64, 32
	rng := rand.New(rand.NewSource(11))
	a := randTensor(t, rng, m*k)
	b := randTensor(t, rng, k*n)
	d := devAlloc(t, m*n*2)

	ad, err := NewAdapter(Arguments{
		Problem: warptile.ProblemShape{M: m, N: n, K: k},
		A:       a, B: b, D: d,
		DTypeD:  warptile.BFloat16,
	})
	require.NoError(t, err)
	require.NoError(t, ad.Run())

	acc := make([]float32, m*n)
	ref.GEMMInto(m, n, k, a.Float32(), k, b.Float32(), n, acc, n)

	got := make([]float32, m*n)
	want := make([]float32, m*n)
	for i := range acc {
		got[i] = warptile.BFloat16.Load(d, i)
		want[i] = warptile.BFloat16.RoundTrip(acc[i])
	}
	requireClose(t, warptile.ReducedPrecisionTolerance(), got, want)
}

func TestKernelClusterAndRasterVariants(t *testing.T) {
	m, n, k := 100, 150, 64
	rng := rand.New(rand.NewSource(12))
	a := randTensor(t, rng, m*k)
	b := randTensor(t, rng, k*n)

	want := make([]float32, m*n)
	ref.GEMMInto(m, n, k, a.Float32(), k, b.Float32(), n, want, n)

	for _, tc := range []struct {
		name    string
		cluster warptile.ClusterShape
		raster  RasterOrder
	}{
		{"single cluster", warptile.ClusterShape{M: 1, N: 1}, RasterHeuristic},
		{"zero extent treated as one", warptile.ClusterShape{M: 1, N: 0}, RasterHeuristic},
		{"four clusters", warptile.ClusterShape{M: 2, N: 2}, RasterHeuristic},
		{"raster along M", warptile.ClusterShape{M: 2, N: 1}, RasterAlongM},
		{"raster along N", warptile.ClusterShape{M: 2, N: 1}, RasterAlongN},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := devAlloc(t, m*n*4)
			ad, err := NewAdapter(Arguments{
				Problem: warptile.ProblemShape{M: m, N: n, K: k},
				A:       a, B: b, D: d,
				Cluster: tc.cluster,
				Raster:  tc.raster,
			})
			require.NoError(t, err)
			require.NoError(t, ad.Run())
			requireClose(t, warptile.StrictTolerance(), d.Float32(), want)
		})
	}
}
