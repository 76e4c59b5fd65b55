package kernel

import (
	"github.com/warptile/warptile"
)

// operand describes one global input tensor of a problem.
type operand struct {
	ptr    warptile.DevicePtr
	layout warptile.Layout
	dtype  warptile.DType
}

// Mainloop streams A and B reduction slabs through a barrier-guarded
// pipeline and accumulates them into a per-tile register block. The producer
// role stages swizzled slabs; the consumer role de-swizzles into contiguous
// scratch and runs the inner-product micro kernel. Accumulators are always
// float32 regardless of the operand element types, which are widened on
// staging.
type Mainloop struct {
	tile warptile.TileShape
	swz  warptile.Swizzle
}

// NewMainloop builds the mainloop collective for one tile shape.
func NewMainloop(tile warptile.TileShape) *Mainloop {
	return &Mainloop{tile: tile, swz: warptile.DefaultSwizzle()}
}

// StageSizes returns the per-stage buffer element counts for the pipeline:
// one A slab and one B slab.
func (ml *Mainloop) StageSizes() (aElems, bElems int) {
	return ml.tile.M * ml.tile.K, ml.tile.K * ml.tile.N
}

// slabExtents returns the valid extents of reduction tile kt for wt.
func (ml *Mainloop) slabExtents(wt *WorkTile, kt int) (rm, rn, rk int) {
	rm, rn = ml.tile.Residue(wt.Problem, wt.Coord)
	rk = minInt(ml.tile.K, wt.Problem.K-kt*ml.tile.K)
	return rm, rn, rk
}

// ProduceSlab stages reduction tile kt of wt into the stage's buffers,
// arming the stage barrier with the staged byte count. Elements outside the
// valid extents are zeroed so the consumer can run full-width loops.
func (ml *Mainloop) ProduceSlab(st *warptile.Stage, a, b *operand, wt *WorkTile, kt int) {
	rm, rn, rk := ml.slabExtents(wt, kt)
	m0 := wt.Coord.M * ml.tile.M
	n0 := wt.Coord.N * ml.tile.N
	k0 := kt * ml.tile.K
	slabA, slabB := st.Bufs[0], st.Bufs[1]

	st.Full.ExpectTx(rm*rk*a.dtype.Size() + rk*rn*b.dtype.Size())

	for i := 0; i < ml.tile.M; i++ {
		row := a.layout.Offset(m0+i, k0, wt.Coord.L)
		for k := 0; k < ml.tile.K; k++ {
			var v float32
			if i < rm && k < rk {
				v = a.dtype.Load(a.ptr, row+k)
			}
			slabA[ml.swz.Apply(i*ml.tile.K+k)] = v
		}
	}
	for k := 0; k < ml.tile.K; k++ {
		row := b.layout.Offset(k0+k, n0, wt.Coord.L)
		for j := 0; j < ml.tile.N; j++ {
			var v float32
			if k < rk && j < rn {
				v = b.dtype.Load(b.ptr, row+j)
			}
			slabB[ml.swz.Apply(k*ml.tile.N+j)] = v
		}
	}

	st.Full.CompleteTx(rm*rk*a.dtype.Size() + rk*rn*b.dtype.Size())
}

// scratch holds the consumer's de-swizzled slab copies, reused across
// iterations.
type scratch struct {
	a []float32
	b []float32
}

func (ml *Mainloop) newScratch() *scratch {
	return &scratch{
		a: make([]float32, ml.tile.M*ml.tile.K),
		b: make([]float32, ml.tile.K*ml.tile.N),
	}
}

// ConsumeSlab de-swizzles the staged slabs and accumulates their product
// into acc, a tile.M x tile.N row-major block.
func (ml *Mainloop) ConsumeSlab(st *warptile.Stage, sc *scratch, acc []float32) {
	for i := range sc.a {
		sc.a[i] = st.Bufs[0][ml.swz.Apply(i)]
	}
	for i := range sc.b {
		sc.b[i] = st.Bufs[1][ml.swz.Apply(i)]
	}
	if warptile.HasWideFMA() {
		gemmBlockWide(sc.a, sc.b, acc, ml.tile.M, ml.tile.N, ml.tile.K)
	} else {
		gemmBlock(sc.a, sc.b, acc, ml.tile.M, ml.tile.N, ml.tile.K)
	}
}

// gemmBlockWide is the micro kernel for CPUs with wide FMA units: four
// independent partial-sum streams per row keep the multiply-add ports busy.
func gemmBlockWide(a, b, acc []float32, m, n, k int) {
	for i := 0; i < m; i++ {
		arow := a[i*k : i*k+k]
		crow := acc[i*n : i*n+n]
		for kk := 0; kk < k; kk++ {
			av := arow[kk]
			brow := b[kk*n : kk*n+n]
			j := 0
			for ; j+4 <= n; j += 4 {
				crow[j] += av * brow[j]
				crow[j+1] += av * brow[j+1]
				crow[j+2] += av * brow[j+2]
				crow[j+3] += av * brow[j+3]
			}
			for ; j < n; j++ {
				crow[j] += av * brow[j]
			}
		}
	}
}

// gemmBlock is the fallback micro kernel, unrolled by two.
func gemmBlock(a, b, acc []float32, m, n, k int) {
	for i := 0; i < m; i++ {
		arow := a[i*k : i*k+k]
		crow := acc[i*n : i*n+n]
		for kk := 0; kk < k; kk++ {
			av := arow[kk]
			brow := b[kk*n : kk*n+n]
			j := 0
			for ; j+2 <= n; j += 2 {
				crow[j] += av * brow[j]
				crow[j+1] += av * brow[j+1]
			}
			for ; j < n; j++ {
				crow[j] += av * brow[j]
			}
		}
	}
}
