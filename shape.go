package warptile

import "fmt"

// ProblemShape describes the logical extents of one matrix-multiply problem:
// D[M,N] = epilogue(A[M,K] * B[K,N], C[M,N]) repeated over L batches or
// groups. It is immutable once captured by a kernel invocation.
type ProblemShape struct {
	M, N, K int
	L       int // batch count or group count; 0 is treated as 1
}

// Batches returns the L extent, treating zero as a single batch.
func (ps ProblemShape) Batches() int {
	if ps.L <= 0 {
		return 1
	}
	return ps.L
}

// Valid reports whether all extents are positive.
func (ps ProblemShape) Valid() bool {
	return ps.M > 0 && ps.N > 0 && ps.K > 0
}

// FLOPs returns the number of floating-point operations of the bare
// matrix multiply (2*M*N*K per batch).
func (ps ProblemShape) FLOPs() int64 {
	return 2 * int64(ps.M) * int64(ps.N) * int64(ps.K) * int64(ps.Batches())
}

func (ps ProblemShape) String() string {
	if ps.Batches() > 1 {
		return fmt.Sprintf("%dx%dx%dx%d", ps.M, ps.N, ps.K, ps.Batches())
	}
	return fmt.Sprintf("%dx%dx%d", ps.M, ps.N, ps.K)
}

// TileShape is the fixed extent of the output chunk one cluster computes per
// scheduling step, plus the K extent streamed per pipeline stage.
type TileShape struct {
	M, N, K int
}

// DefaultTileShape returns the library's default threadblock tile.
func DefaultTileShape() TileShape {
	return TileShape{M: DefaultTileM, N: DefaultTileN, K: DefaultTileK}
}

// TilesM returns the number of tiles covering the M extent.
func (ts TileShape) TilesM(ps ProblemShape) int { return ceilDiv(ps.M, ts.M) }

// TilesN returns the number of tiles covering the N extent.
func (ts TileShape) TilesN(ps ProblemShape) int { return ceilDiv(ps.N, ts.N) }

// TilesK returns the number of K iterations of the mainloop.
func (ts TileShape) TilesK(ps ProblemShape) int { return ceilDiv(ps.K, ts.K) }

// EpilogueTile is the subtile granularity at which the epilogue loads,
// visits and stores one tile.
type EpilogueTile struct {
	M, N int
}

// DefaultEpilogueTile returns the library's default epilogue subtile.
func DefaultEpilogueTile() EpilogueTile {
	return EpilogueTile{M: DefaultEpilogueTileM, N: DefaultEpilogueTileN}
}

// Elems returns the element count of one epilogue subtile.
func (et EpilogueTile) Elems() int { return et.M * et.N }

// Fragments returns the number of FragmentSize vectors per subtile.
func (et EpilogueTile) Fragments() int { return ceilDiv(et.Elems(), FragmentSize) }

// SubtilesM returns the number of epilogue subtiles along M within a tile.
func (et EpilogueTile) SubtilesM(ts TileShape) int { return ceilDiv(ts.M, et.M) }

// SubtilesN returns the number of epilogue subtiles along N within a tile.
func (et EpilogueTile) SubtilesN(ts TileShape) int { return ceilDiv(ts.N, et.N) }

// ClusterShape is the threadblock cluster arrangement. Execution treats the
// cluster as one producer/consumer pair; the shape participates in launch
// validation and scheduler swizzling.
type ClusterShape struct {
	M, N int
}

// Count returns the number of clusters the shape launches, treating
// non-positive extents as 1.
func (cs ClusterShape) Count() int {
	m, n := cs.M, cs.N
	if m <= 0 {
		m = 1
	}
	if n <= 0 {
		n = 1
	}
	return m * n
}

// Valid reports whether the cluster shape is launchable.
func (cs ClusterShape) Valid() bool {
	return cs.Count() <= 16
}

// TileCoord locates one output tile: tile indices along M and N, the K slice
// for split-K dispatch, and the batch/group index L.
type TileCoord struct {
	M, N int
	K    int // split-K slice index, 0 for monolithic K
	L    int
}

// Residue returns the valid extents of the tile at coord within ps: full tile
// extents in the interior, the remainder at the M/N boundaries.
func (ts TileShape) Residue(ps ProblemShape, coord TileCoord) (rm, rn int) {
	rm = min(ts.M, ps.M-coord.M*ts.M)
	rn = min(ts.N, ps.N-coord.N*ts.N)
	return rm, rn
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
