// Package kernel assembles the collective building blocks into a runnable
// fused GEMM: a tile scheduler, a pipelined mainloop, the epilogue driving a
// fusion tree, and the host-facing adapter that resolves arguments and
// launches the warp-specialized workers.
package kernel

import (
	"sync/atomic"

	"github.com/warptile/warptile"
)

// RasterOrder selects how output tiles are linearized for dispatch.
type RasterOrder int

const (
	// RasterHeuristic picks the order per problem: along the shorter tile
	// dimension, so consecutive tiles revisit the smaller operand.
	RasterHeuristic RasterOrder = iota
	// RasterAlongM advances the M tile index fastest.
	RasterAlongM
	// RasterAlongN advances the N tile index fastest.
	RasterAlongN
)

func (r RasterOrder) String() string {
	switch r {
	case RasterAlongM:
		return "M"
	case RasterAlongN:
		return "N"
	default:
		return "heuristic"
	}
}

// WorkTile is one unit of scheduled work: one output tile of one problem,
// restricted to one slice of the reduction dimension.
type WorkTile struct {
	// Coord locates the tile. M and N are tile indices, K is the
	// reduction slice index, L is the batch index (batched mode) or the
	// group index (grouped mode).
	Coord warptile.TileCoord

	// Problem is the shape the tile belongs to. It varies per group in
	// grouped mode.
	Problem warptile.ProblemShape

	// Group identifies the problem for operand addressing.
	Group int

	// Index linearizes (tile, batch, group) across the whole launch,
	// excluding the slice dimension. Reduction-splitting workspace is
	// indexed by it.
	Index int

	// KStart and KTiles delimit this slice's reduction-tile range. A
	// slice may be empty when the problem has fewer reduction tiles than
	// slices; it still participates in the tile's completion count.
	KStart, KTiles int
}

type groupExtent struct {
	ps     warptile.ProblemShape
	tilesM int
	tilesN int
	kTiles int
	base   int
	raster RasterOrder
}

// TileScheduler hands out WorkTiles to persistent clusters through a single
// atomic cursor. Tile order within a problem follows the raster order;
// grouped problems are dispatched back to back, which deliberately lets a
// fast cluster drain another group's tiles.
type TileScheduler struct {
	groups  []groupExtent
	tile    warptile.TileShape
	splitK  int
	tiles   int
	grouped bool
	next    atomic.Int64
}

// NewTileScheduler builds a scheduler over one problem per group. Batched
// problems pass a single group with L > 1.
func NewTileScheduler(problems []warptile.ProblemShape, tile warptile.TileShape, raster RasterOrder, splitK int) *TileScheduler {
	if splitK < 1 {
		splitK = 1
	}
	s := &TileScheduler{tile: tile, splitK: splitK, grouped: len(problems) > 1}
	base := 0
	for _, ps := range problems {
		ge := groupExtent{
			ps:     ps,
			tilesM: tile.TilesM(ps),
			tilesN: tile.TilesN(ps),
			kTiles: tile.TilesK(ps),
			base:   base,
			raster: raster,
		}
		if raster == RasterHeuristic {
			if ge.tilesN > ge.tilesM {
				ge.raster = RasterAlongN
			} else {
				ge.raster = RasterAlongM
			}
		}
		s.groups = append(s.groups, ge)
		base += ge.tilesM * ge.tilesN * ps.Batches()
	}
	s.tiles = base
	return s
}

// Tiles returns the number of output tiles across all groups, excluding the
// slice dimension.
func (s *TileScheduler) Tiles() int { return s.tiles }

// SplitK returns the number of reduction slices per tile.
func (s *TileScheduler) SplitK() int { return s.splitK }

// Next returns the next WorkTile, or ok == false once the launch is drained.
// Safe for concurrent use.
func (s *TileScheduler) Next() (WorkTile, bool) {
	idx := s.next.Add(1) - 1
	if idx >= int64(s.tiles)*int64(s.splitK) {
		return WorkTile{}, false
	}
	slice := int(idx % int64(s.splitK))
	t := int(idx / int64(s.splitK))

	g := 0
	for g+1 < len(s.groups) && t >= s.groups[g+1].base {
		g++
	}
	ge := &s.groups[g]
	rel := t - ge.base
	l := rel / (ge.tilesM * ge.tilesN)
	rel %= ge.tilesM * ge.tilesN
	if s.grouped {
		// Grouped problems are single-batch; the L coordinate carries
		// the group index so per-group fusion state keys off it.
		l = g
	}

	var m, n int
	if ge.raster == RasterAlongM {
		m = rel % ge.tilesM
		n = rel / ge.tilesM
	} else {
		n = rel % ge.tilesN
		m = rel / ge.tilesN
	}

	kPer := ceilDiv(ge.kTiles, s.splitK)
	kStart := slice * kPer
	kExt := minInt(kPer, ge.kTiles-kStart)
	if kExt < 0 {
		kExt = 0
	}

	return WorkTile{
		Coord:   warptile.TileCoord{M: m, N: n, K: slice, L: l},
		Problem: ge.ps,
		Group:   g,
		Index:   t,
		KStart:  kStart,
		KTiles:  kExt,
	}, true
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
