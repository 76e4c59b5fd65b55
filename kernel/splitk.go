package kernel

import (
	"sync/atomic"

	"github.com/warptile/warptile"
)

// splitKState implements serial reduction splitting: every slice of a tile
// adds its partial accumulator into a zero-initialized workspace block and
// bumps the tile's arrival counter; the slice that completes the count reads
// back the full sum and owns the epilogue.
type splitKState struct {
	partials  []float32
	counters  []int32
	slices    int
	tileElems int
}

// splitKSize returns the workspace bytes needed for tiles output tiles,
// partial blocks plus arrival counters, each region alignment-rounded.
func splitKSize(tiles, tileElems int) int {
	return warptile.AlignUp(tiles*tileElems*4) + warptile.AlignUp(tiles*4)
}

// newSplitKState carves the split-K regions out of workspace and zeroes
// them. The same walk order backs splitKSize.
func newSplitKState(workspace []byte, tiles, tileElems, slices int) *splitKState {
	arena := warptile.NewArena(workspace)
	s := &splitKState{
		partials:  warptile.Float32Slice(arena.Take(tiles * tileElems * 4)),
		counters:  warptile.Int32Slice(arena.Take(tiles * 4)),
		slices:    slices,
		tileElems: tileElems,
	}
	for i := range s.partials {
		s.partials[i] = 0
	}
	for i := range s.counters {
		s.counters[i] = 0
	}
	return s
}

// Contribute folds acc into tile Index's partial block. It returns true for
// exactly one slice per tile, with acc rewritten to the complete sum; that
// caller runs the epilogue.
func (s *splitKState) Contribute(tileIdx int, acc []float32) bool {
	block := s.partials[tileIdx*s.tileElems : (tileIdx+1)*s.tileElems]
	for i, v := range acc {
		if v != 0 {
			warptile.AtomicAddFloat32(&block[i], v)
		}
	}
	if int(atomic.AddInt32(&s.counters[tileIdx], 1)) < s.slices {
		return false
	}
	copy(acc, block)
	return true
}
