package kernel

import (
	"github.com/warptile/warptile"
	"github.com/warptile/warptile/fusion"
)

// Epilogue walks a tile's accumulator block subtile by subtile, driving the
// fusion tree's callback protocol on both warp-group roles. The producer
// role stages C subtiles and fans the per-subtile Step to every node needing
// a bulk load; the consumer role visits accumulator fragments, stores the
// final values to D, and gives the nodes their reduction and bulk-store
// windows.
type Epilogue struct {
	tile   warptile.TileShape
	epi    warptile.EpilogueTile
	params fusion.Params
}

// NewEpilogue binds resolved fusion params to the tile geometry.
func NewEpilogue(tile warptile.TileShape, epi warptile.EpilogueTile, params fusion.Params) *Epilogue {
	return &Epilogue{tile: tile, epi: epi, params: params}
}

// StageSize returns the per-stage element count of the epilogue load
// pipeline's C staging buffer.
func (ep *Epilogue) StageSize() int { return ep.epi.Elems() }

// SharedSize returns the fusion tree's staging requirement in elements.
func (ep *Epilogue) SharedSize() int { return ep.params.SharedStorageSize(ep.epi) }

func (ep *Epilogue) tileArgs(wt *WorkTile) fusion.TileArgs {
	rm, rn := ep.tile.Residue(wt.Problem, wt.Coord)
	return fusion.TileArgs{
		Problem:  wt.Problem,
		Tile:     ep.tile,
		Coord:    wt.Coord,
		EpiTile:  ep.epi,
		ResidueM: rm,
		ResidueN: rn,
	}
}

// ProduceTile runs the producer role for one tile: per subtile, acquire a
// pipeline stage, stage the C subtile when needed, give each node its Step,
// and commit. iter is the cluster's monotone epilogue iteration counter; it
// must advance identically on the consumer side.
func (ep *Epilogue) ProduceTile(pipe *warptile.Pipeline, smem []float32, c *operand, wt *WorkTile, iter *int, cLoad bool) {
	args := &fusion.ProducerLoadArgs{
		TileArgs: ep.tileArgs(wt),
		Smem:     warptile.NewSharedArena(smem),
	}
	cb := ep.params.ProducerLoadCallbacks(args)
	cb.Begin()

	subM := ep.epi.SubtilesM(ep.tile)
	subN := ep.epi.SubtilesN(ep.tile)
	for em := 0; em < subM; em++ {
		for en := 0; en < subN; en++ {
			st := pipe.ProducerAcquire(*iter)
			if cLoad {
				ep.stageC(st, c, &args.TileArgs, em, en)
			}
			cb.Step(st.Full, em, en, *iter, true)
			pipe.ProducerCommit(*iter)
			*iter++
		}
	}
	cb.End()
}

// stageC copies the valid region of C subtile (em, en) into the stage
// buffer, widening to float32 and arming the stage barrier.
func (ep *Epilogue) stageC(st *warptile.Stage, c *operand, ta *fusion.TileArgs, em, en int) {
	m0, n0 := ta.SubtileOrigin(em, en)
	rm, rn := ta.SubtileResidue(em, en)
	buf := st.Bufs[0]

	st.Full.ExpectTx(rm * rn * c.dtype.Size())
	for i := 0; i < rm; i++ {
		row := c.layout.Offset(m0+i, n0, ta.Coord.L)
		for j := 0; j < rn; j++ {
			buf[i*ta.EpiTile.N+j] = c.dtype.Load(c.ptr, row+j)
		}
	}
	st.Full.CompleteTx(rm * rn * c.dtype.Size())
}

// consumeState carries the per-cluster consumer scratch reused across tiles.
type consumeState struct {
	frag      warptile.Fragment
	results   []warptile.Fragment
	reduceBuf []float32
}

func (ep *Epilogue) newConsumeState() *consumeState {
	results := make([]warptile.Fragment, ep.epi.Fragments())
	for i := range results {
		results[i] = warptile.NewFragment()
	}
	return &consumeState{
		frag:      warptile.NewFragment(),
		results:   results,
		reduceBuf: make([]float32, ep.epi.N),
	}
}

// ConsumeTile runs the consumer role for one tile over the finished
// accumulator block acc (tile.M x tile.N, row-major). Final fragments are
// stored to D with residue predication; nodes get Reduce, Postreduce and
// TMAStore windows per subtile.
func (ep *Epilogue) ConsumeTile(pipe *warptile.Pipeline, smem []float32, d *operand, wt *WorkTile, iter *int, acc []float32, cs *consumeState, producerLoad, cLoad bool) {
	ctx := &fusion.TileContext{}
	args := &fusion.ConsumerStoreArgs{
		TileArgs: ep.tileArgs(wt),
		Smem:     warptile.NewSharedArena(smem),
		Ctx:      ctx,
		SyncFn:   func() {},
	}
	cb := ep.params.ConsumerStoreCallbacks(args)
	cb.Begin()
	if cb.BeginSyncNeeded() {
		args.SyncFn()
	}

	subM := ep.epi.SubtilesM(ep.tile)
	subN := ep.epi.SubtilesN(ep.tile)
	for em := 0; em < subM; em++ {
		for en := 0; en < subN; en++ {
			last := em == subM-1 && en == subN-1

			ctx.CurrentC = nil
			if producerLoad {
				st := pipe.ConsumerWait(*iter)
				if cLoad {
					ctx.CurrentC = st.Bufs[0]
				}
			}

			cb.BeginLoop(em, en)
			cb.Previsit(em, en, *iter, producerLoad)

			m0, n0 := args.SubtileOrigin(em, en)
			rm, rn := args.SubtileResidue(em, en)
			for epiV := 0; epiV < ep.epi.Fragments(); epiV++ {
				ep.gatherAcc(acc, cs.frag, em, en, epiV)
				out := cb.Visit(cs.frag, epiV, em, en)
				copy(cs.results[epiV], out)
				for lane, v := range out {
					r, c := warptile.FragCoord(ep.epi, epiV, lane)
					if r < rm && c < rn {
						d.dtype.Store(d.ptr, d.layout.Offset(m0+r, n0+c, wt.Coord.L), v)
					}
				}
			}

			cb.Reduce(cs.reduceBuf, args.SyncFn, em, en, last, cs.results)
			cb.Postreduce(em, en, *iter, true)
			cb.TMAStore(em, en, *iter, true)
			cb.EndLoop(em, en)

			if producerLoad {
				pipe.ConsumerRelease(*iter)
			}
			*iter++
		}
	}
	cb.End()
}

// gatherAcc copies epilogue vector epiV of subtile (em, en) out of the tile
// accumulator. Lanes past the tile edge read zero; residue predication on
// the store side keeps them from ever mattering.
func (ep *Epilogue) gatherAcc(acc []float32, frag warptile.Fragment, em, en, epiV int) {
	for lane := range frag {
		r, c := warptile.FragCoord(ep.epi, epiV, lane)
		ti := em*ep.epi.M + r
		tj := en*ep.epi.N + c
		if ti < ep.tile.M && tj < ep.tile.N {
			frag[lane] = acc[ti*ep.tile.N+tj]
		} else {
			frag[lane] = 0
		}
	}
}
