package kernel

import (
	"sync"

	"github.com/warptile/warptile"
	"github.com/warptile/warptile/fusion"
)

// groupOperands bundles the resolved global tensors of one problem.
type groupOperands struct {
	a, b, c, d operand
}

// epiWork is the consumer's request to the epilogue load role: run the
// producer callbacks for this tile. The C-load decision rides along so both
// roles gate identically.
type epiWork struct {
	wt    WorkTile
	cLoad bool
}

// launchState holds everything a launch shares across clusters. Each cluster
// is a producer/consumer goroutine pair (plus an epilogue load goroutine
// when any fusion node stages through shared memory) with private pipelines;
// clusters compete for tiles through the scheduler's atomic cursor.
type launchState struct {
	sched  *TileScheduler
	ml     *Mainloop
	ep     *Epilogue
	params fusion.Params
	ops    []groupOperands
	splitK *splitKState

	producerLoad bool
	stages       int
	clusters     int
}

func (ls *launchState) run() {
	var wg sync.WaitGroup
	for w := 0; w < ls.clusters; w++ {
		aN, bN := ls.ml.StageSizes()
		mainPipe := warptile.NewPipeline(ls.stages, aN, bN)
		epiPipe := warptile.NewPipeline(warptile.EpilogueStageCount, ls.ep.StageSize())
		smem := make([]float32, ls.ep.SharedSize())
		workCh := make(chan WorkTile, ls.stages)
		epiCh := make(chan epiWork, warptile.EpilogueStageCount)

		wg.Add(2)
		go func() {
			defer wg.Done()
			ls.produce(mainPipe, workCh)
		}()
		go func() {
			defer wg.Done()
			ls.consume(mainPipe, epiPipe, smem, workCh, epiCh)
		}()
		if ls.producerLoad {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ls.produceEpilogue(epiPipe, smem, epiCh)
			}()
		}
	}
	wg.Wait()
}

// produce pulls tiles from the scheduler, forwards each to the cluster's
// consumer, and streams its reduction slabs through the mainloop pipeline.
func (ls *launchState) produce(pipe *warptile.Pipeline, workCh chan<- WorkTile) {
	iter := 0
	for {
		wt, ok := ls.sched.Next()
		if !ok {
			close(workCh)
			return
		}
		workCh <- wt
		ops := &ls.ops[wt.Group]
		for kt := wt.KStart; kt < wt.KStart+wt.KTiles; kt++ {
			st := pipe.ProducerAcquire(iter)
			ls.ml.ProduceSlab(st, &ops.a, &ops.b, &wt, kt)
			pipe.ProducerCommit(iter)
			iter++
		}
	}
}

// produceEpilogue services the consumer's per-tile load requests. It is only
// spawned when the resolved fusion tree needs producer loads; the iteration
// counter advances in lockstep with the consumer's.
func (ls *launchState) produceEpilogue(pipe *warptile.Pipeline, smem []float32, epiCh <-chan epiWork) {
	iter := 0
	for ew := range epiCh {
		ops := &ls.ops[ew.wt.Group]
		ls.ep.ProduceTile(pipe, smem, &ops.c, &ew.wt, &iter, ew.cLoad)
	}
}

// consume accumulates each assigned tile's reduction slabs and runs the
// epilogue. Under reduction splitting only the slice completing a tile's
// arrival count proceeds past Contribute.
func (ls *launchState) consume(mainPipe, epiPipe *warptile.Pipeline, smem []float32, workCh <-chan WorkTile, epiCh chan<- epiWork) {
	mIter, eIter := 0, 0
	sc := ls.ml.newScratch()
	cs := ls.ep.newConsumeState()
	acc := make([]float32, ls.ml.tile.M*ls.ml.tile.N)

	for wt := range workCh {
		for i := range acc {
			acc[i] = 0
		}
		for kt := 0; kt < wt.KTiles; kt++ {
			st := mainPipe.ConsumerWait(mIter)
			ls.ml.ConsumeSlab(st, sc, acc)
			mainPipe.ConsumerRelease(mIter)
			mIter++
		}

		if ls.splitK != nil && !ls.splitK.Contribute(wt.Index, acc) {
			continue
		}

		cLoad := ls.params.IsCLoadNeeded(wt.Coord)
		if warptile.DebugChecks && cLoad && !ls.producerLoad {
			panic("kernel: tile requires C load but no producer load role was launched")
		}
		if ls.producerLoad {
			epiCh <- epiWork{wt: wt, cLoad: cLoad}
		}
		ops := &ls.ops[wt.Group]
		ls.ep.ConsumeTile(epiPipe, smem, &ops.d, &wt, &eIter, acc, cs, ls.producerLoad, cLoad)
	}
	if ls.producerLoad {
		close(epiCh)
	}
}
