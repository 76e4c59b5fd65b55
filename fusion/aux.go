package fusion

import (
	"github.com/warptile/warptile"
)

func tensorFits(t warptile.DevicePtr, ly warptile.Layout, dt warptile.DType, ps warptile.ProblemShape) bool {
	if t.IsNil() || !ly.Valid() {
		return false
	}
	last := ly.Offset(ps.M-1, ps.N-1, ps.Batches()-1)
	return t.Size() >= (last+1)*dt.Size()
}

//
// Auxiliary tensor load
//

// AuxLoadOp yields fragments of an MxN auxiliary tensor (e.g. a residual to
// add before activation). Subtiles are staged through shared memory by the
// producer warp group, one epilogue subtile per pipeline slot.
type AuxLoadOp struct {
	Tensor warptile.DevicePtr
	Layout warptile.Layout
	DType  warptile.DType
}

// AuxLoad returns an auxiliary-tensor load leaf.
func AuxLoad(t warptile.DevicePtr, ly warptile.Layout, dt warptile.DType) *AuxLoadOp {
	return &AuxLoadOp{Tensor: t, Layout: ly, DType: dt}
}

func (a *AuxLoadOp) CanImplement(ps warptile.ProblemShape) bool {
	return tensorFits(a.Tensor, a.Layout, a.DType, ps)
}

func (*AuxLoadOp) WorkspaceSize(warptile.ProblemShape) int { return 0 }
func (*AuxLoadOp) InitializeWorkspace(warptile.ProblemShape, []byte) error {
	return nil
}

func (a *AuxLoadOp) ToUnderlyingArguments(warptile.ProblemShape, []byte) (Params, error) {
	return &auxLoadParams{tensor: a.Tensor, layout: a.Layout, dtype: a.DType}, nil
}

type auxLoadParams struct {
	tensor warptile.DevicePtr
	layout warptile.Layout
	dtype  warptile.DType
}

func (*auxLoadParams) IsProducerLoadNeeded() bool { return true }
func (*auxLoadParams) IsCLoadNeeded(warptile.TileCoord) bool { return false }

func (*auxLoadParams) SharedStorageSize(et warptile.EpilogueTile) int {
	return warptile.EpilogueStageCount * et.Elems()
}

func (p *auxLoadParams) ProducerLoadCallbacks(args *ProducerLoadArgs) ProducerLoadCallbacks {
	return &auxLoadProducer{
		params: p,
		args:   args,
		smem:   args.Smem.Take(warptile.EpilogueStageCount * args.EpiTile.Elems()),
	}
}

type auxLoadProducer struct {
	EmptyProducerLoadCallbacks
	params *auxLoadParams
	args   *ProducerLoadArgs
	smem   []float32
}

func (a *auxLoadProducer) Step(full *warptile.TxBarrier, epiM, epiN, loadIteration int, issueLoad bool) {
	if !issueLoad {
		return
	}
	p, ta := a.params, &a.args.TileArgs
	m0, n0 := ta.SubtileOrigin(epiM, epiN)
	rm, rn := ta.SubtileResidue(epiM, epiN)
	slot := a.smem[(loadIteration%warptile.EpilogueStageCount)*ta.EpiTile.Elems():]

	full.ExpectTx(rm * rn * p.dtype.Size())
	for i := 0; i < rm; i++ {
		row := p.layout.Offset(m0+i, n0, ta.Coord.L)
		for j := 0; j < rn; j++ {
			slot[i*ta.EpiTile.N+j] = p.dtype.Load(p.tensor, row+j)
		}
	}
	full.CompleteTx(rm * rn * p.dtype.Size())
}

func (p *auxLoadParams) ConsumerStoreCallbacks(args *ConsumerStoreArgs) ConsumerStoreCallbacks {
	return &auxLoadConsumer{
		args: args,
		smem: args.Smem.Take(warptile.EpilogueStageCount * args.EpiTile.Elems()),
	}
}

type auxLoadConsumer struct {
	EmptyConsumerStoreCallbacks
	args *ConsumerStoreArgs
	smem []float32
	slot []float32
}

func (a *auxLoadConsumer) Previsit(_, _, loadIteration int, _ bool) {
	et := a.args.EpiTile
	a.slot = a.smem[(loadIteration%warptile.EpilogueStageCount)*et.Elems():]
}

func (a *auxLoadConsumer) Visit(_ warptile.Fragment, epiV, _, _ int, _ ...warptile.Fragment) warptile.Fragment {
	base := epiV * warptile.FragmentSize
	return warptile.Fragment(a.slot[base : base+warptile.FragmentSize])
}

//
// Auxiliary tensor store
//

// AuxStoreOp passes its single input through unchanged while staging it for
// a bulk store to an MxN auxiliary tensor. Stores are issued in TMAStore,
// residue-predicated; the staged subtile lives in shared memory between the
// visits and the store of one iteration.
type AuxStoreOp struct {
	Tensor warptile.DevicePtr
	Layout warptile.Layout
	DType  warptile.DType
}

// AuxStore returns an auxiliary-tensor store node.
func AuxStore(t warptile.DevicePtr, ly warptile.Layout, dt warptile.DType) *AuxStoreOp {
	return &AuxStoreOp{Tensor: t, Layout: ly, DType: dt}
}

func (a *AuxStoreOp) CanImplement(ps warptile.ProblemShape) bool {
	return tensorFits(a.Tensor, a.Layout, a.DType, ps)
}

func (*AuxStoreOp) WorkspaceSize(warptile.ProblemShape) int { return 0 }
func (*AuxStoreOp) InitializeWorkspace(warptile.ProblemShape, []byte) error {
	return nil
}

func (a *AuxStoreOp) ToUnderlyingArguments(warptile.ProblemShape, []byte) (Params, error) {
	return &auxStoreParams{tensor: a.Tensor, layout: a.Layout, dtype: a.DType}, nil
}

type auxStoreParams struct {
	tensor warptile.DevicePtr
	layout warptile.Layout
	dtype  warptile.DType
}

func (*auxStoreParams) IsProducerLoadNeeded() bool { return false }
func (*auxStoreParams) IsCLoadNeeded(warptile.TileCoord) bool { return false }

func (*auxStoreParams) SharedStorageSize(et warptile.EpilogueTile) int {
	return warptile.EpilogueStageCount * et.Elems()
}

func (*auxStoreParams) ProducerLoadCallbacks(*ProducerLoadArgs) ProducerLoadCallbacks {
	return EmptyProducerLoadCallbacks{}
}

func (p *auxStoreParams) ConsumerStoreCallbacks(args *ConsumerStoreArgs) ConsumerStoreCallbacks {
	return &auxStoreConsumer{
		params: p,
		args:   args,
		smem:   args.Smem.Take(warptile.EpilogueStageCount * args.EpiTile.Elems()),
	}
}

type auxStoreConsumer struct {
	EmptyConsumerStoreCallbacks
	params *auxStoreParams
	args   *ConsumerStoreArgs
	smem   []float32
	slot   []float32
}

func (a *auxStoreConsumer) Previsit(_, _, loadIteration int, _ bool) {
	et := a.args.EpiTile
	a.slot = a.smem[(loadIteration%warptile.EpilogueStageCount)*et.Elems():]
}

func (a *auxStoreConsumer) Visit(_ warptile.Fragment, epiV, _, _ int, inputs ...warptile.Fragment) warptile.Fragment {
	in := inputs[0]
	copy(a.slot[epiV*warptile.FragmentSize:], in)
	return in
}

func (a *auxStoreConsumer) TMAStore(epiM, epiN, storeIteration int, issueStore bool) {
	if !issueStore {
		return
	}
	p, ta := a.params, &a.args.TileArgs
	m0, n0 := ta.SubtileOrigin(epiM, epiN)
	rm, rn := ta.SubtileResidue(epiM, epiN)
	slot := a.smem[(storeIteration%warptile.EpilogueStageCount)*ta.EpiTile.Elems():]

	for i := 0; i < rm; i++ {
		row := p.layout.Offset(m0+i, n0, ta.Coord.L)
		for j := 0; j < rn; j++ {
			p.dtype.Store(p.tensor, row+j, slot[i*ta.EpiTile.N+j])
		}
	}
}
