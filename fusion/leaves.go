package fusion

import (
	"github.com/warptile/warptile"
)

//
// Accumulator fetch
//

// AccFetchOp yields the raw accumulator fragment. It is the leaf at the
// bottom of nearly every fusion tree.
type AccFetchOp struct{}

// AccFetch returns the accumulator leaf.
func AccFetch() *AccFetchOp { return &AccFetchOp{} }

func (*AccFetchOp) CanImplement(warptile.ProblemShape) bool { return true }
func (*AccFetchOp) WorkspaceSize(warptile.ProblemShape) int { return 0 }
func (*AccFetchOp) InitializeWorkspace(warptile.ProblemShape, []byte) error {
	return nil
}

func (*AccFetchOp) ToUnderlyingArguments(warptile.ProblemShape, []byte) (Params, error) {
	return accFetchParams{}, nil
}

type accFetchParams struct{}

func (accFetchParams) IsProducerLoadNeeded() bool { return false }
func (accFetchParams) IsCLoadNeeded(warptile.TileCoord) bool { return false }
func (accFetchParams) SharedStorageSize(warptile.EpilogueTile) int { return 0 }

func (accFetchParams) ProducerLoadCallbacks(*ProducerLoadArgs) ProducerLoadCallbacks {
	return EmptyProducerLoadCallbacks{}
}

func (accFetchParams) ConsumerStoreCallbacks(*ConsumerStoreArgs) ConsumerStoreCallbacks {
	return accFetchCallbacks{}
}

type accFetchCallbacks struct {
	EmptyConsumerStoreCallbacks
}

func (accFetchCallbacks) Visit(acc warptile.Fragment, _, _, _ int, _ ...warptile.Fragment) warptile.Fragment {
	return acc
}

//
// Source (C tensor) fetch
//

// SrcFetchOp yields the staged fragment of the pre-existing output tensor C.
// The collective stages C subtiles through the epilogue load pipeline, so
// this leaf always claims producer-load participation; Gate may disable the
// actual per-tile load (and the fetch then yields zeros), which is how
// per-group beta==0 skips reading C without changing the launch shape.
type SrcFetchOp struct {
	// Gate, when non-nil, reports whether group l needs the C load.
	Gate func(l int) bool
}

// SrcFetch returns an ungated C-fetch leaf.
func SrcFetch() *SrcFetchOp { return &SrcFetchOp{} }

// SrcFetchGated returns a C-fetch leaf whose per-tile load is controlled by
// gate.
func SrcFetchGated(gate func(l int) bool) *SrcFetchOp {
	return &SrcFetchOp{Gate: gate}
}

func (*SrcFetchOp) CanImplement(warptile.ProblemShape) bool { return true }
func (*SrcFetchOp) WorkspaceSize(warptile.ProblemShape) int { return 0 }
func (*SrcFetchOp) InitializeWorkspace(warptile.ProblemShape, []byte) error {
	return nil
}

func (s *SrcFetchOp) ToUnderlyingArguments(warptile.ProblemShape, []byte) (Params, error) {
	return &srcFetchParams{gate: s.Gate}, nil
}

type srcFetchParams struct {
	gate func(l int) bool
}

func (*srcFetchParams) IsProducerLoadNeeded() bool { return true }

func (p *srcFetchParams) IsCLoadNeeded(tile warptile.TileCoord) bool {
	return p.gate == nil || p.gate(tile.L)
}

func (*srcFetchParams) SharedStorageSize(warptile.EpilogueTile) int { return 0 }

func (*srcFetchParams) ProducerLoadCallbacks(*ProducerLoadArgs) ProducerLoadCallbacks {
	// The collective itself stages C; this leaf only consumes the staged
	// subtile.
	return EmptyProducerLoadCallbacks{}
}

func (p *srcFetchParams) ConsumerStoreCallbacks(args *ConsumerStoreArgs) ConsumerStoreCallbacks {
	return &srcFetchCallbacks{ctx: args.Ctx, zero: warptile.NewFragment()}
}

type srcFetchCallbacks struct {
	EmptyConsumerStoreCallbacks
	ctx  *TileContext
	zero warptile.Fragment
}

func (s *srcFetchCallbacks) Visit(_ warptile.Fragment, epiV, _, _ int, _ ...warptile.Fragment) warptile.Fragment {
	c := s.ctx.CurrentC
	if c == nil {
		return s.zero
	}
	base := epiV * warptile.FragmentSize
	return warptile.Fragment(c[base : base+warptile.FragmentSize])
}

//
// Scalar broadcast
//

// ScalarBroadcastOp yields the same scalar in every lane. PerGroup, when
// set, selects the scalar by the tile's group index and overrides Value.
type ScalarBroadcastOp struct {
	Value    float32
	PerGroup []float32
}

// ScalarBroadcast returns a uniform scalar leaf.
func ScalarBroadcast(v float32) *ScalarBroadcastOp {
	return &ScalarBroadcastOp{Value: v}
}

// ScalarBroadcastPerGroup returns a scalar leaf indexed by group.
func ScalarBroadcastPerGroup(values []float32) *ScalarBroadcastOp {
	return &ScalarBroadcastOp{PerGroup: values}
}

func (s *ScalarBroadcastOp) CanImplement(ps warptile.ProblemShape) bool {
	return s.PerGroup == nil || len(s.PerGroup) >= ps.Batches()
}

func (*ScalarBroadcastOp) WorkspaceSize(warptile.ProblemShape) int { return 0 }
func (*ScalarBroadcastOp) InitializeWorkspace(warptile.ProblemShape, []byte) error {
	return nil
}

func (s *ScalarBroadcastOp) ToUnderlyingArguments(warptile.ProblemShape, []byte) (Params, error) {
	return &scalarBroadcastParams{value: s.Value, perGroup: s.PerGroup}, nil
}

type scalarBroadcastParams struct {
	value    float32
	perGroup []float32
}

// ScalarFor returns the broadcast scalar for group l. Host-side gating of
// the C load keys off the same value the device sees.
func (p *scalarBroadcastParams) ScalarFor(l int) float32 {
	if p.perGroup != nil {
		return p.perGroup[l]
	}
	return p.value
}

func (*scalarBroadcastParams) IsProducerLoadNeeded() bool { return false }
func (*scalarBroadcastParams) IsCLoadNeeded(warptile.TileCoord) bool { return false }
func (*scalarBroadcastParams) SharedStorageSize(warptile.EpilogueTile) int { return 0 }

func (*scalarBroadcastParams) ProducerLoadCallbacks(*ProducerLoadArgs) ProducerLoadCallbacks {
	return EmptyProducerLoadCallbacks{}
}

func (p *scalarBroadcastParams) ConsumerStoreCallbacks(args *ConsumerStoreArgs) ConsumerStoreCallbacks {
	return &scalarBroadcastCallbacks{
		value: p.ScalarFor(args.Coord.L),
		frag:  warptile.NewFragment(),
	}
}

type scalarBroadcastCallbacks struct {
	EmptyConsumerStoreCallbacks
	value float32
	frag  warptile.Fragment
}

func (s *scalarBroadcastCallbacks) Begin() {
	for i := range s.frag {
		s.frag[i] = s.value
	}
}

func (s *scalarBroadcastCallbacks) Visit(_ warptile.Fragment, _, _, _ int, _ ...warptile.Fragment) warptile.Fragment {
	return s.frag
}

//
// Row broadcast (per-column vector, e.g. bias)
//

// RowBroadcastOp yields vector[col] in every row: a length-N vector staged
// through shared memory by the producer warp group, one subtile-width slot
// per pipeline stage. BatchStride is the element stride between per-group
// vectors; zero reuses one vector for all groups.
type RowBroadcastOp struct {
	Tensor      warptile.DevicePtr
	DType       warptile.DType
	BatchStride int
}

// RowBroadcast returns a per-column broadcast leaf.
func RowBroadcast(t warptile.DevicePtr, dt warptile.DType) *RowBroadcastOp {
	return &RowBroadcastOp{Tensor: t, DType: dt}
}

func (r *RowBroadcastOp) CanImplement(ps warptile.ProblemShape) bool {
	if r.Tensor.IsNil() {
		return false
	}
	need := ps.N
	if r.BatchStride > 0 {
		need = (ps.Batches()-1)*r.BatchStride + ps.N
	}
	return r.Tensor.Size() >= need*r.DType.Size()
}

func (*RowBroadcastOp) WorkspaceSize(warptile.ProblemShape) int { return 0 }
func (*RowBroadcastOp) InitializeWorkspace(warptile.ProblemShape, []byte) error {
	return nil
}

func (r *RowBroadcastOp) ToUnderlyingArguments(warptile.ProblemShape, []byte) (Params, error) {
	return &rowBroadcastParams{tensor: r.Tensor, dtype: r.DType, batchStride: r.BatchStride}, nil
}

type rowBroadcastParams struct {
	tensor      warptile.DevicePtr
	dtype       warptile.DType
	batchStride int
}

func (*rowBroadcastParams) IsProducerLoadNeeded() bool { return true }
func (*rowBroadcastParams) IsCLoadNeeded(warptile.TileCoord) bool { return false }

func (*rowBroadcastParams) SharedStorageSize(et warptile.EpilogueTile) int {
	return warptile.EpilogueStageCount * et.N
}

func (p *rowBroadcastParams) ProducerLoadCallbacks(args *ProducerLoadArgs) ProducerLoadCallbacks {
	return &rowBroadcastProducer{
		params: p,
		args:   args,
		smem:   args.Smem.Take(warptile.EpilogueStageCount * args.EpiTile.N),
	}
}

type rowBroadcastProducer struct {
	EmptyProducerLoadCallbacks
	params *rowBroadcastParams
	args   *ProducerLoadArgs
	smem   []float32
}

func (r *rowBroadcastProducer) Step(full *warptile.TxBarrier, epiM, epiN, loadIteration int, issueLoad bool) {
	if !issueLoad {
		return
	}
	p, a := r.params, &r.args.TileArgs
	_, n0 := a.SubtileOrigin(epiM, epiN)
	_, rn := a.SubtileResidue(epiM, epiN)
	base := a.Coord.L * p.batchStride
	slot := r.smem[(loadIteration%warptile.EpilogueStageCount)*a.EpiTile.N:]

	full.ExpectTx(rn * p.dtype.Size())
	for j := 0; j < rn; j++ {
		slot[j] = p.dtype.Load(p.tensor, base+n0+j)
	}
	full.CompleteTx(rn * p.dtype.Size())
}

func (p *rowBroadcastParams) ConsumerStoreCallbacks(args *ConsumerStoreArgs) ConsumerStoreCallbacks {
	return &rowBroadcastConsumer{
		args: args,
		smem: args.Smem.Take(warptile.EpilogueStageCount * args.EpiTile.N),
		frag: warptile.NewFragment(),
	}
}

type rowBroadcastConsumer struct {
	EmptyConsumerStoreCallbacks
	args *ConsumerStoreArgs
	smem []float32
	slot []float32
	frag warptile.Fragment
}

func (r *rowBroadcastConsumer) Previsit(_, _, loadIteration int, _ bool) {
	et := r.args.EpiTile
	r.slot = r.smem[(loadIteration%warptile.EpilogueStageCount)*et.N:]
}

func (r *rowBroadcastConsumer) Visit(_ warptile.Fragment, epiV, _, _ int, _ ...warptile.Fragment) warptile.Fragment {
	et := r.args.EpiTile
	for lane := range r.frag {
		_, c := warptile.FragCoord(et, epiV, lane)
		r.frag[lane] = r.slot[c]
	}
	return r.frag
}

//
// Column broadcast (per-row vector)
//

// ColBroadcastOp yields vector[row] in every column: a length-M vector
// staged like RowBroadcastOp but indexed by the subtile's row extent.
type ColBroadcastOp struct {
	Tensor      warptile.DevicePtr
	DType       warptile.DType
	BatchStride int
}

// ColBroadcast returns a per-row broadcast leaf.
func ColBroadcast(t warptile.DevicePtr, dt warptile.DType) *ColBroadcastOp {
	return &ColBroadcastOp{Tensor: t, DType: dt}
}

func (c *ColBroadcastOp) CanImplement(ps warptile.ProblemShape) bool {
	if c.Tensor.IsNil() {
		return false
	}
	need := ps.M
	if c.BatchStride > 0 {
		need = (ps.Batches()-1)*c.BatchStride + ps.M
	}
	return c.Tensor.Size() >= need*c.DType.Size()
}

func (*ColBroadcastOp) WorkspaceSize(warptile.ProblemShape) int { return 0 }
func (*ColBroadcastOp) InitializeWorkspace(warptile.ProblemShape, []byte) error {
	return nil
}

func (c *ColBroadcastOp) ToUnderlyingArguments(warptile.ProblemShape, []byte) (Params, error) {
	return &colBroadcastParams{tensor: c.Tensor, dtype: c.DType, batchStride: c.BatchStride}, nil
}

type colBroadcastParams struct {
	tensor      warptile.DevicePtr
	dtype       warptile.DType
	batchStride int
}

func (*colBroadcastParams) IsProducerLoadNeeded() bool { return true }
func (*colBroadcastParams) IsCLoadNeeded(warptile.TileCoord) bool { return false }

func (*colBroadcastParams) SharedStorageSize(et warptile.EpilogueTile) int {
	return warptile.EpilogueStageCount * et.M
}

func (p *colBroadcastParams) ProducerLoadCallbacks(args *ProducerLoadArgs) ProducerLoadCallbacks {
	return &colBroadcastProducer{
		params: p,
		args:   args,
		smem:   args.Smem.Take(warptile.EpilogueStageCount * args.EpiTile.M),
	}
}

type colBroadcastProducer struct {
	EmptyProducerLoadCallbacks
	params *colBroadcastParams
	args   *ProducerLoadArgs
	smem   []float32
}

func (c *colBroadcastProducer) Step(full *warptile.TxBarrier, epiM, epiN, loadIteration int, issueLoad bool) {
	if !issueLoad {
		return
	}
	p, a := c.params, &c.args.TileArgs
	m0, _ := a.SubtileOrigin(epiM, epiN)
	rm, _ := a.SubtileResidue(epiM, epiN)
	base := a.Coord.L * p.batchStride
	slot := c.smem[(loadIteration%warptile.EpilogueStageCount)*a.EpiTile.M:]

	full.ExpectTx(rm * p.dtype.Size())
	for i := 0; i < rm; i++ {
		slot[i] = p.dtype.Load(p.tensor, base+m0+i)
	}
	full.CompleteTx(rm * p.dtype.Size())
}

func (p *colBroadcastParams) ConsumerStoreCallbacks(args *ConsumerStoreArgs) ConsumerStoreCallbacks {
	return &colBroadcastConsumer{
		args: args,
		smem: args.Smem.Take(warptile.EpilogueStageCount * args.EpiTile.M),
		frag: warptile.NewFragment(),
	}
}

type colBroadcastConsumer struct {
	EmptyConsumerStoreCallbacks
	args *ConsumerStoreArgs
	smem []float32
	slot []float32
	frag warptile.Fragment
}

func (c *colBroadcastConsumer) Previsit(_, _, loadIteration int, _ bool) {
	et := c.args.EpiTile
	c.slot = c.smem[(loadIteration%warptile.EpilogueStageCount)*et.M:]
}

func (c *colBroadcastConsumer) Visit(_ warptile.Fragment, epiV, _, _ int, _ ...warptile.Fragment) warptile.Fragment {
	et := c.args.EpiTile
	for lane := range c.frag {
		r, _ := warptile.FragCoord(et, epiV, lane)
		c.frag[lane] = c.slot[r]
	}
	return c.frag
}
