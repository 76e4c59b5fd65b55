package fusion

import (
	"github.com/warptile/warptile"
)

//
// Row reduction (per-column sums)
//

// RowReduceOp passes its single input through unchanged while summing it
// over all rows, producing one length-N vector per group. Partial sums are
// accumulated per subtile in registers and flushed to the workspace with
// atomic adds, so concurrently executing clusters compose correctly.
//
// The result lives in the fusion workspace; Result reads it back after the
// kernel completes. The workspace region is zero-filled by
// InitializeWorkspace, which therefore must run before every launch that
// reuses a workspace.
type RowReduceOp struct {
	buf []float32
}

// RowReduce returns a per-column sum reduction node.
func RowReduce() *RowReduceOp { return &RowReduceOp{} }

// Result returns the reduced vectors, group-major: element l*N+j is the
// column-j sum of group l. Valid only after the op has been resolved and
// the kernel has completed.
func (r *RowReduceOp) Result() []float32 { return r.buf }

func (*RowReduceOp) CanImplement(warptile.ProblemShape) bool { return true }

func (*RowReduceOp) WorkspaceSize(ps warptile.ProblemShape) int {
	return ps.N * ps.Batches() * 4
}

func (*RowReduceOp) InitializeWorkspace(ps warptile.ProblemShape, workspace []byte) error {
	if len(workspace) < ps.N*ps.Batches()*4 {
		return warptile.ErrWorkspaceTooSmall
	}
	buf := warptile.Float32Slice(workspace)
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

func (r *RowReduceOp) ToUnderlyingArguments(ps warptile.ProblemShape, workspace []byte) (Params, error) {
	if len(workspace) < ps.N*ps.Batches()*4 {
		return nil, warptile.NewWorkspaceError("fusion.RowReduce", "workspace smaller than reduction buffer", warptile.ErrWorkspaceTooSmall)
	}
	r.buf = warptile.Float32Slice(workspace)[:ps.N*ps.Batches()]
	return &rowReduceParams{buf: r.buf, n: ps.N}, nil
}

type rowReduceParams struct {
	buf []float32
	n   int
}

func (*rowReduceParams) IsProducerLoadNeeded() bool { return false }
func (*rowReduceParams) IsCLoadNeeded(warptile.TileCoord) bool { return false }
func (*rowReduceParams) SharedStorageSize(warptile.EpilogueTile) int { return 0 }

func (*rowReduceParams) ProducerLoadCallbacks(*ProducerLoadArgs) ProducerLoadCallbacks {
	return EmptyProducerLoadCallbacks{}
}

func (p *rowReduceParams) ConsumerStoreCallbacks(args *ConsumerStoreArgs) ConsumerStoreCallbacks {
	return &rowReduceConsumer{
		params: p,
		args:   args,
		acc:    make([]float32, args.EpiTile.N),
	}
}

type rowReduceConsumer struct {
	EmptyConsumerStoreCallbacks
	params *rowReduceParams
	args   *ConsumerStoreArgs

	// acc holds the current subtile's per-column partials.
	acc []float32
}

func (r *rowReduceConsumer) BeginLoop(epiM, epiN int) {
	for i := range r.acc {
		r.acc[i] = 0
	}
}

func (r *rowReduceConsumer) Visit(_ warptile.Fragment, epiV, epiM, epiN int, inputs ...warptile.Fragment) warptile.Fragment {
	in := inputs[0]
	a := &r.args.TileArgs
	rm, rn := a.SubtileResidue(epiM, epiN)
	for lane, v := range in {
		ri, ci := warptile.FragCoord(a.EpiTile, epiV, lane)
		if ri < rm && ci < rn {
			r.acc[ci] += v
		}
	}
	return in
}

func (r *rowReduceConsumer) Reduce(_ []float32, _ func(), epiM, epiN int, _ bool, _ []warptile.Fragment) {
	a := &r.args.TileArgs
	_, n0 := a.SubtileOrigin(epiM, epiN)
	_, rn := a.SubtileResidue(epiM, epiN)
	base := a.Coord.L * r.params.n
	for j := 0; j < rn; j++ {
		warptile.AtomicAddFloat32(&r.params.buf[base+n0+j], r.acc[j])
	}
}

//
// Scalar reduction
//

// ReduceKind selects the combining function of a ScalarReduceOp.
type ReduceKind int

const (
	// ReduceSum accumulates the sum of all output elements.
	ReduceSum ReduceKind = iota
	// ReduceAbsMax tracks the largest absolute value, as used for
	// quantization scale estimation.
	ReduceAbsMax
)

// ScalarReduceOp passes its single input through unchanged while reducing
// it to one scalar per group. Like RowReduceOp it flushes per-subtile
// partials atomically into a zero-initialized workspace region.
type ScalarReduceOp struct {
	Kind ReduceKind

	buf []float32
}

// ScalarReduce returns a per-group scalar reduction node.
func ScalarReduce(kind ReduceKind) *ScalarReduceOp {
	return &ScalarReduceOp{Kind: kind}
}

// Result returns the per-group scalars. Valid only after the op has been
// resolved and the kernel has completed.
func (s *ScalarReduceOp) Result() []float32 { return s.buf }

func (*ScalarReduceOp) CanImplement(warptile.ProblemShape) bool { return true }

func (*ScalarReduceOp) WorkspaceSize(ps warptile.ProblemShape) int {
	return ps.Batches() * 4
}

func (*ScalarReduceOp) InitializeWorkspace(ps warptile.ProblemShape, workspace []byte) error {
	if len(workspace) < ps.Batches()*4 {
		return warptile.ErrWorkspaceTooSmall
	}
	buf := warptile.Float32Slice(workspace)
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

func (s *ScalarReduceOp) ToUnderlyingArguments(ps warptile.ProblemShape, workspace []byte) (Params, error) {
	if len(workspace) < ps.Batches()*4 {
		return nil, warptile.NewWorkspaceError("fusion.ScalarReduce", "workspace smaller than reduction buffer", warptile.ErrWorkspaceTooSmall)
	}
	s.buf = warptile.Float32Slice(workspace)[:ps.Batches()]
	return &scalarReduceParams{kind: s.Kind, buf: s.buf}, nil
}

type scalarReduceParams struct {
	kind ReduceKind
	buf  []float32
}

func (*scalarReduceParams) IsProducerLoadNeeded() bool { return false }
func (*scalarReduceParams) IsCLoadNeeded(warptile.TileCoord) bool { return false }
func (*scalarReduceParams) SharedStorageSize(warptile.EpilogueTile) int { return 0 }

func (*scalarReduceParams) ProducerLoadCallbacks(*ProducerLoadArgs) ProducerLoadCallbacks {
	return EmptyProducerLoadCallbacks{}
}

func (p *scalarReduceParams) ConsumerStoreCallbacks(args *ConsumerStoreArgs) ConsumerStoreCallbacks {
	return &scalarReduceConsumer{params: p, args: args}
}

type scalarReduceConsumer struct {
	EmptyConsumerStoreCallbacks
	params *scalarReduceParams
	args   *ConsumerStoreArgs
	acc    float32
}

func (s *scalarReduceConsumer) BeginLoop(epiM, epiN int) { s.acc = 0 }

func (s *scalarReduceConsumer) Visit(_ warptile.Fragment, epiV, epiM, epiN int, inputs ...warptile.Fragment) warptile.Fragment {
	in := inputs[0]
	a := &s.args.TileArgs
	rm, rn := a.SubtileResidue(epiM, epiN)
	for lane, v := range in {
		ri, ci := warptile.FragCoord(a.EpiTile, epiV, lane)
		if ri >= rm || ci >= rn {
			continue
		}
		switch s.params.kind {
		case ReduceAbsMax:
			if v < 0 {
				v = -v
			}
			if v > s.acc {
				s.acc = v
			}
		default:
			s.acc += v
		}
	}
	return in
}

func (s *scalarReduceConsumer) Reduce(_ []float32, _ func(), _, _ int, _ bool, _ []warptile.Fragment) {
	addr := &s.params.buf[s.args.Coord.L]
	switch s.params.kind {
	case ReduceAbsMax:
		warptile.AtomicMaxFloat32(addr, s.acc)
	default:
		warptile.AtomicAddFloat32(addr, s.acc)
	}
}
