// Package fusion implements the epilogue visitor tree: a composable node
// graph applying elementwise and reduction post-processing to accumulator
// fragments between the mainloop and the output store.
//
// A fusion operation is described host-side by an Op, whose fields are the
// user-facing Arguments. ToUnderlyingArguments resolves an Op against the
// problem shape and a caller-owned workspace buffer into device-ready
// Params. Composite ops partition the workspace between their children by
// cumulative alignment-rounded offsets, in declared child order; the same
// walk is reproduced by WorkspaceSize and InitializeWorkspace, so the three
// must never disagree on ordering.
//
// At kernel runtime, Params build per-tile callback objects for the two
// warp-group roles: producer load callbacks issue bulk copies of auxiliary
// operands into shared-memory staging and arm the stage barrier with the
// expected transaction count; consumer store callbacks visit accumulator
// fragments, perform reductions, and issue auxiliary bulk stores.
package fusion

import (
	"github.com/warptile/warptile"
)

// Op is the host-side descriptor of one fusion-tree node. The Op value
// itself carries the node's user-facing arguments (pointers, scalars,
// per-group coefficient arrays); resolving it yields the device-side Params.
//
// Callers must check CanImplement before ToUnderlyingArguments: resolution
// against an infeasible configuration produces an unusable Params rather
// than an error, matching the launch-time hot path's no-validation policy.
type Op interface {
	// CanImplement reports whether the node's arguments are feasible for
	// the problem shape (alignment, dtype, pointer-null constraints).
	CanImplement(ps warptile.ProblemShape) bool

	// WorkspaceSize returns this node's own workspace requirement in
	// bytes, before alignment rounding by the enclosing composite.
	WorkspaceSize(ps warptile.ProblemShape) int

	// InitializeWorkspace performs device-side initialization of the
	// node's workspace region (e.g. zeroing reduction buffers).
	InitializeWorkspace(ps warptile.ProblemShape, workspace []byte) error

	// ToUnderlyingArguments resolves the host arguments into device-ready
	// params bound to the given workspace region.
	ToUnderlyingArguments(ps warptile.ProblemShape, workspace []byte) (Params, error)
}

// Params is the device-resident, fully resolved form of an Op, embedded
// into kernel launch parameters.
type Params interface {
	// IsProducerLoadNeeded reports whether any node requires a bulk load
	// during the producer phase. The result must be invariant across all
	// tiles of one launch: it gates whether the load warp-group
	// participates at all.
	IsProducerLoadNeeded() bool

	// IsCLoadNeeded reports whether the pre-existing output tensor C must
	// be loaded for this specific tile. Unlike IsProducerLoadNeeded it
	// may vary per tile (e.g. per-group beta), gating only the per-tile
	// load.
	IsCLoadNeeded(tile warptile.TileCoord) bool

	// SharedStorageSize returns the node's shared-memory staging
	// requirement in float32 elements for the given epilogue subtile.
	SharedStorageSize(et warptile.EpilogueTile) int

	// ProducerLoadCallbacks builds the per-tile producer callback object.
	ProducerLoadCallbacks(args *ProducerLoadArgs) ProducerLoadCallbacks

	// ConsumerStoreCallbacks builds the per-tile consumer callback object.
	ConsumerStoreCallbacks(args *ConsumerStoreArgs) ConsumerStoreCallbacks
}

// TileArgs carries the per-tile geometry shared by both callback factories.
type TileArgs struct {
	Problem  warptile.ProblemShape
	Tile     warptile.TileShape
	Coord    warptile.TileCoord
	EpiTile  warptile.EpilogueTile
	ResidueM int
	ResidueN int

	// ThreadIdx identifies the calling thread within its warp group. The
	// CPU model runs one thread per warp group, so it is always zero, but
	// nodes distribute work by it as the hardware layout would.
	ThreadIdx int
}

// SubtileOrigin returns the global (row, col) of subtile (epiM, epiN).
func (a *TileArgs) SubtileOrigin(epiM, epiN int) (m0, n0 int) {
	return a.Coord.M*a.Tile.M + epiM*a.EpiTile.M,
		a.Coord.N*a.Tile.N + epiN*a.EpiTile.N
}

// SubtileResidue returns the valid extents of subtile (epiM, epiN), clamped
// by the tile residue.
func (a *TileArgs) SubtileResidue(epiM, epiN int) (rm, rn int) {
	rm = min(a.EpiTile.M, a.ResidueM-epiM*a.EpiTile.M)
	rn = min(a.EpiTile.N, a.ResidueN-epiN*a.EpiTile.N)
	return rm, rn
}

// TileContext is the mutable per-tile state the collective shares with
// consumer callbacks. CurrentC holds the staged C subtile for the iteration
// being visited; the collective points it at the live pipeline stage before
// Previsit and it must not be retained past EndLoop.
type TileContext struct {
	CurrentC []float32
}

// ProducerLoadArgs parameterizes producer callback construction for one tile.
type ProducerLoadArgs struct {
	TileArgs

	// Smem partitions the node's share of the cluster staging buffer.
	// Composites carve one region per child, in declaration order and
	// sized by SharedStorageSize, on both warp-group roles; a node's
	// producer and consumer views of its region therefore coincide.
	Smem *warptile.SharedArena
}

// ConsumerStoreArgs parameterizes consumer callback construction for one tile.
type ConsumerStoreArgs struct {
	TileArgs

	Smem *warptile.SharedArena
	Ctx  *TileContext

	// ReferenceSrc selects whether partitioned fragments reference the
	// source or destination layout of the tiled copy. The CPU model's
	// source and destination subtile layouts coincide, so it only
	// influences which staged tensor SrcFetch addresses.
	ReferenceSrc bool

	// SyncFn synchronizes the consumer warp group. One goroutine models
	// the group, so it is a no-op hook kept for protocol fidelity.
	SyncFn func()
}

// ProducerLoadCallbacks is the stateful per-tile callback object of the
// load warp-group. Lifecycle per output tile: Begin, one Step per epilogue
// subtile, End. A Step that issues a load must arm the provided barrier with
// the expected transaction count before returning; the commit arrival is the
// enclosing collective's responsibility, never the callback's.
type ProducerLoadCallbacks interface {
	Begin()
	Step(full *warptile.TxBarrier, epiM, epiN, loadIteration int, issueLoad bool)
	End()
}

// ConsumerStoreCallbacks is the stateful per-tile callback object of the
// compute/store warp-group. Lifecycle per output tile:
//
//	Begin, BeginSyncNeeded, then per subtile:
//	BeginLoop, Previsit, Visit (once per epilogue vector), Reduce,
//	Postreduce, TMAStore, EndLoop; finally End.
//
// Visit returns the node's output fragment for one epilogue vector; the
// returned fragment is only valid until the next Visit on the same
// callbacks. TMAStore must issue only bulk-copy stores; all other global
// stores belong in Reduce or Postreduce.
type ConsumerStoreCallbacks interface {
	Begin()
	BeginSyncNeeded() bool
	BeginLoop(epiM, epiN int)
	Previsit(epiM, epiN, loadIteration int, producerLoadNeeded bool)
	Visit(acc warptile.Fragment, epiV, epiM, epiN int, inputs ...warptile.Fragment) warptile.Fragment
	Reduce(buf []float32, syncFn func(), epiM, epiN int, lastIteration bool, results []warptile.Fragment)
	Postreduce(epiM, epiN, storeIteration int, issueStore bool)
	TMAStore(epiM, epiN, storeIteration int, issueStore bool)
	EndLoop(epiM, epiN int)
	End()
}

// EmptyProducerLoadCallbacks is the no-op producer implementation most nodes
// embed; only nodes performing bulk loads redefine Step.
type EmptyProducerLoadCallbacks struct{}

func (EmptyProducerLoadCallbacks) Begin() {}
func (EmptyProducerLoadCallbacks) Step(*warptile.TxBarrier, int, int, int, bool) {
}
func (EmptyProducerLoadCallbacks) End() {}

// EmptyConsumerStoreCallbacks provides no-op defaults for every consumer
// entry point except Visit, which each node must define itself.
type EmptyConsumerStoreCallbacks struct{}

func (EmptyConsumerStoreCallbacks) Begin() {}
func (EmptyConsumerStoreCallbacks) BeginSyncNeeded() bool { return false }
func (EmptyConsumerStoreCallbacks) BeginLoop(int, int) {}
func (EmptyConsumerStoreCallbacks) Previsit(int, int, int, bool) {
}
func (EmptyConsumerStoreCallbacks) Reduce([]float32, func(), int, int, bool, []warptile.Fragment) {
}
func (EmptyConsumerStoreCallbacks) Postreduce(int, int, int, bool) {}
func (EmptyConsumerStoreCallbacks) TMAStore(int, int, int, bool) {}
func (EmptyConsumerStoreCallbacks) EndLoop(int, int) {}
func (EmptyConsumerStoreCallbacks) End() {}

//
// Aggregation over child nodes. Composite visitors share the host-side
// workspace walk and the runtime fan-out; only Visit differs per variant.
//

func implCanImplement(ps warptile.ProblemShape, ops []Op) bool {
	ok := true
	for _, op := range ops {
		ok = ok && op.CanImplement(ps)
	}
	return ok
}

func implWorkspaceSize(ps warptile.ProblemShape, ops []Op) int {
	size := 0
	for _, op := range ops {
		size += warptile.AlignUp(op.WorkspaceSize(ps))
	}
	return size
}

// implInitializeWorkspace initializes each child's region in declared order,
// halting at the first failure. No rollback is attempted: the caller owns
// the whole buffer and frees it atomically.
func implInitializeWorkspace(ps warptile.ProblemShape, ops []Op, workspace []byte) error {
	arena := warptile.NewArena(workspace)
	for _, op := range ops {
		region := arena.Take(op.WorkspaceSize(ps))
		if err := op.InitializeWorkspace(ps, region); err != nil {
			return err
		}
	}
	return nil
}

func implResolve(ps warptile.ProblemShape, ops []Op, workspace []byte) ([]Params, error) {
	arena := warptile.NewArena(workspace)
	params := make([]Params, len(ops))
	for i, op := range ops {
		region := arena.Take(op.WorkspaceSize(ps))
		p, err := op.ToUnderlyingArguments(ps, region)
		if err != nil {
			return nil, err
		}
		params[i] = p
	}
	return params, nil
}

// paramsImpl aggregates resolved children. Queries reduce across children:
// producer-load participation is an OR that must stay launch-invariant,
// C-load need is a per-tile OR.
type paramsImpl struct {
	children []Params
}

func (p *paramsImpl) IsProducerLoadNeeded() bool {
	for _, c := range p.children {
		if c.IsProducerLoadNeeded() {
			return true
		}
	}
	return false
}

func (p *paramsImpl) IsCLoadNeeded(tile warptile.TileCoord) bool {
	for _, c := range p.children {
		if c.IsCLoadNeeded(tile) {
			return true
		}
	}
	return false
}

func (p *paramsImpl) SharedStorageSize(et warptile.EpilogueTile) int {
	size := 0
	for _, c := range p.children {
		n := c.SharedStorageSize(et)
		size += (n + warptile.SharedAlignment - 1) &^ (warptile.SharedAlignment - 1)
	}
	return size
}

// producerCallbacks carves one staging region per child from the arena, in
// declared order and sized by the child's SharedStorageSize. The consumer
// walk carves identically, so a child sees the same region from both roles
// even when it stages on only one of them.
func (p *paramsImpl) producerCallbacks(args *ProducerLoadArgs) []ProducerLoadCallbacks {
	cbs := make([]ProducerLoadCallbacks, len(p.children))
	for i, c := range p.children {
		childArgs := *args
		childArgs.Smem = warptile.NewSharedArena(args.Smem.Take(c.SharedStorageSize(args.EpiTile)))
		cbs[i] = c.ProducerLoadCallbacks(&childArgs)
	}
	return cbs
}

func (p *paramsImpl) consumerCallbacks(args *ConsumerStoreArgs) []ConsumerStoreCallbacks {
	cbs := make([]ConsumerStoreCallbacks, len(p.children))
	for i, c := range p.children {
		childArgs := *args
		childArgs.Smem = warptile.NewSharedArena(args.Smem.Take(c.SharedStorageSize(args.EpiTile)))
		cbs[i] = c.ConsumerStoreCallbacks(&childArgs)
	}
	return cbs
}

// producerFanout broadcasts each producer entry point to every child.
type producerFanout struct {
	cbs []ProducerLoadCallbacks
}

func (f *producerFanout) Begin() {
	for _, cb := range f.cbs {
		cb.Begin()
	}
}

func (f *producerFanout) Step(full *warptile.TxBarrier, epiM, epiN, loadIteration int, issueLoad bool) {
	for _, cb := range f.cbs {
		cb.Step(full, epiM, epiN, loadIteration, issueLoad)
	}
}

func (f *producerFanout) End() {
	for _, cb := range f.cbs {
		cb.End()
	}
}

// consumerFanout broadcasts every consumer entry point except Visit, which
// the composition variants define over it.
type consumerFanout struct {
	cbs []ConsumerStoreCallbacks
}

func (f *consumerFanout) Begin() {
	for _, cb := range f.cbs {
		cb.Begin()
	}
}

func (f *consumerFanout) BeginSyncNeeded() bool {
	needed := false
	for _, cb := range f.cbs {
		needed = needed || cb.BeginSyncNeeded()
	}
	return needed
}

func (f *consumerFanout) BeginLoop(epiM, epiN int) {
	for _, cb := range f.cbs {
		cb.BeginLoop(epiM, epiN)
	}
}

func (f *consumerFanout) Previsit(epiM, epiN, loadIteration int, producerLoadNeeded bool) {
	for _, cb := range f.cbs {
		cb.Previsit(epiM, epiN, loadIteration, producerLoadNeeded)
	}
}

func (f *consumerFanout) Reduce(buf []float32, syncFn func(), epiM, epiN int, lastIteration bool, results []warptile.Fragment) {
	for _, cb := range f.cbs {
		cb.Reduce(buf, syncFn, epiM, epiN, lastIteration, results)
	}
}

func (f *consumerFanout) Postreduce(epiM, epiN, storeIteration int, issueStore bool) {
	for _, cb := range f.cbs {
		cb.Postreduce(epiM, epiN, storeIteration, issueStore)
	}
}

func (f *consumerFanout) TMAStore(epiM, epiN, storeIteration int, issueStore bool) {
	for _, cb := range f.cbs {
		cb.TMAStore(epiM, epiN, storeIteration, issueStore)
	}
}

func (f *consumerFanout) EndLoop(epiM, epiN int) {
	for _, cb := range f.cbs {
		cb.EndLoop(epiM, epiN)
	}
}

func (f *consumerFanout) End() {
	for _, cb := range f.cbs {
		cb.End()
	}
}
