package kernel

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/warptile/warptile"
	"github.com/warptile/warptile/fusion"
)

// GroupProblem describes one independent problem of a grouped launch. Each
// group carries its own shape, operand pointers and layouts; its batch count
// must be one, the group index takes the L coordinate's place, and the
// operand layouts' batch strides are ignored.
type GroupProblem struct {
	Problem warptile.ProblemShape

	A, B, C, D warptile.DevicePtr

	LayoutA, LayoutB, LayoutC, LayoutD warptile.Layout

	DTypeA, DTypeB, DTypeC, DTypeD warptile.DType
}

// Arguments is the host-facing kernel configuration. Zero values select
// defaults: packed layouts, float32 operands, the default tile geometry, a
// plain alpha=1/beta=0 linear combination, and heuristic rasterization.
type Arguments struct {
	// Problem is the single (possibly batched) problem. Ignored when
	// Grouped is set.
	Problem warptile.ProblemShape

	A, B, C, D warptile.DevicePtr

	LayoutA, LayoutB, LayoutC, LayoutD warptile.Layout

	DTypeA, DTypeB, DTypeC, DTypeD warptile.DType

	// Grouped switches to grouped dispatch: every entry is an independent
	// problem scheduled through one launch.
	Grouped []GroupProblem

	// Fusion is the epilogue tree. Nil selects D = acc.
	Fusion fusion.Op

	Tile    warptile.TileShape
	EpiTile warptile.EpilogueTile
	Cluster warptile.ClusterShape
	Raster  RasterOrder

	// SplitK partitions the reduction dimension across that many slices
	// per output tile. Values below two disable splitting.
	SplitK int

	// Stages overrides the mainloop pipeline depth.
	Stages int
}

// Adapter resolves Arguments into a launchable kernel. The usual sequence is
// NewAdapter, WorkspaceSize, Initialize, Run; Initialize must be repeated
// before every Run that reuses a workspace, since reduction buffers are
// zero-filled there.
type Adapter struct {
	tile     warptile.TileShape
	epi      warptile.EpilogueTile
	cluster  warptile.ClusterShape
	raster   RasterOrder
	splitK   int
	stages   int
	fusionOp fusion.Op

	groups   []groupOperands
	problems []warptile.ProblemShape
	envelope warptile.ProblemShape

	params      fusion.Params
	splitKWS    []byte
	initialized bool
}

// NewAdapter normalizes and captures args. Geometry defaults are filled in;
// structural validation is deferred to CanImplement.
func NewAdapter(args Arguments) (*Adapter, error) {
	ad := &Adapter{
		tile:     args.Tile,
		epi:      args.EpiTile,
		cluster:  args.Cluster,
		raster:   args.Raster,
		splitK:   args.SplitK,
		stages:   args.Stages,
		fusionOp: args.Fusion,
	}
	if ad.tile == (warptile.TileShape{}) {
		ad.tile = warptile.DefaultTileShape()
	}
	if ad.epi == (warptile.EpilogueTile{}) {
		ad.epi = warptile.DefaultEpilogueTile()
	}
	if ad.cluster == (warptile.ClusterShape{}) {
		ad.cluster = warptile.ClusterShape{M: 2, N: 1}
	}
	if ad.splitK < 1 {
		ad.splitK = 1
	}
	if ad.stages <= 0 {
		ad.stages = warptile.DefaultStageCount
	}
	if ad.fusionOp == nil {
		ad.fusionOp = fusion.LinearCombination(1, 0)
	}

	if len(args.Grouped) > 0 {
		for _, g := range args.Grouped {
			if g.Problem.Batches() != 1 {
				return nil, warptile.NewConfigError("kernel.NewAdapter",
					"grouped problems must have a batch count of one")
			}
			ad.problems = append(ad.problems, g.Problem)
			ops := resolveOperands(
				g.Problem, g.A, g.B, g.C, g.D,
				g.LayoutA, g.LayoutB, g.LayoutC, g.LayoutD,
				g.DTypeA, g.DTypeB, g.DTypeC, g.DTypeD)
			// Group tensors hold a single batch while the L coordinate
			// carries the group index, so it must not advance operand
			// addressing.
			ops.a.layout.BatchStride = 0
			ops.b.layout.BatchStride = 0
			ops.c.layout.BatchStride = 0
			ops.d.layout.BatchStride = 0
			ad.groups = append(ad.groups, ops)
			if ad.envelope.M < g.Problem.M {
				ad.envelope.M = g.Problem.M
			}
			if ad.envelope.N < g.Problem.N {
				ad.envelope.N = g.Problem.N
			}
			if ad.envelope.K < g.Problem.K {
				ad.envelope.K = g.Problem.K
			}
		}
		ad.envelope.L = len(args.Grouped)
	} else {
		ad.problems = []warptile.ProblemShape{args.Problem}
		ad.groups = []groupOperands{resolveOperands(
			args.Problem, args.A, args.B, args.C, args.D,
			args.LayoutA, args.LayoutB, args.LayoutC, args.LayoutD,
			args.DTypeA, args.DTypeB, args.DTypeC, args.DTypeD)}
		ad.envelope = args.Problem
	}
	return ad, nil
}

func resolveOperands(ps warptile.ProblemShape, a, b, c, d warptile.DevicePtr,
	la, lb, lc, ld warptile.Layout, dta, dtb, dtc, dtd warptile.DType) groupOperands {
	if la == (warptile.Layout{}) {
		la = warptile.LayoutFor(ps.M, ps.K)
	}
	if lb == (warptile.Layout{}) {
		lb = warptile.LayoutFor(ps.K, ps.N)
	}
	if lc == (warptile.Layout{}) {
		lc = warptile.LayoutFor(ps.M, ps.N)
	}
	if ld == (warptile.Layout{}) {
		ld = warptile.LayoutFor(ps.M, ps.N)
	}
	return groupOperands{
		a: operand{ptr: a, layout: la, dtype: dta},
		b: operand{ptr: b, layout: lb, dtype: dtb},
		c: operand{ptr: c, layout: lc, dtype: dtc},
		d: operand{ptr: d, layout: ld, dtype: dtd},
	}
}

// tiles returns the output tile count across all groups, excluding slices.
func (ad *Adapter) tiles() int {
	total := 0
	for _, ps := range ad.problems {
		total += ad.tile.TilesM(ps) * ad.tile.TilesN(ps) * ps.Batches()
	}
	return total
}

// CanImplement reports whether the captured configuration is feasible:
// valid shapes and layouts, tile geometry divisible into epilogue subtiles,
// a staging footprint within the shared memory budget, and a fusion tree
// whose every node accepts the problem envelope.
func (ad *Adapter) CanImplement() bool {
	if ad.tile.M <= 0 || ad.tile.N <= 0 || ad.tile.K <= 0 {
		return false
	}
	if ad.tile.M%ad.epi.M != 0 || ad.tile.N%ad.epi.N != 0 {
		return false
	}
	if ad.epi.Elems()%warptile.FragmentSize != 0 {
		return false
	}
	if !ad.cluster.Valid() {
		return false
	}
	for i, ps := range ad.problems {
		if !ps.Valid() {
			return false
		}
		ops := &ad.groups[i]
		if ops.a.ptr.IsNil() || ops.b.ptr.IsNil() || ops.d.ptr.IsNil() {
			return false
		}
		if !ops.a.layout.Valid() || !ops.b.layout.Valid() ||
			!ops.c.layout.Valid() || !ops.d.layout.Valid() {
			return false
		}
	}
	smem := ad.stages*(ad.tile.M*ad.tile.K+ad.tile.K*ad.tile.N) +
		warptile.EpilogueStageCount*ad.epi.Elems()
	if smem*4 > warptile.SharedMemoryBudget {
		return false
	}
	return ad.fusionOp.CanImplement(ad.envelope)
}

// WorkspaceSize returns the bytes of device workspace one launch needs: the
// fusion tree's requirement plus, under reduction splitting, the partial
// accumulator blocks and arrival counters.
func (ad *Adapter) WorkspaceSize() int {
	size := warptile.AlignUp(ad.fusionOp.WorkspaceSize(ad.envelope))
	if ad.splitK > 1 {
		size += splitKSize(ad.tiles(), ad.tile.M*ad.tile.N)
	}
	return size
}

// Initialize binds and initializes the workspace, resolving the fusion tree
// into device-ready params. Initialization is fail-fast: the first node
// error aborts with no rollback, and the caller frees the workspace whole.
func (ad *Adapter) Initialize(ws warptile.DevicePtr) error {
	need := ad.WorkspaceSize()
	if need > 0 && ws.Size() < need {
		return warptile.NewWorkspaceError("kernel.Initialize",
			"workspace smaller than required size", warptile.ErrWorkspaceTooSmall)
	}

	var buf []byte
	if need > 0 {
		buf = ws.Byte()
	}
	arena := warptile.NewArena(buf)
	fusionSize := ad.fusionOp.WorkspaceSize(ad.envelope)
	fusionRegion := arena.Take(fusionSize)
	if ad.splitK > 1 {
		ad.splitKWS = arena.Take(splitKSize(ad.tiles(), ad.tile.M*ad.tile.N))
	}

	if err := ad.fusionOp.InitializeWorkspace(ad.envelope, fusionRegion); err != nil {
		return errors.Wrap(err, "initializing fusion workspace")
	}
	params, err := ad.fusionOp.ToUnderlyingArguments(ad.envelope, fusionRegion)
	if err != nil {
		return errors.Wrap(err, "resolving fusion arguments")
	}
	ad.params = params

	smem := ad.stages*(ad.tile.M*ad.tile.K+ad.tile.K*ad.tile.N) +
		warptile.EpilogueStageCount*ad.epi.Elems() +
		params.SharedStorageSize(ad.epi)
	if smem*4 > warptile.SharedMemoryBudget {
		return warptile.NewConfigError("kernel.Initialize",
			"staging footprint exceeds the shared memory budget")
	}
	for l, ops := range ad.groups {
		if ops.c.ptr.IsNil() && params.IsCLoadNeeded(warptile.TileCoord{L: l}) {
			return warptile.NewConfigError("kernel.Initialize",
				"fusion tree reads C but no C tensor was provided")
		}
	}

	ad.initialized = true
	return nil
}

// Run executes the kernel and blocks until every tile has been stored.
func (ad *Adapter) Run() error {
	if !ad.CanImplement() {
		return errors.Wrap(warptile.ErrNotImplementable, "kernel.Run")
	}
	if !ad.initialized {
		if ad.WorkspaceSize() > 0 {
			return warptile.NewLaunchError("kernel.Run",
				"adapter not initialized; call Initialize with a workspace first")
		}
		if err := ad.Initialize(warptile.DevicePtr{}); err != nil {
			return err
		}
	}

	sched := NewTileScheduler(ad.problems, ad.tile, ad.raster, ad.splitK)
	ls := &launchState{
		sched:        sched,
		ml:           NewMainloop(ad.tile),
		ep:           NewEpilogue(ad.tile, ad.epi, ad.params),
		params:       ad.params,
		ops:          ad.groups,
		producerLoad: ad.params.IsProducerLoadNeeded(),
		stages:       ad.stages,
		clusters:     ad.cluster.Count(),
	}
	if ad.splitK > 1 {
		ls.splitK = newSplitKState(ad.splitKWS, ad.tiles(), ad.tile.M*ad.tile.N, ad.splitK)
	}

	klog.V(2).Infof("launching %d cluster(s): %d tile(s), split_k=%d, raster=%s, producer_load=%v",
		ls.clusters, sched.Tiles(), ad.splitK, ad.raster, ls.producerLoad)
	ls.run()

	// Reusing the workspace requires re-zeroing reduction state.
	ad.initialized = false
	return nil
}
