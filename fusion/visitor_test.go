package fusion_test

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/warptile/warptile"
	"github.com/warptile/warptile/fusion"
)

// fakeOp records how the composition walk treats one child: the workspace
// region it was resolved against and the order initialization reached it.
type fakeOp struct {
	wsSize     int
	sharedSize int
	canImpl    bool
	producer   bool
	cLoad      bool
	initErr    error

	initLog *[]int
	id      int
	region  []byte
}

func newFakeOp(id, wsSize int, log *[]int) *fakeOp {
	return &fakeOp{id: id, wsSize: wsSize, canImpl: true, initLog: log}
}

func (f *fakeOp) CanImplement(warptile.ProblemShape) bool { return f.canImpl }
func (f *fakeOp) WorkspaceSize(warptile.ProblemShape) int { return f.wsSize }

func (f *fakeOp) InitializeWorkspace(_ warptile.ProblemShape, workspace []byte) error {
	if f.initLog != nil {
		*f.initLog = append(*f.initLog, f.id)
	}
	if f.initErr != nil {
		return f.initErr
	}
	for i := range workspace {
		workspace[i] = byte(f.id)
	}
	return nil
}

func (f *fakeOp) ToUnderlyingArguments(_ warptile.ProblemShape, workspace []byte) (fusion.Params, error) {
	f.region = workspace
	return &fakeParams{op: f}, nil
}

type fakeParams struct {
	op *fakeOp
}

func (p *fakeParams) IsProducerLoadNeeded() bool { return p.op.producer }
func (p *fakeParams) IsCLoadNeeded(warptile.TileCoord) bool { return p.op.cLoad }
func (p *fakeParams) SharedStorageSize(warptile.EpilogueTile) int {
	return p.op.sharedSize
}

func (p *fakeParams) ProducerLoadCallbacks(*fusion.ProducerLoadArgs) fusion.ProducerLoadCallbacks {
	return fusion.EmptyProducerLoadCallbacks{}
}

func (p *fakeParams) ConsumerStoreCallbacks(*fusion.ConsumerStoreArgs) fusion.ConsumerStoreCallbacks {
	return passthrough{}
}

type passthrough struct {
	fusion.EmptyConsumerStoreCallbacks
}

func (passthrough) Visit(acc warptile.Fragment, _, _, _ int, _ ...warptile.Fragment) warptile.Fragment {
	return acc
}

var testShape = warptile.ProblemShape{M: 64, N: 64, K: 64, L: 2}

// compositions builds one instance of every composition strategy over the
// given child ops, the last op serving as node/output.
func compositions(ops []*fakeOp) map[string]fusion.Op {
	asOps := make([]fusion.Op, len(ops))
	for i, op := range ops {
		asOps[i] = op
	}
	n := len(asOps)

	out := map[string]fusion.Op{
		"tree": fusion.Tree(asOps[n-1], asOps[:n-1]...),
	}
	if n >= 2 {
		out["split"] = fusion.SplitTree(asOps[0], asOps[n-1], asOps[1:n-1]...)

		edges := make([][]int, n)
		for i := range edges {
			if i > 0 {
				edges[i] = []int{i - 1}
			}
		}
		out["topo"] = fusion.Topological(warptile.Float32, edges, asOps...)
	}
	return out
}

func TestWorkspacePartitionExactBuffer(t *testing.T) {
	for _, arity := range []int{1, 2, 3, 4, 9} {
		t.Run(fmt.Sprintf("arity%d", arity), func(t *testing.T) {
			sizes := []int{0, 3, 17, 64, 1, 100, 5, 16, 33}

			for name := range compositions(makeFakes(arity, sizes, nil)) {
				t.Run(name, func(t *testing.T) {
					fakes := makeFakes(arity, sizes, nil)
					op := compositions(fakes)[name]

					ws := op.WorkspaceSize(testShape)
					buf := make([]byte, ws)
					require.NoError(t, op.InitializeWorkspace(testShape, buf))
					_, err := op.ToUnderlyingArguments(testShape, buf)
					require.NoError(t, err)

					checkRegions(t, fakes, buf)
				})
			}
		})
	}
}

func makeFakes(n int, sizes []int, log *[]int) []*fakeOp {
	fakes := make([]*fakeOp, n)
	for i := range fakes {
		fakes[i] = newFakeOp(i+1, sizes[i%len(sizes)], log)
	}
	return fakes
}

// checkRegions verifies each child's resolved region sits inside buf, holds
// exactly the child's declared size, and overlaps no sibling's region.
// Initialization already filled every region with the owner's id, so a
// surviving fill proves disjointness.
func checkRegions(t *testing.T, fakes []*fakeOp, buf []byte) {
	t.Helper()
	for _, f := range fakes {
		require.Len(t, f.region, f.wsSize, "op %d region size", f.id)
		for i, b := range f.region {
			require.Equal(t, byte(f.id), b,
				"op %d region byte %d clobbered by another region", f.id, i)
		}
	}
}

func TestWorkspaceResolutionDeterministic(t *testing.T) {
	sizes := []int{8, 0, 40}
	fakes := makeFakes(3, sizes, nil)
	op := fusion.Tree(fakes[2], fakes[0], fakes[1])

	buf := make([]byte, op.WorkspaceSize(testShape))
	_, err := op.ToUnderlyingArguments(testShape, buf)
	require.NoError(t, err)
	first := make([][]byte, len(fakes))
	for i, f := range fakes {
		first[i] = f.region
	}

	_, err = op.ToUnderlyingArguments(testShape, buf)
	require.NoError(t, err)
	for i, f := range fakes {
		if len(first[i]) == 0 {
			require.Empty(t, f.region)
			continue
		}
		require.Same(t, &first[i][0], &f.region[0],
			"op %d must resolve to the same region on repeat resolution", fakes[i].id)
	}
}

func TestInitializeWorkspaceFailFast(t *testing.T) {
	var log []int
	fakes := makeFakes(3, []int{16, 16, 16}, &log)
	fakes[1].initErr = errors.New("device buffer poisoned")
	op := fusion.Tree(fakes[2], fakes[0], fakes[1])

	buf := make([]byte, op.WorkspaceSize(testShape))
	err := op.InitializeWorkspace(testShape, buf)
	require.Error(t, err)
	// Declared order is children first, node last; the failure at the
	// second child must leave the node untouched.
	require.Equal(t, []int{1, 2}, log)
}

func TestCanImplementIsANDOfChildren(t *testing.T) {
	fakes := makeFakes(3, []int{0}, nil)
	op := fusion.Tree(fakes[2], fakes[0], fakes[1])
	require.True(t, op.CanImplement(testShape))

	fakes[1].canImpl = false
	require.False(t, op.CanImplement(testShape))
}

func TestProducerLoadNeededIsOR(t *testing.T) {
	fakes := makeFakes(3, []int{0}, nil)
	op := fusion.Tree(fakes[2], fakes[0], fakes[1])

	params, err := op.ToUnderlyingArguments(testShape, nil)
	require.NoError(t, err)
	require.False(t, params.IsProducerLoadNeeded())

	fakes[0].producer = true
	params, err = op.ToUnderlyingArguments(testShape, nil)
	require.NoError(t, err)
	require.True(t, params.IsProducerLoadNeeded())
}

func TestCLoadNeededIsPerTileOR(t *testing.T) {
	fakes := makeFakes(2, []int{0}, nil)
	fakes[0].cLoad = true
	op := fusion.Tree(fakes[1], fakes[0])

	params, err := op.ToUnderlyingArguments(testShape, nil)
	require.NoError(t, err)
	require.True(t, params.IsCLoadNeeded(warptile.TileCoord{}))
}

func TestSharedStorageSizeSumsAligned(t *testing.T) {
	fakes := makeFakes(2, []int{0}, nil)
	fakes[0].sharedSize = 3
	fakes[1].sharedSize = 5
	op := fusion.Tree(fakes[1], fakes[0])

	params, err := op.ToUnderlyingArguments(testShape, nil)
	require.NoError(t, err)

	et := warptile.EpilogueTile{M: 16, N: 16}
	want := alignShared(3) + alignShared(5)
	require.Equal(t, want, params.SharedStorageSize(et))
}

func alignShared(n int) int {
	return (n + warptile.SharedAlignment - 1) &^ (warptile.SharedAlignment - 1)
}
