package fusion

import (
	"github.com/warptile/warptile"
)

//
// Tree visitor
//

// TreeOp composes child ops whose outputs feed a node op. Children are
// evaluated depth-first before the node; the node's Visit receives their
// output fragments as extra inputs, in declaration order. Child ops must be
// nullary (loads, broadcasts, or trees themselves).
//
// Workspace and shared-storage order is children first, node last.
type TreeOp struct {
	NodeOp   Op
	Children []Op
}

// Tree builds a chain-tree node.
func Tree(node Op, children ...Op) *TreeOp {
	return &TreeOp{NodeOp: node, Children: children}
}

func (t *TreeOp) all() []Op {
	ops := make([]Op, 0, len(t.Children)+1)
	ops = append(ops, t.Children...)
	return append(ops, t.NodeOp)
}

func (t *TreeOp) CanImplement(ps warptile.ProblemShape) bool {
	return implCanImplement(ps, t.all())
}

func (t *TreeOp) WorkspaceSize(ps warptile.ProblemShape) int {
	return implWorkspaceSize(ps, t.all())
}

func (t *TreeOp) InitializeWorkspace(ps warptile.ProblemShape, workspace []byte) error {
	return implInitializeWorkspace(ps, t.all(), workspace)
}

func (t *TreeOp) ToUnderlyingArguments(ps warptile.ProblemShape, workspace []byte) (Params, error) {
	children, err := implResolve(ps, t.all(), workspace)
	if err != nil {
		return nil, err
	}
	return &treeParams{paramsImpl{children: children}}, nil
}

type treeParams struct {
	paramsImpl
}

func (p *treeParams) ProducerLoadCallbacks(args *ProducerLoadArgs) ProducerLoadCallbacks {
	return &producerFanout{cbs: p.producerCallbacks(args)}
}

func (p *treeParams) ConsumerStoreCallbacks(args *ConsumerStoreArgs) ConsumerStoreCallbacks {
	cbs := p.consumerCallbacks(args)
	return &treeCallbacks{
		consumerFanout: consumerFanout{cbs: cbs},
		inputs:         make([]warptile.Fragment, len(cbs)-1),
	}
}

type treeCallbacks struct {
	consumerFanout
	inputs []warptile.Fragment
}

func (t *treeCallbacks) Visit(acc warptile.Fragment, epiV, epiM, epiN int, _ ...warptile.Fragment) warptile.Fragment {
	last := len(t.cbs) - 1
	for i := 0; i < last; i++ {
		t.inputs[i] = t.cbs[i].Visit(acc, epiV, epiM, epiN)
	}
	return t.cbs[last].Visit(acc, epiV, epiM, epiN, t.inputs...)
}

//
// Split-tree visitor
//

// SplitTreeOp evaluates one input tree, fans its output fragment unmodified
// into each auxiliary output tree, and returns the main output tree's
// result. All output trees consume the same computed fragment as their
// accumulator input.
//
// Internal order (workspace, shared storage, callbacks) is input tree,
// auxiliary trees, output tree.
type SplitTreeOp struct {
	InputTree  Op
	OutputTree Op
	AuxTrees   []Op
}

// SplitTree builds a split-tree node.
func SplitTree(input, output Op, aux ...Op) *SplitTreeOp {
	return &SplitTreeOp{InputTree: input, OutputTree: output, AuxTrees: aux}
}

func (s *SplitTreeOp) all() []Op {
	ops := make([]Op, 0, len(s.AuxTrees)+2)
	ops = append(ops, s.InputTree)
	ops = append(ops, s.AuxTrees...)
	return append(ops, s.OutputTree)
}

func (s *SplitTreeOp) CanImplement(ps warptile.ProblemShape) bool {
	return implCanImplement(ps, s.all())
}

func (s *SplitTreeOp) WorkspaceSize(ps warptile.ProblemShape) int {
	return implWorkspaceSize(ps, s.all())
}

func (s *SplitTreeOp) InitializeWorkspace(ps warptile.ProblemShape, workspace []byte) error {
	return implInitializeWorkspace(ps, s.all(), workspace)
}

func (s *SplitTreeOp) ToUnderlyingArguments(ps warptile.ProblemShape, workspace []byte) (Params, error) {
	children, err := implResolve(ps, s.all(), workspace)
	if err != nil {
		return nil, err
	}
	return &splitTreeParams{paramsImpl{children: children}}, nil
}

type splitTreeParams struct {
	paramsImpl
}

func (p *splitTreeParams) ProducerLoadCallbacks(args *ProducerLoadArgs) ProducerLoadCallbacks {
	return &producerFanout{cbs: p.producerCallbacks(args)}
}

func (p *splitTreeParams) ConsumerStoreCallbacks(args *ConsumerStoreArgs) ConsumerStoreCallbacks {
	return &splitTreeCallbacks{
		consumerFanout: consumerFanout{cbs: p.consumerCallbacks(args)},
	}
}

type splitTreeCallbacks struct {
	consumerFanout
}

func (s *splitTreeCallbacks) Visit(acc warptile.Fragment, epiV, epiM, epiN int, _ ...warptile.Fragment) warptile.Fragment {
	input := s.cbs[0].Visit(acc, epiV, epiM, epiN)
	last := len(s.cbs) - 1
	for i := 1; i < last; i++ {
		s.cbs[i].Visit(input, epiV, epiM, epiN)
	}
	return s.cbs[last].Visit(input, epiV, epiM, epiN)
}

//
// Topological (DAG) visitor
//

// TopologicalOp evaluates ops in a caller-supplied topological order. Each
// op's input set is given explicitly by Edges: Edges[i] lists the indices of
// previously computed outputs feeding op i. The last op is the output.
//
// Intermediate fragments are rounded through a single shared Compute element
// type; fusing subgraphs that need different compute types requires
// splitting them into separate TopologicalOps.
type TopologicalOp struct {
	Compute warptile.DType
	Edges   [][]int
	Ops     []Op
}

// Topological builds a DAG visitor node.
func Topological(compute warptile.DType, edges [][]int, ops ...Op) *TopologicalOp {
	return &TopologicalOp{Compute: compute, Edges: edges, Ops: ops}
}

// wellFormed validates the edge list against the topological order.
func (t *TopologicalOp) wellFormed() bool {
	if len(t.Ops) < 2 || len(t.Edges) != len(t.Ops) {
		return false
	}
	for i, edges := range t.Edges {
		for _, e := range edges {
			if e < 0 || e >= i {
				return false
			}
		}
	}
	return true
}

func (t *TopologicalOp) CanImplement(ps warptile.ProblemShape) bool {
	return t.wellFormed() && implCanImplement(ps, t.Ops)
}

func (t *TopologicalOp) WorkspaceSize(ps warptile.ProblemShape) int {
	return implWorkspaceSize(ps, t.Ops)
}

func (t *TopologicalOp) InitializeWorkspace(ps warptile.ProblemShape, workspace []byte) error {
	return implInitializeWorkspace(ps, t.Ops, workspace)
}

func (t *TopologicalOp) ToUnderlyingArguments(ps warptile.ProblemShape, workspace []byte) (Params, error) {
	children, err := implResolve(ps, t.Ops, workspace)
	if err != nil {
		return nil, err
	}
	return &topoParams{
		paramsImpl: paramsImpl{children: children},
		compute:    t.Compute,
		edges:      t.Edges,
	}, nil
}

type topoParams struct {
	paramsImpl
	compute warptile.DType
	edges   [][]int
}

func (p *topoParams) ProducerLoadCallbacks(args *ProducerLoadArgs) ProducerLoadCallbacks {
	return &producerFanout{cbs: p.producerCallbacks(args)}
}

func (p *topoParams) ConsumerStoreCallbacks(args *ConsumerStoreArgs) ConsumerStoreCallbacks {
	cbs := p.consumerCallbacks(args)
	outputs := make([]warptile.Fragment, len(cbs)-1)
	for i := range outputs {
		outputs[i] = warptile.NewFragment()
	}
	return &topoCallbacks{
		consumerFanout: consumerFanout{cbs: cbs},
		compute:        p.compute,
		edges:          p.edges,
		outputs:        outputs,
		inputs:         make([]warptile.Fragment, 0, 4),
	}
}

type topoCallbacks struct {
	consumerFanout
	compute warptile.DType
	edges   [][]int

	// outputs[i] holds op i's fragment for the current epilogue vector,
	// rounded to the shared compute type.
	outputs []warptile.Fragment
	inputs  []warptile.Fragment
}

func (t *topoCallbacks) gather(edges []int) []warptile.Fragment {
	t.inputs = t.inputs[:0]
	for _, e := range edges {
		t.inputs = append(t.inputs, t.outputs[e])
	}
	return t.inputs
}

func (t *topoCallbacks) Visit(acc warptile.Fragment, epiV, epiM, epiN int, _ ...warptile.Fragment) warptile.Fragment {
	last := len(t.cbs) - 1
	for i := 0; i < last; i++ {
		out := t.cbs[i].Visit(acc, epiV, epiM, epiN, t.gather(t.edges[i])...)
		// Convert to the shared compute type; ops producing a wider
		// type round here, exactly once.
		for l, v := range out {
			t.outputs[i][l] = t.compute.RoundTrip(v)
		}
	}
	return t.cbs[last].Visit(acc, epiV, epiM, epiN, t.gather(t.edges[last])...)
}
