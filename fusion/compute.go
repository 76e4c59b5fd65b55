package fusion

import (
	"github.com/warptile/warptile"
)

// ComputeFn applies one elementwise operation across a fragment. out and the
// inputs all have the standard fragment length; implementations must not
// retain the slices.
type ComputeFn func(out warptile.Fragment, in ...warptile.Fragment)

// ComputeOp is an elementwise node. It consumes the output fragments of its
// enclosing tree's children, in order, and optionally rounds its result
// through a reduced-precision element type.
type ComputeOp struct {
	Name  string
	Arity int
	Fn    ComputeFn

	// Round, when not Float32, snaps every output lane to the given
	// storage type's representable values.
	Round warptile.DType
}

// Compute wraps fn as a fusion node.
func Compute(name string, arity int, fn ComputeFn) *ComputeOp {
	return &ComputeOp{Name: name, Arity: arity, Fn: fn}
}

func (c *ComputeOp) CanImplement(warptile.ProblemShape) bool { return c.Fn != nil }
func (*ComputeOp) WorkspaceSize(warptile.ProblemShape) int { return 0 }
func (*ComputeOp) InitializeWorkspace(warptile.ProblemShape, []byte) error {
	return nil
}

func (c *ComputeOp) ToUnderlyingArguments(warptile.ProblemShape, []byte) (Params, error) {
	return &computeParams{fn: c.Fn, round: c.Round}, nil
}

type computeParams struct {
	fn    ComputeFn
	round warptile.DType
}

func (*computeParams) IsProducerLoadNeeded() bool { return false }
func (*computeParams) IsCLoadNeeded(warptile.TileCoord) bool { return false }
func (*computeParams) SharedStorageSize(warptile.EpilogueTile) int { return 0 }

func (*computeParams) ProducerLoadCallbacks(*ProducerLoadArgs) ProducerLoadCallbacks {
	return EmptyProducerLoadCallbacks{}
}

func (p *computeParams) ConsumerStoreCallbacks(*ConsumerStoreArgs) ConsumerStoreCallbacks {
	return &computeCallbacks{fn: p.fn, round: p.round, out: warptile.NewFragment()}
}

type computeCallbacks struct {
	EmptyConsumerStoreCallbacks
	fn    ComputeFn
	round warptile.DType
	out   warptile.Fragment
}

func (c *computeCallbacks) Visit(_ warptile.Fragment, _, _, _ int, inputs ...warptile.Fragment) warptile.Fragment {
	c.fn(c.out, inputs...)
	if c.round != warptile.Float32 {
		for i, v := range c.out {
			c.out[i] = c.round.RoundTrip(v)
		}
	}
	return c.out
}

//
// Standard functors. Arities follow the child order of the trees in
// operations.go: multiply_add is (a, b, c) -> a*b+c.
//

// MultiplyAdd computes in[0]*in[1]+in[2].
func MultiplyAdd() *ComputeOp {
	return Compute("multiply_add", 3, func(out warptile.Fragment, in ...warptile.Fragment) {
		a, b, c := in[0], in[1], in[2]
		for i := range out {
			out[i] = a[i]*b[i] + c[i]
		}
	})
}

// Multiplies computes in[0]*in[1].
func Multiplies() *ComputeOp {
	return Compute("multiplies", 2, func(out warptile.Fragment, in ...warptile.Fragment) {
		a, b := in[0], in[1]
		for i := range out {
			out[i] = a[i] * b[i]
		}
	})
}

// Plus computes in[0]+in[1].
func Plus() *ComputeOp {
	return Compute("plus", 2, func(out warptile.Fragment, in ...warptile.Fragment) {
		a, b := in[0], in[1]
		for i := range out {
			out[i] = a[i] + b[i]
		}
	})
}

// Minus computes in[0]-in[1].
func Minus() *ComputeOp {
	return Compute("minus", 2, func(out warptile.Fragment, in ...warptile.Fragment) {
		a, b := in[0], in[1]
		for i := range out {
			out[i] = a[i] - b[i]
		}
	})
}

func unary(name string, f func(float32) float32) *ComputeOp {
	return Compute(name, 1, func(out warptile.Fragment, in ...warptile.Fragment) {
		a := in[0]
		for i := range out {
			out[i] = f(a[i])
		}
	})
}

// ReLU computes max(in[0], 0).
func ReLU() *ComputeOp { return unary("relu", warptile.ReLUFloat32) }

// GELU computes the exact (erf-based) GELU of in[0].
func GELU() *ComputeOp { return unary("gelu", warptile.GELUFloat32) }

// Sigmoid computes 1/(1+exp(-in[0])).
func Sigmoid() *ComputeOp { return unary("sigmoid", warptile.SigmoidFloat32) }

// SiLU computes in[0]*sigmoid(in[0]).
func SiLU() *ComputeOp { return unary("silu", warptile.SiLUFloat32) }

// Tanh computes tanh(in[0]).
func Tanh() *ComputeOp { return unary("tanh", warptile.TanhFloat32) }

// Identity passes in[0] through unchanged.
func Identity() *ComputeOp {
	return unary("identity", func(v float32) float32 { return v })
}

// Clamp limits in[0] to [lo, hi].
func Clamp(lo, hi float32) *ComputeOp {
	return unary("clamp", func(v float32) float32 {
		return warptile.ClampFloat32(v, lo, hi)
	})
}

// Activations maps the activation names accepted on profiler command lines
// to their functor constructors.
var Activations = map[string]func() *ComputeOp{
	"identity": Identity,
	"relu":     ReLU,
	"gelu":     GELU,
	"sigmoid":  Sigmoid,
	"silu":     SiLU,
	"tanh":     Tanh,
}
