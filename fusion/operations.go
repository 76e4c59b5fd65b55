package fusion

import (
	"github.com/warptile/warptile"
)

// Prebuilt fusion trees covering the common epilogue patterns. Each returns
// a fresh Op graph; ops hold resolved state after ToUnderlyingArguments, so
// graphs must not be shared between concurrently initialized kernels.

// LinearCombination computes alpha*acc + beta*C. When beta is zero the C
// load is skipped for every tile.
func LinearCombination(alpha, beta float32) Op {
	return Tree(MultiplyAdd(),
		ScalarBroadcast(beta),
		SrcFetchGated(func(int) bool { return beta != 0 }),
		Tree(Multiplies(),
			ScalarBroadcast(alpha),
			AccFetch(),
		),
	)
}

// LinearCombinationPerGroup computes alphas[l]*acc + betas[l]*C, selecting
// the coefficients by group. Groups with betas[l] == 0 skip their C loads
// while other groups still perform theirs.
func LinearCombinationPerGroup(alphas, betas []float32) Op {
	return Tree(MultiplyAdd(),
		ScalarBroadcastPerGroup(betas),
		SrcFetchGated(func(l int) bool { return betas[l] != 0 }),
		Tree(Multiplies(),
			ScalarBroadcastPerGroup(alphas),
			AccFetch(),
		),
	)
}

// LinCombEltAct computes act(alpha*acc + beta*C).
func LinCombEltAct(act func() *ComputeOp, alpha, beta float32) Op {
	return Tree(act(),
		LinearCombination(alpha, beta),
	)
}

// LinCombPerColBias computes alpha*acc + beta*C + bias[col], with bias a
// length-N vector of element type dt.
func LinCombPerColBias(alpha, beta float32, bias warptile.DevicePtr, dt warptile.DType) Op {
	return Tree(MultiplyAdd(),
		ScalarBroadcast(beta),
		SrcFetchGated(func(int) bool { return beta != 0 }),
		Tree(MultiplyAdd(),
			ScalarBroadcast(alpha),
			AccFetch(),
			RowBroadcast(bias, dt),
		),
	)
}

// LinCombPerColBiasEltAct computes act(alpha*acc + beta*C + bias[col]).
func LinCombPerColBiasEltAct(act func() *ComputeOp, alpha, beta float32, bias warptile.DevicePtr, dt warptile.DType) Op {
	return Tree(act(),
		LinCombPerColBias(alpha, beta, bias, dt),
	)
}

// LinCombDeEltAct computes act(alpha*acc + beta*C) while storing the
// pre-activation values to aux, as needed when a backward pass will
// recompute the activation's gradient.
func LinCombDeEltAct(act func() *ComputeOp, alpha, beta float32, aux warptile.DevicePtr, ly warptile.Layout, dt warptile.DType) Op {
	return SplitTree(
		LinearCombination(alpha, beta),
		Tree(act(), AccFetch()),
		Tree(AuxStore(aux, ly, dt), AccFetch()),
	)
}
