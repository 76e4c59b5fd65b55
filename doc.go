// Package warptile provides composable, warp-specialized fused matrix-multiply
// kernels with a programmable epilogue, executed on CPU through a faithful
// model of the accelerator's producer/consumer pipeline.
//
// A kernel is assembled from collective building blocks: a mainloop collective
// that streams operand tiles through a barrier-guarded pipeline into an
// accumulator, and an epilogue fusion tree that post-processes accumulator
// fragments (scale, bias, activation, residual, reduction) before results are
// stored. The host configures the kernel through an Arguments aggregate which
// is resolved into device-ready Params against a caller-owned workspace
// buffer.
//
// Example usage:
//
//	tree := fusion.LinCombEltAct(fusion.ReLU, alpha, beta)
//	args := kernel.Arguments{
//		Problem: warptile.ProblemShape{M: 256, N: 256, K: 128, L: 1},
//		A: dA, B: dB, C: dC, D: dD,
//		Fusion: tree,
//	}
//	op, _ := kernel.NewAdapter(args)
//	ws := warptile.DevicePtr{}
//	if n := op.WorkspaceSize(); n > 0 {
//		ws, _ = warptile.Malloc(n)
//		defer warptile.Free(ws)
//	}
//	if err := op.Initialize(ws); err != nil {
//		log.Fatal(err)
//	}
//	if err := op.Run(); err != nil {
//		log.Fatal(err)
//	}
//
// The root package holds the leaf layers every other component consumes:
// tile and layout descriptors, the transaction barrier and pipeline
// primitives, device memory, workspace arenas, element types, and the
// tolerance-based verification helpers used by the profiler and tests.
package warptile
