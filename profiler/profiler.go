package profiler

import (
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/warptile/warptile"
	"github.com/warptile/warptile/fusion"
	"github.com/warptile/warptile/kernel"
)

// Options configures a profiling run.
type Options struct {
	Alpha, Beta float32

	// Activation names the elementwise epilogue functor; empty or
	// "identity" fuses none.
	Activation string

	// Bias adds a per-column bias term to the fusion tree.
	Bias bool

	Iterations int
	Warmup     int

	Verify    bool
	Tolerance warptile.Tolerance

	SplitK  int
	Cluster warptile.ClusterShape
	Raster  kernel.RasterOrder

	// UsePDL is accepted for command-line compatibility with accelerator
	// builds; launch overlap does not apply to this execution model.
	UsePDL bool

	// Progress draws a terminal progress bar during the timing loop.
	Progress bool

	Seed int64
}

// hostActivations mirrors fusion.Activations for reference computation.
var hostActivations = map[string]func(float32) float32{
	"identity": nil,
	"relu":     warptile.ReLUFloat32,
	"gelu":     warptile.GELUFloat32,
	"sigmoid":  warptile.SigmoidFloat32,
	"silu":     warptile.SiLUFloat32,
	"tanh":     warptile.TanhFloat32,
}

// Profiler runs verification and timing over single or grouped problems.
type Profiler struct {
	opts Options
}

// New builds a profiler, filling in option defaults.
func New(opts Options) (*Profiler, error) {
	if opts.Activation == "" {
		opts.Activation = "identity"
	}
	if _, ok := fusion.Activations[opts.Activation]; !ok {
		return nil, warptile.NewConfigError("profiler.New",
			"unknown activation "+opts.Activation)
	}
	if opts.Iterations <= 0 {
		opts.Iterations = 10
	}
	if opts.Warmup < 0 {
		opts.Warmup = 0
	}
	if opts.Tolerance == (warptile.Tolerance{}) {
		opts.Tolerance = warptile.DefaultTolerance()
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	if opts.UsePDL {
		klog.V(1).Info("use_pdl requested; no effect on this execution model")
	}
	return &Profiler{opts: opts}, nil
}

func (p *Profiler) fusionTree() fusion.Op {
	act := fusion.Activations[p.opts.Activation]
	return fusion.LinCombEltAct(act, p.opts.Alpha, p.opts.Beta)
}

func (p *Profiler) fusionTreeBias(bias warptile.DevicePtr) fusion.Op {
	act := fusion.Activations[p.opts.Activation]
	return fusion.LinCombPerColBiasEltAct(act, p.opts.Alpha, p.opts.Beta, bias, warptile.Float32)
}

// ProfileSingle verifies and times one (possibly batched) problem.
func (p *Profiler) ProfileSingle(shape warptile.ProblemShape) (*Entry, error) {
	ctx, err := NewDeviceContext(shape, p.opts.Seed, p.opts.Bias)
	if err != nil {
		return nil, err
	}
	defer ctx.Free()

	var tree fusion.Op
	if p.opts.Bias {
		tree = p.fusionTreeBias(ctx.Bias)
	} else {
		tree = p.fusionTree()
	}
	ad, err := kernel.NewAdapter(kernel.Arguments{
		Problem: shape,
		A:       ctx.A, B: ctx.B, C: ctx.C, D: ctx.D,
		Fusion:  tree,
		Cluster: p.opts.Cluster,
		Raster:  p.opts.Raster,
		SplitK:  p.opts.SplitK,
	})
	if err != nil {
		return nil, err
	}

	entry := &Entry{Problem: shape.String(), Groups: 1}
	run, cleanup, err := p.runner(ad)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := run(); err != nil {
		return nil, err
	}
	if p.opts.Verify {
		entry.Verified = true
		entry.Mismatches = p.verifySingle(ctx)
		if entry.Mismatches > 0 {
			entry.Verified = false
			klog.Errorf("%s: %d mismatches against reference", shape, entry.Mismatches)
		}
	}

	avg, best, err := p.timeLoop(shape.String(), run)
	if err != nil {
		return nil, err
	}
	entry.AvgMS = avg
	entry.BestMS = best
	entry.GFLOPS = float64(shape.FLOPs()) / (avg * 1e6)
	return entry, nil
}

// ProfileGrouped verifies and times a grouped launch, one group per
// benchmark entry, with per-group alpha/beta coefficient plumbing.
func (p *Profiler) ProfileGrouped(problems []GemmProblem) (*Entry, error) {
	if len(problems) == 0 {
		return nil, warptile.NewConfigError("profiler.ProfileGrouped", "no problems to run")
	}

	ctxs := make([]*DeviceContext, len(problems))
	defer func() {
		for _, ctx := range ctxs {
			if ctx != nil {
				ctx.Free()
			}
		}
	}()

	groups := make([]kernel.GroupProblem, len(problems))
	alphas := make([]float32, len(problems))
	betas := make([]float32, len(problems))
	var flops int64
	for i, gp := range problems {
		ctx, err := NewDeviceContext(gp.Shape, p.opts.Seed+int64(i), false)
		if err != nil {
			return nil, err
		}
		ctxs[i] = ctx
		groups[i] = kernel.GroupProblem{
			Problem: gp.Shape,
			A:       ctx.A, B: ctx.B, C: ctx.C, D: ctx.D,
		}
		alphas[i] = p.opts.Alpha
		betas[i] = p.opts.Beta
		flops += gp.Shape.FLOPs()
	}

	act := fusion.Activations[p.opts.Activation]
	tree := fusion.Tree(act(), fusion.LinearCombinationPerGroup(alphas, betas))
	ad, err := kernel.NewAdapter(kernel.Arguments{
		Grouped: groups,
		Fusion:  tree,
		Cluster: p.opts.Cluster,
		Raster:  p.opts.Raster,
		SplitK:  p.opts.SplitK,
	})
	if err != nil {
		return nil, err
	}

	entry := &Entry{Problem: "grouped", Groups: len(problems)}
	run, cleanup, err := p.runner(ad)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := run(); err != nil {
		return nil, err
	}
	if p.opts.Verify {
		entry.Verified = true
		for i, ctx := range ctxs {
			if n := p.verifySingle(ctx); n > 0 {
				entry.Mismatches += n
				entry.Verified = false
				klog.Errorf("group %d (%s): %d mismatches against reference",
					i, ctx.Shape, n)
			}
		}
	}

	avg, best, err := p.timeLoop("grouped", run)
	if err != nil {
		return nil, err
	}
	entry.AvgMS = avg
	entry.BestMS = best
	entry.GFLOPS = float64(flops) / (avg * 1e6)
	return entry, nil
}

// runner prepares the adapter's workspace and returns a closure executing
// one full initialize+run cycle, with the workspace cleanup.
func (p *Profiler) runner(ad *kernel.Adapter) (run func() error, cleanup func(), err error) {
	ws := warptile.DevicePtr{}
	if n := ad.WorkspaceSize(); n > 0 {
		ws, err = warptile.Malloc(n)
		if err != nil {
			return nil, nil, errors.Wrap(err, "allocating workspace")
		}
	}
	cleanup = func() {
		if !ws.IsNil() {
			warptile.Free(ws)
		}
	}
	run = func() error {
		if err := ad.Initialize(ws); err != nil {
			return err
		}
		return ad.Run()
	}
	return run, cleanup, nil
}

// verifySingle compares the device output of ctx against the naive
// reference, batch by batch, returning the mismatch count.
func (p *Profiler) verifySingle(ctx *DeviceContext) int {
	var ref warptile.Reference
	s := ctx.Shape
	a, b, c, d := ctx.A.Float32(), ctx.B.Float32(), ctx.C.Float32(), ctx.D.Float32()
	var bias []float32
	if !ctx.Bias.IsNil() {
		bias = ctx.Bias.Float32()
	}
	act := hostActivations[p.opts.Activation]

	want := make([]float32, s.M*s.N)
	total := 0
	for l := 0; l < s.Batches(); l++ {
		ref.GEMMBiasAct(s.M, s.N, s.K,
			p.opts.Alpha, a[l*s.M*s.K:], s.K,
			b[l*s.K*s.N:], s.N,
			p.opts.Beta, c[l*s.M*s.N:], s.N,
			bias, act, want, s.N)
		n, first := p.opts.Tolerance.Verify(d[l*s.M*s.N:(l+1)*s.M*s.N], want)
		if n > 0 {
			klog.V(1).Infof("batch %d first mismatch: %s", l, first)
		}
		total += n
	}
	return total
}

// timeLoop runs warmup iterations, then measures the run closure.
func (p *Profiler) timeLoop(label string, run func() error) (avgMS, bestMS float64, err error) {
	for i := 0; i < p.opts.Warmup; i++ {
		if err := run(); err != nil {
			return 0, 0, err
		}
	}

	var bar *progressbar.ProgressBar
	if p.opts.Progress {
		bar = progressbar.NewOptions(p.opts.Iterations,
			progressbar.OptionSetDescription(label),
			progressbar.OptionClearOnFinish(),
		)
	}

	best := time.Duration(0)
	var total time.Duration
	for i := 0; i < p.opts.Iterations; i++ {
		start := time.Now()
		if err := run(); err != nil {
			return 0, 0, err
		}
		elapsed := time.Since(start)
		total += elapsed
		if best == 0 || elapsed < best {
			best = elapsed
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	avg := total / time.Duration(p.opts.Iterations)
	return float64(avg) / 1e6, float64(best) / 1e6, nil
}
