// Command warptile-profiler verifies and times fused GEMM configurations
// against the naive reference, over command-line shapes or a benchmark file
// of grouped problems.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"k8s.io/klog/v2"

	"github.com/warptile/warptile"
	"github.com/warptile/warptile/kernel"
	"github.com/warptile/warptile/profiler"
)

func main() {
	var (
		m, n, k, groups int64
		batches         int64
		alpha, beta     float64
		activation      string
		bias            bool
		iterations      int64
		warmup          int64
		benchmark       string
		clusterM        int64
		clusterN        int64
		raster          string
		splitK          int64
		usePDL          bool
		verify          bool
		jsonOut         bool
		progress        bool
	)

	app := &cli.Command{
		Name:  "warptile-profiler",
		Usage: "Profile and verify fused GEMM kernels",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "m", Value: 1024, Usage: "problem M extent", Destination: &m},
			&cli.Int64Flag{Name: "n", Value: 1024, Usage: "problem N extent", Destination: &n},
			&cli.Int64Flag{Name: "k", Value: 512, Usage: "problem K extent", Destination: &k},
			&cli.Int64Flag{Name: "batches", Value: 1, Usage: "batch count (L extent)", Destination: &batches},
			&cli.Int64Flag{Name: "groups", Value: 0, Usage: "run this many identical problems as one grouped launch", Destination: &groups},
			&cli.Float64Flag{Name: "alpha", Value: 1, Usage: "accumulator scale", Destination: &alpha},
			&cli.Float64Flag{Name: "beta", Value: 0, Usage: "source (C) scale", Destination: &beta},
			&cli.StringFlag{Name: "activation", Value: "identity", Usage: "epilogue activation (identity, relu, gelu, sigmoid, silu, tanh)", Destination: &activation},
			&cli.BoolFlag{Name: "bias", Usage: "fuse a per-column bias", Destination: &bias},
			&cli.Int64Flag{Name: "iterations", Value: 10, Usage: "timed iterations", Destination: &iterations},
			&cli.Int64Flag{Name: "warmup", Value: 2, Usage: "untimed warmup iterations", Destination: &warmup},
			&cli.StringFlag{Name: "benchmark", Usage: "benchmark file of '<group> <MxNxK>' lines, run as one grouped launch", Destination: &benchmark},
			&cli.Int64Flag{Name: "cluster_m", Value: 2, Usage: "cluster extent along M", Destination: &clusterM},
			&cli.Int64Flag{Name: "cluster_n", Value: 1, Usage: "cluster extent along N", Destination: &clusterN},
			&cli.StringFlag{Name: "raster", Value: "heuristic", Usage: "tile raster order: M, N or heuristic", Destination: &raster},
			&cli.Int64Flag{Name: "split_k", Value: 1, Usage: "reduction slices per output tile", Destination: &splitK},
			&cli.BoolFlag{Name: "use_pdl", Usage: "accepted for compatibility; no effect", Destination: &usePDL},
			&cli.BoolFlag{Name: "verify", Value: true, Usage: "compare against the reference implementation", Destination: &verify},
			&cli.BoolFlag{Name: "json", Usage: "emit the report as JSON", Destination: &jsonOut},
			&cli.BoolFlag{Name: "progress", Value: true, Usage: "draw a progress bar during timing", Destination: &progress},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rasterOrder, err := parseRaster(raster)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			prof, err := profiler.New(profiler.Options{
				Alpha:      float32(alpha),
				Beta:       float32(beta),
				Activation: activation,
				Bias:       bias,
				Iterations: int(iterations),
				Warmup:     int(warmup),
				Verify:     verify,
				SplitK:     int(splitK),
				Cluster:    warptile.ClusterShape{M: int(clusterM), N: int(clusterN)},
				Raster:     rasterOrder,
				UsePDL:     usePDL,
				Progress:   progress && !jsonOut,
			})
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			report := profiler.NewReport()
			switch {
			case benchmark != "":
				f, err := os.Open(benchmark)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				problems, err := profiler.LoadBenchmark(f)
				f.Close()
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				entry, err := prof.ProfileGrouped(problems)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				report.Add(*entry)

			case groups > 0:
				problems := make([]profiler.GemmProblem, groups)
				for i := range problems {
					problems[i] = profiler.GemmProblem{
						Group: i,
						Shape: warptile.ProblemShape{M: int(m), N: int(n), K: int(k), L: 1},
					}
				}
				entry, err := prof.ProfileGrouped(problems)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				report.Add(*entry)

			default:
				shape := warptile.ProblemShape{M: int(m), N: int(n), K: int(k), L: int(batches)}
				entry, err := prof.ProfileSingle(shape)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				report.Add(*entry)
			}

			if jsonOut {
				if err := report.WriteJSON(os.Stdout); err != nil {
					return cli.Exit(err.Error(), 1)
				}
			} else {
				fmt.Print(report.String())
			}
			if report.Failed() {
				return cli.Exit("verification failed", 1)
			}
			return nil
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		klog.Flush()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	klog.Flush()
}

func parseRaster(s string) (kernel.RasterOrder, error) {
	switch s {
	case "M", "m":
		return kernel.RasterAlongM, nil
	case "N", "n":
		return kernel.RasterAlongN, nil
	case "heuristic", "":
		return kernel.RasterHeuristic, nil
	default:
		return 0, fmt.Errorf("unknown raster order %q", s)
	}
}
