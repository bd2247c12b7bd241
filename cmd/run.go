package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/denoiseopt/internal/config"
	"github.com/cwbudde/denoiseopt/internal/fit"
	"github.com/cwbudde/denoiseopt/internal/imageio"
	"github.com/cwbudde/denoiseopt/internal/ops"
	"github.com/cwbudde/denoiseopt/internal/opt"
	"github.com/cwbudde/denoiseopt/internal/store"
)

var (
	refPath         string
	inputPath       string
	outPath         string
	opNames         []string
	maxIters        int
	parallelism     int
	weightsFlag     string
	tune            bool
	tuneIters       int
	tunePop         int
	seed            int64
	save            bool
	runDataDir      string
	runStoreKind    string
	traceCandidates bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run single-shot optimization",
	Long: `Runs the greedy optimizer on --input (or the reference itself) and writes
the best image found. With --save the run record, best/diff artifacts and a
per-iteration trace are stored under --data-dir.`,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&refPath, "ref", "", "Reference image path (required)")
	runCmd.Flags().StringVar(&inputPath, "input", "", "Degraded image to restore (default: the reference)")
	runCmd.Flags().StringVar(&outPath, "out", "out.png", "Output image path")
	runCmd.Flags().StringSliceVar(&opNames, "ops", nil, "Candidate operations (default: the standard catalog)")
	runCmd.Flags().IntVar(&maxIters, "max-iters", fit.DefaultMaxIterations, "Maximum greedy iterations")
	runCmd.Flags().IntVar(&parallelism, "parallel", 1, "Candidates evaluated concurrently")
	runCmd.Flags().StringVar(&weightsFlag, "weights", "1,1,1", "Metric weights as psnr,ssim,mse")
	runCmd.Flags().BoolVar(&tune, "tune", false, "Add mayfly-tuned variants of the parametric operations")
	runCmd.Flags().IntVar(&tuneIters, "tune-iters", 30, "Mayfly iterations per tuned operation")
	runCmd.Flags().IntVar(&tunePop, "tune-pop", opt.MinPopulation, "Mayfly population per tuned operation")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for tuning")
	runCmd.Flags().BoolVar(&save, "save", false, "Persist the run record, artifacts and trace")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "./data", "Base directory for persisted runs")
	runCmd.Flags().StringVar(&runStoreKind, "store", store.KindFS, "Run store backend (fs, sqlite)")
	runCmd.Flags().BoolVar(&traceCandidates, "trace-candidates", false, "Include every candidate in the trace")

	_ = runCmd.MarkFlagRequired("ref")
	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	weights, err := config.ParseWeights(weightsFlag)
	if err != nil {
		return fmt.Errorf("invalid --weights: %w", err)
	}

	cfg := fit.DefaultConfig()
	cfg.MaxIterations = maxIters
	cfg.Parallelism = parallelism
	cfg.Weights = weights
	if err := cfg.Validate(); err != nil {
		return err
	}

	ref, err := imageio.Load(refPath)
	if err != nil {
		return fmt.Errorf("failed to load reference: %w", err)
	}
	start := ref
	if inputPath != "" {
		if start, err = imageio.Load(inputPath); err != nil {
			return fmt.Errorf("failed to load input: %w", err)
		}
	}

	slog.Info("Loaded images", "width", ref.Bounds().Dx(), "height", ref.Bounds().Dy())

	operations, err := ops.Lookup(opNames...)
	if err != nil {
		return err
	}
	if tune {
		optimizer := opt.NewMayfly(tuneIters, tunePop, seed)
		operations = append(operations, opt.TuneAll(optimizer, ref, start, ops.Tunables(), cfg)...)
	}

	initial, err := fit.Evaluate(ref, start)
	if err != nil {
		return err
	}
	initialScore, err := fit.Score(initial, cfg.Ranges, cfg.Weights)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	var trace *store.TraceWriter
	if save {
		trace, err = store.NewTraceWriter(runDataDir, runID, false)
		if err != nil {
			return err
		}
		defer trace.Close()
		cfg.OnIteration = trace.Observer(traceCandidates)
	}

	began := time.Now()
	res, err := fit.OptimizeFrom(ctx, ref, start, operations, cfg)
	if res == nil {
		return err
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	elapsed := time.Since(began)

	if err := imageio.Save(outPath, res.Image); err != nil {
		return err
	}

	if save {
		if err := saveRun(runID, operations, cfg, initial, initialScore, res, elapsed); err != nil {
			return err
		}
	}

	slog.Info("Optimization complete",
		"elapsed", elapsed,
		"stop", res.Stop,
		"iterations", res.Iterations,
		"initial_score", initialScore,
		"final_score", res.Score,
	)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s (%s after %d iteration(s), score %.4f -> %.4f)\n",
		outPath, res.Stop, res.Iterations, initialScore, res.Score)
	fmt.Fprintf(out, "  PSNR %s  SSIM %.4f  MSE %.2f\n", formatPSNR(res.Metrics.PSNR), res.Metrics.SSIM, res.Metrics.MSE)
	if len(res.Applied) > 0 {
		fmt.Fprintf(out, "  Applied: %s\n", strings.Join(res.Applied, " -> "))
	}
	if save {
		fmt.Fprintf(out, "  Run ID: %s\n", runID)
	}
	return nil
}

func saveRun(runID string, operations []fit.Operation, cfg fit.Config, initial fit.Metrics, initialScore float64, res *fit.Result, elapsed time.Duration) error {
	runStore, closer, err := store.Open(runStoreKind, runDataDir)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer closer.Close()

	names := make([]string, len(operations))
	for i, op := range operations {
		names[i] = op.Name
	}
	rc := store.RunConfig{
		RefPath:       refPath,
		InputPath:     inputPath,
		Operations:    names,
		MaxIterations: cfg.MaxIterations,
		Parallelism:   cfg.Parallelism,
		Weights:       cfg.Weights,
		Ranges:        cfg.Ranges,
		Tuned:         tune,
	}
	if err := runStore.SaveRun(store.NewRunRecord(runID, rc, initial, initialScore, res, elapsed)); err != nil {
		return err
	}

	// Image artifacts live next to the trace regardless of the record backend
	fs, err := store.NewFSStore(runDataDir)
	if err != nil {
		return err
	}
	return fs.SaveArtifact(runID, "best", res.Image)
}

func formatPSNR(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f dB", v)
}
