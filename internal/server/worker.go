package server

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cwbudde/denoiseopt/internal/fit"
	"github.com/cwbudde/denoiseopt/internal/imageio"
	"github.com/cwbudde/denoiseopt/internal/ops"
	"github.com/cwbudde/denoiseopt/internal/opt"
	"github.com/cwbudde/denoiseopt/internal/store"
	"github.com/cwbudde/denoiseopt/internal/telemetry"
)

// Mayfly budget for tuned operations
const (
	tuneIterations = 30
	tunePopulation = opt.MinPopulation
)

var tracer = telemetry.Tracer("denoiseopt/worker")

// artifactStore is implemented by stores that can keep images next to a run
type artifactStore interface {
	SaveArtifact(runID, name string, img image.Image) error
}

// runJob executes an optimization job in the background.
// If runStore is not nil, the finished run and its artifacts are persisted.
func runJob(ctx context.Context, jm *JobManager, runStore store.Store, jobID string) error {
	job, exists := jm.Snapshot(jobID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	cfg := job.Config

	ctx, span := tracer.Start(ctx, "denoise.job", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.ref", cfg.RefPath),
	))
	defer span.End()

	// Update state to running
	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	started := time.Now()
	jm.metrics.JobStarted(ctx)
	finalState := StateFailed
	defer func() {
		jm.metrics.JobFinished(context.WithoutCancel(ctx), string(finalState), time.Since(started))
	}()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		markJobFailed(jm, jobID, err)
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "ref", cfg.RefPath, "input", cfg.InputPath)

	ref, err := imageio.Load(cfg.RefPath)
	if err != nil {
		return fail(fmt.Errorf("failed to load reference: %w", err))
	}
	start := ref
	if cfg.InputPath != "" {
		start, err = imageio.Load(cfg.InputPath)
		if err != nil {
			return fail(fmt.Errorf("failed to load input: %w", err))
		}
	}

	slog.Info("Loaded images", "job_id", jobID, "width", ref.Bounds().Dx(), "height", ref.Bounds().Dy())

	operations, err := ops.Lookup(cfg.Operations...)
	if err != nil {
		return fail(err)
	}

	fitCfg := fit.DefaultConfig()
	fitCfg.MaxIterations = cfg.MaxIterations
	if cfg.Parallelism > 0 {
		fitCfg.Parallelism = cfg.Parallelism
	}
	if cfg.Weights != nil {
		fitCfg.Weights = *cfg.Weights
	}

	initialMetrics, err := fit.Evaluate(ref, start)
	if err != nil {
		return fail(err)
	}
	initialScore, err := fit.Score(initialMetrics, fitCfg.Ranges, fitCfg.Weights)
	if err != nil {
		return fail(err)
	}

	_ = jm.UpdateJob(jobID, func(j *Job) {
		j.reference = ref
		j.best = start
		j.InitialMetrics = &initialMetrics
		j.InitialScore = initialScore
		j.Metrics = &initialMetrics
		j.Score = initialScore
	})

	if cfg.Tune {
		optimizer := opt.NewMayfly(tuneIterations, tunePopulation, cfg.Seed)
		operations = append(operations, opt.TuneAll(optimizer, ref, start, ops.Tunables(), fitCfg)...)
	}

	fitCfg.OnIteration = func(rec fit.IterationRecord) {
		failed := 0
		for _, c := range rec.Candidates {
			if c.Err != "" {
				failed++
			}
		}
		jm.metrics.Iteration(ctx, rec.Improved, len(rec.Candidates)-failed, failed)

		var snap Job
		_ = jm.UpdateJob(jobID, func(j *Job) {
			j.Iterations = rec.Iteration
			j.Evaluations += len(rec.Candidates)
			if rec.Improved {
				j.Score = rec.BestScore
				j.Applied = append(j.Applied, rec.BestOperation)
			}
			snap = j.snapshot()
		})

		span.AddEvent("iteration", trace.WithAttributes(
			attribute.Int("iteration", rec.Iteration),
			attribute.String("best_operation", rec.BestOperation),
			attribute.Bool("improved", rec.Improved),
		))

		event := progressFromJob(snap)
		event.BestOperation = rec.BestOperation
		event.Improved = rec.Improved
		jm.broadcaster.Broadcast(event)
	}

	res, err := fit.OptimizeFrom(ctx, ref, start, operations, fitCfg)
	if res == nil {
		return fail(err)
	}
	elapsed := time.Since(started)

	finalState = StateCompleted
	if err != nil {
		finalState = StateCancelled
	}

	endTime := time.Now()
	var snap Job
	_ = jm.UpdateJob(jobID, func(j *Job) {
		j.State = finalState
		j.best = res.Image
		j.Metrics = &res.Metrics
		j.Score = res.Score
		j.Iterations = res.Iterations
		j.Applied = append([]string{}, res.Applied...)
		j.Stop = string(res.Stop)
		j.EndTime = &endTime
		snap = j.snapshot()
	})

	span.SetAttributes(
		attribute.String("job.stop", string(res.Stop)),
		attribute.Int("job.iterations", res.Iterations),
		attribute.Float64("job.score", res.Score),
	)

	slog.Info("Job finished",
		"job_id", jobID,
		"state", finalState,
		"stop", res.Stop,
		"elapsed", elapsed,
		"initial_score", initialScore,
		"score", res.Score,
		"applied", res.Applied,
	)

	if runStore != nil {
		rec := store.NewRunRecord(jobID, cfg.runConfig(operations, fitCfg), initialMetrics, initialScore, res, elapsed)
		if err := persistRun(runStore, rec, ref, res.Image); err != nil {
			slog.Warn("Failed to persist run", "job_id", jobID, "error", err)
		}
	}

	// Broadcast final event
	jm.broadcaster.Broadcast(progressFromJob(snap))

	if err != nil {
		slog.Info("Job cancelled", "job_id", jobID)
		return err
	}
	return nil
}

// persistRun saves the record and, when the store supports it, best.png and diff.png
func persistRun(runStore store.Store, rec *store.RunRecord, ref, best *image.NRGBA) error {
	if err := runStore.SaveRun(rec); err != nil {
		return err
	}

	as, ok := runStore.(artifactStore)
	if !ok {
		return nil
	}
	if err := as.SaveArtifact(rec.RunID, "best", best); err != nil {
		return err
	}
	return as.SaveArtifact(rec.RunID, "diff", computeDiffImage(ref, best))
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	var snap Job
	_ = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
		snap = j.snapshot()
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	jm.broadcaster.Broadcast(progressFromJob(snap))
}
