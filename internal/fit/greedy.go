package fit

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/sourcegraph/conc/pool"
)

// StopReason tells why an optimization run ended
type StopReason string

const (
	StopConverged StopReason = "converged" // no candidate beat the entering image
	StopExhausted StopReason = "exhausted" // iteration budget used up
	StopCancelled StopReason = "cancelled" // context cancelled between iterations
)

// CandidateRecord is the outcome of one operation within one iteration.
// A failed candidate carries Err and zero metrics.
type CandidateRecord struct {
	Operation string  `json:"operation"`
	Metrics   Metrics `json:"metrics"`
	Score     float64 `json:"score"`
	Err       string  `json:"error,omitempty"`
}

// IterationRecord summarizes one iteration of the greedy loop.
// BestScore and BestOperation are zero when every candidate failed.
type IterationRecord struct {
	Iteration     int               `json:"iteration"`
	BaselineScore float64           `json:"baseline_score"`
	BestScore     float64           `json:"best_score"`
	BestOperation string            `json:"best_operation,omitempty"`
	Improved      bool              `json:"improved"`
	Candidates    []CandidateRecord `json:"candidates"`
}

// Result is the output of an optimization run
type Result struct {
	Image      *image.NRGBA
	Metrics    Metrics
	Score      float64
	Iterations int
	Stop       StopReason
	Applied    []string
	History    []IterationRecord
}

// Optimize greedily applies operations to the reference image, keeping the
// best-scoring candidate each iteration, until no candidate improves on the
// entering image or the iteration budget is spent.
func Optimize(ctx context.Context, reference *image.NRGBA, ops []Operation, cfg Config) (*Result, error) {
	return OptimizeFrom(ctx, reference, reference, ops, cfg)
}

// OptimizeFrom runs the greedy loop starting from start while scoring every
// candidate against reference. start and reference must have the same size.
//
// The context is only consulted between iterations. On cancellation the
// image entering the interrupted iteration is returned together with ctx.Err().
func OptimizeFrom(ctx context.Context, reference, start *image.NRGBA, ops []Operation, cfg Config) (*Result, error) {
	if len(ops) == 0 {
		return nil, ErrNoCandidateOperations
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	current := cloneNRGBA(start)
	currentMetrics, err := Evaluate(reference, current)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate start image: %w", err)
	}
	currentScore, err := Score(currentMetrics, cfg.Ranges, cfg.Weights)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Applied: []string{},
		History: []IterationRecord{},
	}
	finish := func(stop StopReason) *Result {
		res.Image = current
		res.Metrics = currentMetrics
		res.Score = currentScore
		res.Stop = stop
		return res
	}

	slog.Info("Starting greedy optimization",
		"operations", len(ops),
		"max_iterations", cfg.MaxIterations,
		"parallelism", cfg.Parallelism,
		"initial_score", currentScore)

	for i := 0; i < cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			slog.Info("Optimization cancelled", "iteration", i)
			return finish(StopCancelled), err
		}

		results := evaluateCandidates(reference, current, ops, cfg)

		bestIdx := -1
		bestScore := math.Inf(-1)
		rec := IterationRecord{
			Iteration:     i + 1,
			BaselineScore: currentScore,
			Candidates:    make([]CandidateRecord, len(results)),
		}
		for j, c := range results {
			rec.Candidates[j] = c.record(ops[j].Name)
			if c.err != nil {
				continue
			}
			if c.score > bestScore {
				bestScore = c.score
				bestIdx = j
			}
		}
		if bestIdx >= 0 {
			rec.BestScore = bestScore
			rec.BestOperation = ops[bestIdx].Name
		}
		res.Iterations = i + 1

		if bestIdx < 0 || bestScore <= currentScore {
			res.History = append(res.History, rec)
			notify(cfg, rec)
			slog.Info("No improvement found, stopping",
				"iteration", rec.Iteration,
				"baseline_score", currentScore,
				"best_score", bestScore,
				"best_operation", rec.BestOperation)
			return finish(StopConverged), nil
		}

		rec.Improved = true
		current = results[bestIdx].img
		currentMetrics = results[bestIdx].metrics
		currentScore = bestScore
		res.Applied = append(res.Applied, ops[bestIdx].Name)
		res.History = append(res.History, rec)
		notify(cfg, rec)

		slog.Info("Iteration complete",
			"iteration", rec.Iteration,
			"operation", rec.BestOperation,
			"score", currentScore,
			"psnr", currentMetrics.PSNR,
			"ssim", currentMetrics.SSIM,
			"mse", currentMetrics.MSE)
	}

	slog.Info("Iteration budget exhausted", "iterations", res.Iterations, "score", currentScore)
	return finish(StopExhausted), nil
}

func notify(cfg Config, rec IterationRecord) {
	if cfg.OnIteration != nil {
		cfg.OnIteration(rec)
	}
}

type candidate struct {
	img     *image.NRGBA
	metrics Metrics
	score   float64
	err     error
}

func (c candidate) record(name string) CandidateRecord {
	r := CandidateRecord{Operation: name, Metrics: c.metrics, Score: c.score}
	if c.err != nil {
		r.Err = c.err.Error()
	}
	return r
}

// evaluateCandidates applies every operation to its own copy of current.
// Results are indexed by operation position regardless of completion order.
func evaluateCandidates(reference, current *image.NRGBA, ops []Operation, cfg Config) []candidate {
	results := make([]candidate, len(ops))

	if cfg.Parallelism <= 1 || len(ops) == 1 {
		for j, op := range ops {
			results[j] = evaluateCandidate(reference, current, op, cfg)
		}
		return results
	}

	p := pool.New().WithMaxGoroutines(cfg.Parallelism)
	for j, op := range ops {
		p.Go(func() {
			results[j] = evaluateCandidate(reference, current, op, cfg)
		})
	}
	p.Wait()
	return results
}

func evaluateCandidate(reference, current *image.NRGBA, op Operation, cfg Config) (c candidate) {
	defer func() {
		if r := recover(); r != nil {
			c = candidate{err: &OperationError{Operation: op.Name, Err: fmt.Errorf("panic: %v", r)}}
		}
		if c.err != nil {
			slog.Warn("Candidate excluded", "operation", op.Name, "error", c.err)
		}
	}()

	if op.Apply == nil {
		return candidate{err: &OperationError{Operation: op.Name, Err: fmt.Errorf("no apply function")}}
	}

	out, err := op.Apply(cloneNRGBA(current))
	if err != nil {
		return candidate{err: &OperationError{Operation: op.Name, Err: err}}
	}
	if out == nil {
		return candidate{err: &OperationError{Operation: op.Name, Err: fmt.Errorf("nil image")}}
	}

	metrics, err := Evaluate(reference, out)
	if err != nil {
		return candidate{err: &OperationError{Operation: op.Name, Err: err}}
	}
	s, err := Score(metrics, cfg.Ranges, cfg.Weights)
	if err != nil {
		return candidate{err: &OperationError{Operation: op.Name, Err: err}}
	}

	slog.Debug("Candidate evaluated",
		"operation", op.Name,
		"score", s,
		"psnr", metrics.PSNR,
		"ssim", metrics.SSIM,
		"mse", metrics.MSE)

	return candidate{img: cloneNRGBA(out), metrics: metrics, score: s}
}
