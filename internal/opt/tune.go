package opt

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/cwbudde/denoiseopt/internal/fit"
	"github.com/cwbudde/denoiseopt/internal/ops"
)

// failedCost is returned to the optimizer when a parameter vector cannot be scored.
// Scores are bounded by the weight sums, so this is worse than any real candidate.
const failedCost = 1e9

// TuneOperation searches the parameters of t that maximize the score of
// t applied to start, measured against reference. It returns the operation
// built from the best parameters and its score.
func TuneOperation(optimizer Optimizer, reference, start *image.NRGBA, t ops.Tunable, cfg fit.Config) (fit.Operation, float64, error) {
	if err := cfg.Validate(); err != nil {
		return fit.Operation{}, 0, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := fit.Evaluate(reference, start); err != nil {
		return fit.Operation{}, 0, fmt.Errorf("failed to evaluate start image: %w", err)
	}
	if t.Dim() == 0 {
		return fit.Operation{}, 0, fmt.Errorf("%s has no parameters", t.Name)
	}

	slog.Info("Tuning operation", "operation", t.Name, "params", t.Dim())

	evals := 0
	eval := func(x []float64) float64 {
		evals++
		s, err := scoreParams(reference, start, t, x, cfg)
		if err != nil {
			slog.Debug("Parameter vector rejected", "operation", t.Name, "error", err)
			return failedCost
		}
		return -s
	}

	lower := make([]float64, t.Dim())
	upper := make([]float64, t.Dim())
	for i := range upper {
		upper[i] = 1
	}

	best, cost := optimizer.Run(eval, lower, upper, t.Dim())
	if cost >= failedCost {
		return fit.Operation{}, 0, fmt.Errorf("failed to tune %s: no parameter vector could be scored", t.Name)
	}

	op := t.Build(best)
	slog.Info("Tuning complete", "operation", op.Name, "score", -cost, "evaluations", evals)
	return op, -cost, nil
}

// TuneAll tunes every tunable and returns the resulting operations in order.
// Tunables that fail are skipped.
func TuneAll(optimizer Optimizer, reference, start *image.NRGBA, tunables []ops.Tunable, cfg fit.Config) []fit.Operation {
	var out []fit.Operation
	for _, t := range tunables {
		op, _, err := TuneOperation(optimizer, reference, start, t, cfg)
		if err != nil {
			slog.Warn("Skipping tunable", "operation", t.Name, "error", err)
			continue
		}
		out = append(out, op)
	}
	return out
}

func scoreParams(reference, start *image.NRGBA, t ops.Tunable, x []float64, cfg fit.Config) (float64, error) {
	out, err := t.Build(x).Apply(start)
	if err != nil {
		return 0, err
	}
	m, err := fit.Evaluate(reference, out)
	if err != nil {
		return 0, err
	}
	return fit.Score(m, cfg.Ranges, cfg.Weights)
}
