// Package opt tunes continuous operation parameters with a metaheuristic
// optimizer.
package opt

// Optimizer minimizes eval over the box [lower, upper] in dim dimensions and
// returns the best position found with its cost.
// TuneOperation always passes the unit box.
type Optimizer interface {
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}
