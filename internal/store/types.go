package store

import (
	"time"

	"github.com/cwbudde/denoiseopt/internal/fit"
)

// RunConfig holds the inputs of one optimization run.
// This avoids import cycles with the server package.
type RunConfig struct {
	RefPath       string      `json:"refPath"`
	InputPath     string      `json:"inputPath,omitempty"` // empty when optimizing the reference itself
	Operations    []string    `json:"operations"`
	MaxIterations int         `json:"maxIterations"`
	Parallelism   int         `json:"parallelism,omitempty"`
	Weights       fit.Weights `json:"weights"`
	Ranges        fit.Ranges  `json:"ranges"`
	Tuned         bool        `json:"tuned,omitempty"` // tuned variants were appended to Operations
}

// RunRecord is the persisted outcome of an optimization run.
type RunRecord struct {
	// RunID is the unique identifier for this run
	RunID string `json:"runId"`

	Config RunConfig `json:"config"`

	// Iterations is the number of iterations evaluated, including the one
	// that found no improvement
	Iterations int `json:"iterations"`

	// Stop is why the run ended (converged, exhausted, cancelled)
	Stop string `json:"stop"`

	// Applied lists the adopted operations in order
	Applied []string `json:"applied"`

	InitialMetrics fit.Metrics `json:"initialMetrics"`
	InitialScore   float64     `json:"initialScore"`
	FinalMetrics   fit.Metrics `json:"finalMetrics"`
	FinalScore     float64     `json:"finalScore"`

	// OutputHash is the xxHash64 of the output image in hex
	OutputHash string `json:"outputHash"`

	// DurationMs is the wall-clock time of the run
	DurationMs int64 `json:"durationMs"`

	// Timestamp records when the run finished
	Timestamp time.Time `json:"timestamp"`
}

// RunInfo contains metadata about a run for listings.
type RunInfo struct {
	RunID      string    `json:"runId"`
	RefPath    string    `json:"refPath"`
	Stop       string    `json:"stop"`
	Iterations int       `json:"iterations"`
	Applied    int       `json:"applied"`
	FinalScore float64   `json:"finalScore"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewRunRecord creates a record from a finished optimization result.
func NewRunRecord(runID string, cfg RunConfig, initial fit.Metrics, initialScore float64, res *fit.Result, duration time.Duration) *RunRecord {
	applied := make([]string, len(res.Applied))
	copy(applied, res.Applied)

	return &RunRecord{
		RunID:          runID,
		Config:         cfg,
		Iterations:     res.Iterations,
		Stop:           string(res.Stop),
		Applied:        applied,
		InitialMetrics: initial,
		InitialScore:   initialScore,
		FinalMetrics:   res.Metrics,
		FinalScore:     res.Score,
		OutputHash:     fit.ImageHashString(res.Image),
		DurationMs:     duration.Milliseconds(),
		Timestamp:      time.Now(),
	}
}

// ToInfo converts a full RunRecord to RunInfo (metadata only).
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		RunID:      r.RunID,
		RefPath:    r.Config.RefPath,
		Stop:       r.Stop,
		Iterations: r.Iterations,
		Applied:    len(r.Applied),
		FinalScore: r.FinalScore,
		Timestamp:  r.Timestamp,
	}
}

// Validate checks if the record has valid data.
// Returns an error if any required field is missing or invalid.
func (r *RunRecord) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if r.Config.RefPath == "" {
		return &ValidationError{Field: "Config.RefPath", Reason: "cannot be empty"}
	}
	if len(r.Config.Operations) == 0 {
		return &ValidationError{Field: "Config.Operations", Reason: "cannot be empty"}
	}
	if r.Config.MaxIterations < 0 {
		return &ValidationError{Field: "Config.MaxIterations", Reason: "cannot be negative"}
	}
	if r.Iterations < 0 || r.Iterations > r.Config.MaxIterations {
		return &ValidationError{Field: "Iterations", Reason: "must be within [0, Config.MaxIterations]"}
	}
	if len(r.Applied) > r.Iterations {
		return &ValidationError{Field: "Applied", Reason: "cannot exceed Iterations"}
	}
	switch fit.StopReason(r.Stop) {
	case fit.StopConverged, fit.StopExhausted, fit.StopCancelled:
	default:
		return &ValidationError{Field: "Stop", Reason: "unknown stop reason " + r.Stop}
	}
	if r.FinalMetrics.MSE < 0 || r.InitialMetrics.MSE < 0 {
		return &ValidationError{Field: "FinalMetrics.MSE", Reason: "cannot be negative"}
	}
	if r.OutputHash == "" {
		return &ValidationError{Field: "OutputHash", Reason: "cannot be empty"}
	}
	return nil
}

// ValidationError represents a run record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
