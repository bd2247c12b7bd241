package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// JobMetrics records optimizer job activity.
type JobMetrics struct {
	jobs       metric.Int64Counter
	iterations metric.Int64Counter
	candidates metric.Int64Counter
	duration   metric.Float64Histogram
	running    metric.Int64UpDownCounter
}

// NewJobMetrics creates the job instruments on meter.
func NewJobMetrics(meter metric.Meter) (*JobMetrics, error) {
	jobs, err := meter.Int64Counter("denoise.jobs",
		metric.WithDescription("Optimization jobs finished, by terminal state"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create jobs counter: %w", err)
	}
	iterations, err := meter.Int64Counter("denoise.iterations",
		metric.WithDescription("Greedy iterations evaluated"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create iterations counter: %w", err)
	}
	candidates, err := meter.Int64Counter("denoise.candidates",
		metric.WithDescription("Candidate operations evaluated, by outcome"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create candidates counter: %w", err)
	}
	duration, err := meter.Float64Histogram("denoise.job.duration",
		metric.WithDescription("Wall time of an optimization job"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create duration histogram: %w", err)
	}
	running, err := meter.Int64UpDownCounter("denoise.jobs.running",
		metric.WithDescription("Jobs currently running"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create running counter: %w", err)
	}
	return &JobMetrics{
		jobs:       jobs,
		iterations: iterations,
		candidates: candidates,
		duration:   duration,
		running:    running,
	}, nil
}

// JobStarted marks a job as running.
func (m *JobMetrics) JobStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.running.Add(ctx, 1)
}

// JobFinished records the terminal state and wall time of a job.
func (m *JobMetrics) JobFinished(ctx context.Context, state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("state", state))
	m.running.Add(ctx, -1)
	m.jobs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// Iteration records one greedy iteration with its candidate outcomes.
func (m *JobMetrics) Iteration(ctx context.Context, improved bool, succeeded, failed int) {
	if m == nil {
		return
	}
	m.iterations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("improved", improved)))
	m.candidates.Add(ctx, int64(succeeded), metric.WithAttributes(attribute.String("outcome", "ok")))
	if failed > 0 {
		m.candidates.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("outcome", "failed")))
	}
}
