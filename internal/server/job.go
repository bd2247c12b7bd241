package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/denoiseopt/internal/fit"
	"github.com/cwbudde/denoiseopt/internal/store"
	"github.com/cwbudde/denoiseopt/internal/telemetry"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Finished reports whether the state is terminal
func (s JobState) Finished() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var (
	// ErrJobNotFound is returned for an unknown job ID
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when cancelling a job that already ended
	ErrJobFinished = errors.New("job already finished")
)

// JobConfig is the request body of POST /api/v1/jobs
type JobConfig struct {
	RefPath string `json:"refPath"`
	// InputPath is the degraded image to clean up. Empty starts from the reference.
	InputPath  string   `json:"inputPath,omitempty"`
	Operations []string `json:"operations,omitempty"`
	// MaxIterations of zero selects the server default
	MaxIterations int          `json:"maxIterations,omitempty"`
	Parallelism   int          `json:"parallelism,omitempty"`
	Weights       *fit.Weights `json:"weights,omitempty"`
	// Tune appends mayfly-tuned variants of the parametric operations
	Tune bool  `json:"tune,omitempty"`
	Seed int64 `json:"seed,omitempty"`
}

func (c JobConfig) runConfig(operations []fit.Operation, fitCfg fit.Config) store.RunConfig {
	names := make([]string, len(operations))
	for i, op := range operations {
		names[i] = op.Name
	}
	return store.RunConfig{
		RefPath:       c.RefPath,
		InputPath:     c.InputPath,
		Operations:    names,
		MaxIterations: fitCfg.MaxIterations,
		Parallelism:   fitCfg.Parallelism,
		Weights:       fitCfg.Weights,
		Ranges:        fitCfg.Ranges,
		Tuned:         c.Tune,
	}
}

// Job represents an optimization job
type Job struct {
	ID             string       `json:"id"`
	State          JobState     `json:"state"`
	Config         JobConfig    `json:"config"`
	InitialMetrics *fit.Metrics `json:"initialMetrics,omitempty"`
	InitialScore   float64      `json:"initialScore"`
	Metrics        *fit.Metrics `json:"metrics,omitempty"`
	Score          float64      `json:"score"`
	Iterations     int          `json:"iterations"`
	Evaluations    int          `json:"evaluations"`
	Applied        []string     `json:"applied"`
	Stop           string       `json:"stop,omitempty"`
	StartTime      time.Time    `json:"startTime"`
	EndTime        *time.Time   `json:"endTime,omitempty"`
	Error          string       `json:"error,omitempty"`

	reference *image.NRGBA
	best      *image.NRGBA
	cancel    context.CancelFunc
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
	metrics     *telemetry.JobMetrics
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new job with the given configuration
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		Applied:   []string{},
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return job
}

// GetJob retrieves a job by ID
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	return job, exists
}

// Snapshot returns a copy of the job that is safe to read while the worker runs
func (jm *JobManager) Snapshot(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return job.snapshot(), true
}

func (j *Job) snapshot() Job {
	c := *j
	c.Applied = append([]string{}, j.Applied...)
	c.Config.Operations = append([]string(nil), j.Config.Operations...)
	if j.InitialMetrics != nil {
		m := *j.InitialMetrics
		c.InitialMetrics = &m
	}
	if j.Metrics != nil {
		m := *j.Metrics
		c.Metrics = &m
	}
	c.cancel = nil
	return c
}

// ListJobs returns snapshots of all jobs, oldest first
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].StartTime.Equal(jobs[j].StartTime) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].StartTime.Before(jobs[j].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	updateFn(job)
	return nil
}

// RunningCount returns the number of jobs currently in the running state
func (jm *JobManager) RunningCount() int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	n := 0
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			n++
		}
	}
	return n
}

func (jm *JobManager) setCancel(id string, cancel context.CancelFunc) {
	_ = jm.UpdateJob(id, func(j *Job) { j.cancel = cancel })
}

// CancelJob requests cancellation of a pending or running job.
// The worker stops at the next iteration boundary.
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.RLock()
	job, exists := jm.jobs[id]
	var cancel context.CancelFunc
	var finished bool
	if exists {
		cancel = job.cancel
		finished = job.State.Finished()
	}
	jm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if finished {
		return ErrJobFinished
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// CancelAll cancels every unfinished job
func (jm *JobManager) CancelAll() {
	jm.mu.RLock()
	var cancels []context.CancelFunc
	for _, job := range jm.jobs {
		if !job.State.Finished() && job.cancel != nil {
			cancels = append(cancels, job.cancel)
		}
	}
	jm.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// images returns the reference and best image of a job, either may be nil
func (jm *JobManager) images(id string) (ref, best *image.NRGBA, ok bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, nil, false
	}
	return job.reference, job.best, true
}
