package fit

import (
	"errors"
	"fmt"
	"image"
)

var (
	// ErrDimensionMismatch is returned when reference and candidate bounds differ.
	ErrDimensionMismatch = errors.New("image dimensions do not match")
	// ErrImageTooSmall is returned when an image cannot hold one SSIM window.
	ErrImageTooSmall = errors.New("image smaller than ssim window")
	// ErrInvalidRange is returned for a normalization range with max <= min.
	ErrInvalidRange = errors.New("invalid metric range")
	// ErrInvalidWeights is returned for negative or non-finite score weights.
	ErrInvalidWeights = errors.New("invalid score weights")
	// ErrInvalidIterations is returned for a negative iteration budget.
	ErrInvalidIterations = errors.New("max iterations must not be negative")
	// ErrNoCandidateOperations is returned when the candidate set is empty.
	ErrNoCandidateOperations = errors.New("no candidate operations")
	// ErrOperationFailure marks a candidate that could not be produced or scored.
	ErrOperationFailure = errors.New("operation failed")
)

// DimensionError describes a reference/candidate shape disagreement
type DimensionError struct {
	Reference image.Rectangle
	Candidate image.Rectangle
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: reference %dx%d, candidate %dx%d", ErrDimensionMismatch,
		e.Reference.Dx(), e.Reference.Dy(), e.Candidate.Dx(), e.Candidate.Dy())
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// RangeError describes an unusable normalization range
type RangeError struct {
	Metric   string
	Min, Max float64
}

func (e *RangeError) Error() string {
	if e.Metric != "" {
		return fmt.Sprintf("%s for %s: [%g, %g]", ErrInvalidRange, e.Metric, e.Min, e.Max)
	}
	return fmt.Sprintf("%s: [%g, %g]", ErrInvalidRange, e.Min, e.Max)
}

func (e *RangeError) Is(target error) bool {
	return target == ErrInvalidRange
}

// OperationError records why one candidate was excluded from an iteration
type OperationError struct {
	Operation string
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrOperationFailure, e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func (e *OperationError) Is(target error) bool {
	return target == ErrOperationFailure
}
