package fit

import (
	"encoding/json"
	"image"
	"math"
)

// Metrics holds the fidelity metrics of one (reference, candidate) pair
type Metrics struct {
	PSNR float64 // +Inf when the images are identical
	SSIM float64
	MSE  float64
}

// metricsJSON encodes an infinite PSNR as null, which JSON can represent
type metricsJSON struct {
	PSNR *float64 `json:"psnr"`
	SSIM float64  `json:"ssim"`
	MSE  float64  `json:"mse"`
}

func (m Metrics) MarshalJSON() ([]byte, error) {
	out := metricsJSON{SSIM: m.SSIM, MSE: m.MSE}
	if !math.IsInf(m.PSNR, 0) && !math.IsNaN(m.PSNR) {
		psnr := m.PSNR
		out.PSNR = &psnr
	}
	return json.Marshal(out)
}

func (m *Metrics) UnmarshalJSON(data []byte) error {
	var in metricsJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.SSIM, m.MSE = in.SSIM, in.MSE
	if in.PSNR == nil {
		m.PSNR = math.Inf(1)
	} else {
		m.PSNR = *in.PSNR
	}
	return nil
}

// Range is a fixed normalization interval for one metric
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Validate reports ErrInvalidRange unless Min < Max and both are finite
func (r Range) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return &RangeError{Min: r.Min, Max: r.Max}
	}
	if r.Max <= r.Min {
		return &RangeError{Min: r.Min, Max: r.Max}
	}
	return nil
}

// Ranges groups the normalization range of every metric
type Ranges struct {
	PSNR Range `json:"psnr"`
	SSIM Range `json:"ssim"`
	MSE  Range `json:"mse"`
}

// DefaultRanges returns the static ranges used when none are configured
func DefaultRanges() Ranges {
	return Ranges{
		PSNR: Range{Min: 0, Max: 100},
		SSIM: Range{Min: 0, Max: 1},
		MSE:  Range{Min: 0, Max: 10000},
	}
}

// Validate checks every range and names the first offending metric
func (r Ranges) Validate() error {
	for _, item := range []struct {
		name string
		rng  Range
	}{
		{"psnr", r.PSNR},
		{"ssim", r.SSIM},
		{"mse", r.MSE},
	} {
		if err := item.rng.Validate(); err != nil {
			if re, ok := err.(*RangeError); ok {
				re.Metric = item.name
			}
			return err
		}
	}
	return nil
}

// Weights combines normalized metrics into one score
type Weights struct {
	PSNR float64 `json:"psnr"`
	SSIM float64 `json:"ssim"`
	MSE  float64 `json:"mse"`
}

// DefaultWeights weighs every metric equally
func DefaultWeights() Weights {
	return Weights{PSNR: 1, SSIM: 1, MSE: 1}
}

// Validate rejects negative or non-finite weights
func (w Weights) Validate() error {
	for _, v := range []float64{w.PSNR, w.SSIM, w.MSE} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidWeights
		}
	}
	return nil
}

// Operation is a named, pure image transformation.
// Apply must not modify its input and must return an image with the same bounds.
type Operation struct {
	Name  string
	Apply func(img *image.NRGBA) (*image.NRGBA, error)
}

// Func wraps an infallible transformation as an Operation
func Func(name string, fn func(img *image.NRGBA) *image.NRGBA) Operation {
	return Operation{
		Name: name,
		Apply: func(img *image.NRGBA) (*image.NRGBA, error) {
			return fn(img), nil
		},
	}
}

// Config drives one optimization run
type Config struct {
	Ranges        Ranges
	Weights       Weights
	MaxIterations int

	// Parallelism bounds how many candidates of one iteration are evaluated
	// concurrently. Values <= 1 evaluate sequentially.
	Parallelism int

	// OnIteration, if set, is called synchronously after every completed iteration
	OnIteration func(rec IterationRecord)
}

// DefaultMaxIterations is the iteration budget of the reference system
const DefaultMaxIterations = 5

// DefaultConfig returns the configuration of the reference system
func DefaultConfig() Config {
	return Config{
		Ranges:        DefaultRanges(),
		Weights:       DefaultWeights(),
		MaxIterations: DefaultMaxIterations,
		Parallelism:   1,
	}
}

// Validate checks ranges, weights and the iteration budget
func (c Config) Validate() error {
	if err := c.Ranges.Validate(); err != nil {
		return err
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.MaxIterations < 0 {
		return ErrInvalidIterations
	}
	return nil
}

// cloneNRGBA returns a deep copy of img rebased to the origin
func cloneNRGBA(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	rowBytes := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		src := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowBytes], img.Pix[src:src+rowBytes])
	}
	return dst
}
