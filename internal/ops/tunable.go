package ops

import (
	"fmt"
	"image"
	"strings"

	"github.com/cwbudde/denoiseopt/internal/fit"
)

// Param is one continuous parameter of a tunable operation
type Param struct {
	Name     string
	Min, Max float64
}

// Tunable is a catalog operation with continuous parameters. The optimizer
// searches the unit hypercube; Build maps each coordinate onto its Param range.
type Tunable struct {
	Name   string
	Params []Param
	build  func(v []float64) func(*image.NRGBA) *image.NRGBA
}

// Dim returns the number of parameters
func (t Tunable) Dim() int {
	return len(t.Params)
}

// Decode maps unit coordinates onto parameter values, clamping to [0, 1]
func (t Tunable) Decode(x []float64) []float64 {
	v := make([]float64, len(t.Params))
	for i, p := range t.Params {
		u := 0.0
		if i < len(x) {
			u = x[i]
		}
		if u < 0 {
			u = 0
		}
		if u > 1 {
			u = 1
		}
		v[i] = p.Min + u*(p.Max-p.Min)
	}
	return v
}

// Build returns the operation for unit coordinates x. The operation name
// records the decoded parameter values.
func (t Tunable) Build(x []float64) fit.Operation {
	v := t.Decode(x)
	parts := make([]string, len(v))
	for i, p := range t.Params {
		parts[i] = fmt.Sprintf("%s=%.3g", p.Name, v[i])
	}
	name := fmt.Sprintf("%s(%s)", t.Name, strings.Join(parts, ","))
	return fit.Func(name, t.build(v))
}

var tunables = []Tunable{
	{
		Name:   GaussianBlurName,
		Params: []Param{{Name: "sigma", Min: 0.3, Max: 3}},
		build: func(v []float64) func(*image.NRGBA) *image.NRGBA {
			return func(img *image.NRGBA) *image.NRGBA { return GaussianBlur3(img, v[0]) }
		},
	},
	{
		Name: BilateralName,
		Params: []Param{
			{Name: "sigma_color", Min: 10, Max: 150},
			{Name: "sigma_space", Min: 10, Max: 150},
		},
		build: func(v []float64) func(*image.NRGBA) *image.NRGBA {
			return func(img *image.NRGBA) *image.NRGBA {
				return Bilateral(img, BilateralDiameter, v[0], v[1])
			}
		},
	},
	{
		Name:   ThresholdName,
		Params: []Param{{Name: "level", Min: 0, Max: 254}},
		build: func(v []float64) func(*image.NRGBA) *image.NRGBA {
			return func(img *image.NRGBA) *image.NRGBA { return Threshold(img, uint8(v[0]+0.5)) }
		},
	},
}

// Tunables returns every parameterised operation
func Tunables() []Tunable {
	out := make([]Tunable, len(tunables))
	copy(out, tunables)
	return out
}

// LookupTunable returns the tunable variant of a catalog operation
func LookupTunable(name string) (Tunable, error) {
	for _, t := range tunables {
		if t.Name == name {
			return t, nil
		}
	}
	return Tunable{}, fmt.Errorf("%w: %q has no tunable parameters", ErrUnknownOperation, name)
}
