// Package ops provides the catalog of named image operations the optimizer
// chooses from, plus degradation helpers used to build test inputs.
package ops

import (
	"errors"
	"fmt"
	"image"

	"github.com/cwbudde/denoiseopt/internal/fit"
)

// ErrUnknownOperation is returned by Lookup for a name not in the catalog
var ErrUnknownOperation = errors.New("unknown operation")

// Catalog operation names
const (
	GaussianBlurName = "gaussian_blur"
	MedianBlurName   = "median_blur"
	BilateralName    = "bilateral_filter"
	SharpenName      = "sharpen"
	LowPassName      = "low_pass"
	HighPassName     = "high_pass"
	SobelName        = "sobel"
	ThresholdName    = "threshold"
	LaplacianName    = "laplacian"
	IdentityName     = "identity"
)

// Bilateral filter parameters of the default catalog entry
const (
	BilateralDiameter   = 9
	BilateralSigmaColor = 75.0
	BilateralSigmaSpace = 75.0
)

type entry struct {
	name        string
	description string
	fn          func(*image.NRGBA) *image.NRGBA
	inDefault   bool
}

var catalog = []entry{
	{GaussianBlurName, "3x3 gaussian blur", func(img *image.NRGBA) *image.NRGBA {
		return GaussianBlur3(img, 0)
	}, true},
	{MedianBlurName, "3x3 median blur", MedianBlur3, true},
	{BilateralName, "bilateral filter, d=9, sigma 75/75", func(img *image.NRGBA) *image.NRGBA {
		return Bilateral(img, BilateralDiameter, BilateralSigmaColor, BilateralSigmaSpace)
	}, true},
	{SharpenName, "4-neighbour sharpen", Sharpen, true},
	{LowPassName, "5x5 box low-pass", LowPass, true},
	{HighPassName, "8-neighbour high-pass", HighPass, true},
	{SobelName, "sobel gradient magnitude", Sobel, true},
	{ThresholdName, "binary luma threshold at 0", func(img *image.NRGBA) *image.NRGBA {
		return Threshold(img, 0)
	}, true},
	{LaplacianName, "absolute laplacian", Laplacian, false},
	{IdentityName, "unmodified copy", Identity, false},
}

// Info describes one catalog entry
type Info struct {
	Name        string
	Description string
	Default     bool
}

// Default returns the eight operations of the reference catalog, in order
func Default() []fit.Operation {
	var out []fit.Operation
	for _, e := range catalog {
		if e.inDefault {
			out = append(out, fit.Func(e.name, e.fn))
		}
	}
	return out
}

// All returns every catalog operation, including the extras
func All() []fit.Operation {
	out := make([]fit.Operation, 0, len(catalog))
	for _, e := range catalog {
		out = append(out, fit.Func(e.name, e.fn))
	}
	return out
}

// Names lists every catalog name in catalog order
func Names() []string {
	names := make([]string, 0, len(catalog))
	for _, e := range catalog {
		names = append(names, e.name)
	}
	return names
}

// Catalog describes every entry in catalog order
func Catalog() []Info {
	infos := make([]Info, 0, len(catalog))
	for _, e := range catalog {
		infos = append(infos, Info{Name: e.name, Description: e.description, Default: e.inDefault})
	}
	return infos
}

// Lookup returns the named operations in the order given.
// With no names it returns Default().
func Lookup(names ...string) ([]fit.Operation, error) {
	if len(names) == 0 {
		return Default(), nil
	}

	out := make([]fit.Operation, 0, len(names))
	for _, name := range names {
		e, ok := find(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
		}
		out = append(out, fit.Func(e.name, e.fn))
	}
	return out, nil
}

func find(name string) (entry, bool) {
	for _, e := range catalog {
		if e.name == name {
			return e, true
		}
	}
	return entry{}, false
}
