package ops

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/denoiseopt/internal/fit"
)

func TestTunable_Decode(t *testing.T) {
	tb, err := LookupTunable(BilateralName)
	require.NoError(t, err)
	require.Equal(t, 2, tb.Dim())

	assert.Equal(t, []float64{10, 150}, tb.Decode([]float64{0, 1}))
	assert.Equal(t, []float64{80, 80}, tb.Decode([]float64{0.5, 0.5}))
	assert.Equal(t, []float64{10, 150}, tb.Decode([]float64{-3, 7}), "coordinates are clamped")
	assert.Equal(t, []float64{10, 10}, tb.Decode(nil), "missing coordinates decode to the minimum")
}

func TestTunable_BuildNamesParameters(t *testing.T) {
	tb, err := LookupTunable(GaussianBlurName)
	require.NoError(t, err)

	op := tb.Build([]float64{0})
	assert.Equal(t, "gaussian_blur(sigma=0.3)", op.Name)

	src := gradient(8, 8)
	out, err := op.Apply(src)
	require.NoError(t, err)
	assert.Equal(t, src.Bounds().Size(), out.Bounds().Size())
}

func TestTunable_ThresholdMatchesCatalog(t *testing.T) {
	tb, err := LookupTunable(ThresholdName)
	require.NoError(t, err)

	src := gradient(8, 8)
	tuned, err := tb.Build([]float64{0}).Apply(src)
	require.NoError(t, err)
	assert.Equal(t, fit.ImageHash(Threshold(src, 0)), fit.ImageHash(tuned))
}

func TestLookupTunable_Unknown(t *testing.T) {
	_, err := LookupTunable(SobelName)
	assert.True(t, errors.Is(err, ErrUnknownOperation))
	assert.Len(t, Tunables(), 3)
}
