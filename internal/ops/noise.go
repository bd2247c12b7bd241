package ops

import (
	"image"
	"math/rand"

	"github.com/disintegration/imaging"
)

// AddGaussianNoise returns a copy of img with zero-mean gaussian noise of the
// given standard deviation added to each RGB sample. The same seed always
// produces the same output.
func AddGaussianNoise(img *image.NRGBA, sigma float64, seed int64) *image.NRGBA {
	out := imaging.Clone(img)
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			out.Pix[i+c] = clampUint8(float64(out.Pix[i+c]) + rng.NormFloat64()*sigma)
		}
	}
	return out
}

// AddSaltPepper sets a fraction amount of pixels to pure black or pure white
// with equal probability. The same seed always produces the same output.
func AddSaltPepper(img *image.NRGBA, amount float64, seed int64) *image.NRGBA {
	out := imaging.Clone(img)
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < len(out.Pix); i += 4 {
		if rng.Float64() >= amount {
			continue
		}
		v := uint8(0)
		if rng.Intn(2) == 1 {
			v = 255
		}
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = v, v, v
	}
	return out
}
