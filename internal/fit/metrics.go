package fit

import (
	"image"
	"math"
)

const (
	// SSIMWindow is the side of the square SSIM window. It is fixed and never
	// derived from the image size.
	SSIMWindow = 3

	dataRange = 255.0
	ssimK1    = 0.01
	ssimK2    = 0.03
)

// Evaluate computes PSNR, SSIM and MSE of candidate against reference.
// Both images must have the same size and be at least SSIMWindow pixels
// along each axis. Only the R, G and B channels are compared.
func Evaluate(reference, candidate *image.NRGBA) (Metrics, error) {
	rb, cb := reference.Bounds(), candidate.Bounds()
	if rb.Dx() != cb.Dx() || rb.Dy() != cb.Dy() {
		return Metrics{}, &DimensionError{Reference: rb, Candidate: cb}
	}
	if rb.Dx() < SSIMWindow || rb.Dy() < SSIMWindow {
		return Metrics{}, ErrImageTooSmall
	}

	mse := MSE(reference, candidate)
	return Metrics{
		PSNR: PSNR(mse),
		SSIM: ssim(reference, candidate),
		MSE:  mse,
	}, nil
}

// MSE returns the mean squared error over all pixels and RGB channels.
// The caller checks dimensions.
func MSE(reference, candidate *image.NRGBA) float64 {
	b := reference.Bounds()
	n := b.Dx() * b.Dy() * 3
	if n == 0 {
		return 0
	}
	return float64(SumSquaredError(reference, candidate)) / float64(n)
}

// PSNR converts a mean squared error on 8-bit samples into decibels.
// Zero error yields +Inf.
func PSNR(mse float64) float64 {
	if mse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(dataRange*dataRange/mse)
}

// ssim computes the mean structural similarity per channel over every fully
// covered window position and averages the three channel means.
func ssim(reference, candidate *image.NRGBA) float64 {
	const (
		n       = SSIMWindow * SSIMWindow
		pad     = (SSIMWindow - 1) / 2
		covNorm = float64(n) / float64(n-1)
	)
	c1 := (ssimK1 * dataRange) * (ssimK1 * dataRange)
	c2 := (ssimK2 * dataRange) * (ssimK2 * dataRange)

	rb, cb := reference.Bounds(), candidate.Bounds()
	w, h := rb.Dx(), rb.Dy()

	var total float64
	for ch := 0; ch < 3; ch++ {
		var sum float64
		count := 0
		for y := pad; y < h-pad; y++ {
			for x := pad; x < w-pad; x++ {
				var sx, sy, sxx, syy, sxy int64
				for dy := -pad; dy <= pad; dy++ {
					for dx := -pad; dx <= pad; dx++ {
						a := int64(reference.Pix[reference.PixOffset(rb.Min.X+x+dx, rb.Min.Y+y+dy)+ch])
						b := int64(candidate.Pix[candidate.PixOffset(cb.Min.X+x+dx, cb.Min.Y+y+dy)+ch])
						sx += a
						sy += b
						sxx += a * a
						syy += b * b
						sxy += a * b
					}
				}

				ux := float64(sx) / n
				uy := float64(sy) / n
				vx := covNorm * (float64(sxx)/n - ux*ux)
				vy := covNorm * (float64(syy)/n - uy*uy)
				vxy := covNorm * (float64(sxy)/n - ux*uy)

				num := (2*ux*uy + c1) * (2*vxy + c2)
				den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
				sum += num / den
				count++
			}
		}
		total += sum / float64(count)
	}
	return total / 3
}
