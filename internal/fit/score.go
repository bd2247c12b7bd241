package fit

import "math"

// Normalize maps value into [0, 1] relative to [lo, hi]. Values outside the
// range are clamped, so an infinite PSNR normalizes to 1.
func Normalize(value, lo, hi float64) (float64, error) {
	if err := (Range{Min: lo, Max: hi}).Validate(); err != nil {
		return 0, err
	}
	if math.IsNaN(value) {
		return 0, nil
	}
	n := (value - lo) / (hi - lo)
	if n < 0 {
		return 0, nil
	}
	if n > 1 {
		return 1, nil
	}
	return n, nil
}

// Score combines normalized metrics into one scalar. Higher is better:
// PSNR and SSIM add to the score, MSE subtracts from it.
func Score(m Metrics, ranges Ranges, weights Weights) (float64, error) {
	psnr, err := Normalize(m.PSNR, ranges.PSNR.Min, ranges.PSNR.Max)
	if err != nil {
		return 0, withMetric(err, "psnr")
	}
	ssim, err := Normalize(m.SSIM, ranges.SSIM.Min, ranges.SSIM.Max)
	if err != nil {
		return 0, withMetric(err, "ssim")
	}
	mse, err := Normalize(m.MSE, ranges.MSE.Min, ranges.MSE.Max)
	if err != nil {
		return 0, withMetric(err, "mse")
	}
	return weights.PSNR*psnr + weights.SSIM*ssim - weights.MSE*mse, nil
}

func withMetric(err error, metric string) error {
	if re, ok := err.(*RangeError); ok {
		re.Metric = metric
	}
	return err
}
