package ops

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/sourcegraph/conc/pool"
)

// GaussianBlur3 convolves img with a normalized 3x3 gaussian of the given
// sigma. A sigma <= 0 selects the fixed binomial kernel [1 2 1]/4 per axis,
// which is what a 3x3 gaussian uses when no sigma is given.
func GaussianBlur3(img *image.NRGBA, sigma float64) *image.NRGBA {
	if sigma <= 0 {
		return imaging.Convolve3x3(img, [9]float64{
			1, 2, 1,
			2, 4, 2,
			1, 2, 1,
		}, &imaging.ConvolveOptions{Normalize: true})
	}
	w := math.Exp(-1 / (2 * sigma * sigma))
	k := [9]float64{
		w * w, w, w * w,
		w, 1, w,
		w * w, w, w * w,
	}
	return imaging.Convolve3x3(img, k, &imaging.ConvolveOptions{Normalize: true})
}

// Sharpen applies the 4-neighbour sharpening kernel
func Sharpen(img *image.NRGBA) *image.NRGBA {
	return imaging.Convolve3x3(img, [9]float64{
		0, -1, 0,
		-1, 5, -1,
		0, -1, 0,
	}, nil)
}

// LowPass applies a 5x5 box filter
func LowPass(img *image.NRGBA) *image.NRGBA {
	var k [25]float64
	for i := range k {
		k[i] = 1
	}
	return imaging.Convolve5x5(img, k, &imaging.ConvolveOptions{Normalize: true})
}

// HighPass applies the 8-neighbour high-pass kernel; negative responses saturate to 0
func HighPass(img *image.NRGBA) *image.NRGBA {
	return imaging.Convolve3x3(img, [9]float64{
		-1, -1, -1,
		-1, 8, -1,
		-1, -1, -1,
	}, nil)
}

// Laplacian returns the saturated absolute 4-neighbour Laplacian
func Laplacian(img *image.NRGBA) *image.NRGBA {
	return imaging.Convolve3x3(img, [9]float64{
		0, 1, 0,
		1, -4, 1,
		0, 1, 0,
	}, &imaging.ConvolveOptions{Abs: true})
}

// Sobel blends the absolute horizontal and vertical Sobel responses 50/50
func Sobel(img *image.NRGBA) *image.NRGBA {
	gx := imaging.Convolve3x3(img, [9]float64{
		-1, 0, 1,
		-2, 0, 2,
		-1, 0, 1,
	}, &imaging.ConvolveOptions{Abs: true})
	gy := imaging.Convolve3x3(img, [9]float64{
		-1, -2, -1,
		0, 0, 0,
		1, 2, 1,
	}, &imaging.ConvolveOptions{Abs: true})

	out := image.NewNRGBA(gx.Bounds())
	for i := 0; i < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			out.Pix[i+c] = uint8(math.Round(0.5*float64(gx.Pix[i+c]) + 0.5*float64(gy.Pix[i+c])))
		}
		out.Pix[i+3] = gx.Pix[i+3]
	}
	return out
}

// Threshold binarizes the luma of img: values above level become white,
// everything else black. The result is replicated to all three channels.
func Threshold(img *image.NRGBA, level uint8) *image.NRGBA {
	gray := imaging.Grayscale(img)
	return imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		v := uint8(0)
		if c.R > level {
			v = 255
		}
		return color.NRGBA{v, v, v, c.A}
	})
}

// Identity returns an unmodified copy of img
func Identity(img *image.NRGBA) *image.NRGBA {
	return imaging.Clone(img)
}

// MedianBlur3 replaces every sample by the median of its 3x3 neighbourhood.
// Borders replicate the edge pixel. Alpha is copied through.
func MedianBlur3(img *image.NRGBA) *image.NRGBA {
	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))

	parallelRows(h, func(y int) {
		var win [9]uint8
		for x := 0; x < w; x++ {
			o := dst.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				n := 0
				for dy := -1; dy <= 1; dy++ {
					sy := clamp(y+dy, 0, h-1)
					for dx := -1; dx <= 1; dx++ {
						sx := clamp(x+dx, 0, w-1)
						win[n] = src.Pix[src.PixOffset(sx, sy)+c]
						n++
					}
				}
				dst.Pix[o+c] = median9(&win)
			}
			dst.Pix[o+3] = src.Pix[o+3]
		}
	})
	return dst
}

// Bilateral smooths img while preserving edges. Pixels within a diameter d
// neighbourhood are weighted by spatial distance (sigmaSpace) and by the L1
// colour distance to the centre pixel (sigmaColor). Borders reflect without
// repeating the edge pixel.
func Bilateral(img *image.NRGBA, d int, sigmaColor, sigmaSpace float64) *image.NRGBA {
	if d <= 0 {
		d = int(math.Round(sigmaSpace * 1.5))
	}
	radius := d / 2
	if sigmaColor <= 0 {
		sigmaColor = 1
	}
	if sigmaSpace <= 0 {
		sigmaSpace = 1
	}

	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))

	// Colour weights indexed by L1 distance over three channels
	colorWeight := make([]float64, 3*255+1)
	cc := -0.5 / (sigmaColor * sigmaColor)
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * cc)
	}

	type tap struct {
		dx, dy int
		w      float64
	}
	sc := -0.5 / (sigmaSpace * sigmaSpace)
	var taps []tap
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r2 := dx*dx + dy*dy
			if r2 > radius*radius {
				continue
			}
			taps = append(taps, tap{dx, dy, math.Exp(float64(r2) * sc)})
		}
	}

	parallelRows(h, func(y int) {
		for x := 0; x < w; x++ {
			o := src.PixOffset(x, y)
			r0, g0, b0 := int(src.Pix[o]), int(src.Pix[o+1]), int(src.Pix[o+2])

			var sr, sg, sb, sw float64
			for _, t := range taps {
				p := src.PixOffset(reflect101(x+t.dx, w), reflect101(y+t.dy, h))
				r, g, b := int(src.Pix[p]), int(src.Pix[p+1]), int(src.Pix[p+2])
				wt := t.w * colorWeight[abs(r-r0)+abs(g-g0)+abs(b-b0)]
				sr += wt * float64(r)
				sg += wt * float64(g)
				sb += wt * float64(b)
				sw += wt
			}

			dst.Pix[o] = clampUint8(sr / sw)
			dst.Pix[o+1] = clampUint8(sg / sw)
			dst.Pix[o+2] = clampUint8(sb / sw)
			dst.Pix[o+3] = src.Pix[o+3]
		}
	})
	return dst
}

// parallelRows runs fn for every row in [0, h) on a bounded worker pool
func parallelRows(h int, fn func(y int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > h {
		workers = h
	}
	if workers <= 1 {
		for y := 0; y < h; y++ {
			fn(y)
		}
		return
	}

	p := pool.New().WithMaxGoroutines(workers)
	chunk := (h + workers - 1) / workers
	for start := 0; start < h; start += chunk {
		end := min(start+chunk, h)
		p.Go(func() {
			for y := start; y < end; y++ {
				fn(y)
			}
		})
	}
	p.Wait()
}

func median9(v *[9]uint8) uint8 {
	s := v[:]
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s[4]
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampUint8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
