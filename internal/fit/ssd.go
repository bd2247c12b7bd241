package fit

import (
	"image"
	"log/slog"
)

// Squared-error kernel with runtime dispatch.
//
// On amd64 hosts with AVX2 the row kernel is hand-written assembly that
// handles four pixels per step; everything else uses the pure-Go kernel.
// Both accumulate in integer arithmetic, so they return bit-identical sums.
//
// Alpha is ignored: only R, G and B contribute.

// SSDBackend indicates which row kernel is active
type SSDBackend int

const (
	SSDBackendScalar SSDBackend = iota
	SSDBackendAVX2
)

func (b SSDBackend) String() string {
	switch b {
	case SSDBackendAVX2:
		return "avx2"
	case SSDBackendScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// ActiveSSDBackend reports which backend was selected at initialization
var ActiveSSDBackend SSDBackend

// ssdRow is the runtime-dispatched row kernel
var ssdRow func(a, b []uint8) uint64

func init() {
	ActiveSSDBackend, ssdRow = selectSSDKernel()
	slog.Debug("SSD kernel initialized", "backend", ActiveSSDBackend.String())
}

// SumSquaredError returns the sum of squared RGB differences of two images
// with identical bounds. The caller checks dimensions.
func SumSquaredError(a, b *image.NRGBA) uint64 {
	ab, bb := a.Bounds(), b.Bounds()
	rowBytes := ab.Dx() * 4

	var sum uint64
	for y := 0; y < ab.Dy(); y++ {
		ia := a.PixOffset(ab.Min.X, ab.Min.Y+y)
		ib := b.PixOffset(bb.Min.X, bb.Min.Y+y)
		sum += ssdRow(a.Pix[ia:ia+rowBytes], b.Pix[ib:ib+rowBytes])
	}
	return sum
}

// ssdRowNaive is the reference implementation used to validate the others
func ssdRowNaive(a, b []uint8) uint64 {
	var sum uint64
	for i := 0; i+3 < len(a); i += 4 {
		for c := 0; c < 3; c++ {
			d := int64(a[i+c]) - int64(b[i+c])
			sum += uint64(d * d)
		}
	}
	return sum
}

// ssdRowScalar processes 4 pixels per iteration
func ssdRowScalar(a, b []uint8) uint64 {
	n := len(a) / 4
	unroll := (n / 4) * 4

	var s0, s1, s2, s3 int64
	x := 0
	for ; x < unroll; x += 4 {
		i := x * 4
		s0 += sq(a[i+0], b[i+0]) + sq(a[i+1], b[i+1]) + sq(a[i+2], b[i+2])
		s1 += sq(a[i+4], b[i+4]) + sq(a[i+5], b[i+5]) + sq(a[i+6], b[i+6])
		s2 += sq(a[i+8], b[i+8]) + sq(a[i+9], b[i+9]) + sq(a[i+10], b[i+10])
		s3 += sq(a[i+12], b[i+12]) + sq(a[i+13], b[i+13]) + sq(a[i+14], b[i+14])
	}
	for ; x < n; x++ {
		i := x * 4
		s0 += sq(a[i+0], b[i+0]) + sq(a[i+1], b[i+1]) + sq(a[i+2], b[i+2])
	}
	return uint64(s0 + s1 + s2 + s3)
}

func sq(a, b uint8) int64 {
	d := int64(a) - int64(b)
	return d * d
}
