//go:build amd64 && !purego

package fit

import "golang.org/x/sys/cpu"

// ssdChunkBytes bounds one assembly call so its 32-bit lane sums cannot
// overflow: 1024 pixels * 3 * 255^2 < 2^32.
const ssdChunkBytes = 4096

// ssdRowAVX2Asm sums squared RGB differences over n bytes of two NRGBA rows.
// n must be a multiple of 16 and at most ssdChunkBytes.
//
//go:noescape
func ssdRowAVX2Asm(a, b *uint8, n int) uint64

func selectSSDKernel() (SSDBackend, func(a, b []uint8) uint64) {
	if cpu.X86.HasAVX2 {
		return SSDBackendAVX2, ssdRowAVX2
	}
	return SSDBackendScalar, ssdRowScalar
}

// ssdRowAVX2 runs the assembly kernel over whole 4-pixel blocks and the
// scalar kernel over the remaining pixels
func ssdRowAVX2(a, b []uint8) uint64 {
	b = b[:len(a)]
	n := len(a) &^ 15

	var sum uint64
	for off := 0; off < n; off += ssdChunkBytes {
		m := min(ssdChunkBytes, n-off)
		sum += ssdRowAVX2Asm(&a[off], &b[off], m)
	}
	if n < len(a) {
		sum += ssdRowScalar(a[n:], b[n:])
	}
	return sum
}
