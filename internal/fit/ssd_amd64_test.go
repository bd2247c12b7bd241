//go:build amd64 && !purego

package fit

import (
	"fmt"
	"testing"

	"golang.org/x/sys/cpu"
)

func requireAVX2(t *testing.T) {
	t.Helper()
	if !cpu.X86.HasAVX2 {
		t.Skip("CPU has no AVX2")
	}
}

func TestSelectSSDKernel_AVX2(t *testing.T) {
	backend, _ := selectSSDKernel()
	want := SSDBackendScalar
	if cpu.X86.HasAVX2 {
		want = SSDBackendAVX2
	}
	if backend != want {
		t.Errorf("Expected %s backend, got %s", want, backend)
	}
}

func TestSSDRowAVX2_MatchesNaive(t *testing.T) {
	requireAVX2(t)

	// Widths around the 4-pixel block and the chunk boundary
	for _, width := range []int{1, 3, 4, 5, 8, 15, 16, 17, 1023, 1024, 1025, 2500} {
		t.Run(fmt.Sprintf("w%d", width), func(t *testing.T) {
			a := randomNRGBA(width, 1, int64(width))
			b := randomNRGBA(width, 1, int64(width)+77)

			want := ssdRowNaive(a.Pix, b.Pix)
			if got := ssdRowAVX2(a.Pix, b.Pix); got != want {
				t.Errorf("Expected %d, got %d", want, got)
			}
		})
	}
}

func TestSSDRowAVX2_MaxDifference(t *testing.T) {
	requireAVX2(t)

	// Every channel differs by 255 over several chunks
	const width = 3000
	a := make([]uint8, width*4)
	b := make([]uint8, width*4)
	for i := range a {
		a[i] = 255
		if i%4 == 3 {
			b[i] = 17 // alpha must not count
		}
	}

	want := uint64(width * 3 * 255 * 255)
	if got := ssdRowAVX2(a, b); got != want {
		t.Errorf("Expected %d, got %d", want, got)
	}
	if got := ssdRowAVX2(b, a); got != want {
		t.Errorf("Swapped operands: expected %d, got %d", want, got)
	}
}

func BenchmarkSSDRow_AVX2(b *testing.B) {
	if !cpu.X86.HasAVX2 {
		b.Skip("CPU has no AVX2")
	}
	x := randomNRGBA(1024, 1, 1)
	y := randomNRGBA(1024, 1, 2)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ssdRowAVX2(x.Pix, y.Pix)
	}
}
