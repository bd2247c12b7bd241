//go:build !amd64 || purego

package fit

func selectSSDKernel() (SSDBackend, func(a, b []uint8) uint64) {
	return SSDBackendScalar, ssdRowScalar
}
