package fit

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/cespare/xxhash/v2"
)

// ImageHash returns the xxHash64 of the image size and its pixel rows.
// Images with equal content hash equally regardless of stride or origin.
func ImageHash(img *image.NRGBA) uint64 {
	b := img.Bounds()
	d := xxhash.New()

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(b.Dy()))
	_, _ = d.Write(hdr[:])

	rowBytes := b.Dx() * 4
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := img.PixOffset(b.Min.X, y)
		_, _ = d.Write(img.Pix[i : i+rowBytes])
	}
	return d.Sum64()
}

// ImageHashString formats ImageHash as 16 hex digits
func ImageHashString(img *image.NRGBA) string {
	return fmt.Sprintf("%016x", ImageHash(img))
}
