package imageio

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 40), uint8(y * 60), 90, 255})
		}
	}
	return img
}

func TestSaveLoad_PNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.png")
	src := testImage()

	require.NoError(t, Save(path, src))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, got.Pix)
	assert.Equal(t, image.Rect(0, 0, 6, 4), got.Bounds())
}

func TestLoad_BMP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.bmp")
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, testImage()))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, testImage().Pix, got.Pix)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0644))
	_, err = Load(garbage)
	assert.Error(t, err)
}

func TestSave_UnsupportedExtension(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "out.xyz"), testImage())
	assert.Error(t, err)
}

func TestEncodePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, testImage()))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, testImage().Pix, got.Pix)
}
