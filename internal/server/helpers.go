package server

import (
	"encoding/json"
	"image"
	"image/color"
	"log/slog"
	"math"
	"net/http"

	"github.com/cwbudde/denoiseopt/internal/imageio"
)

// maxDiffMagnitude is the RGB distance between black and white
var maxDiffMagnitude = math.Sqrt(3 * 255 * 255)

// computeDiffImage creates a false-color difference image:
// black where the images agree, red where they differ most
func computeDiffImage(ref, best *image.NRGBA) *image.NRGBA {
	bounds := ref.Bounds()
	diff := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	off := best.Bounds().Min.Sub(bounds.Min)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			a := ref.NRGBAAt(x, y)
			b := best.NRGBAAt(x+off.X, y+off.Y)

			dr := float64(a.R) - float64(b.R)
			dg := float64(a.G) - float64(b.G)
			db := float64(a.B) - float64(b.B)
			mag := math.Sqrt(dr*dr + dg*dg + db*db)

			normalized := uint8(math.Min(255, math.Round(mag/maxDiffMagnitude*255)))
			diff.SetNRGBA(x-bounds.Min.X, y-bounds.Min.Y, color.NRGBA{normalized, 0, 0, 255})
		}
	}

	return diff
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writePNG(w http.ResponseWriter, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := imageio.EncodePNG(w, img); err != nil {
		slog.Error("Failed to encode PNG", "error", err)
	}
}
