package main

import (
	"bytes"
	"image"
	"image/color"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwbudde/denoiseopt/internal/imageio"
	"github.com/cwbudde/denoiseopt/internal/store"
)

func TestRunCommand_SaveAndList(t *testing.T) {
	tmpDir := t.TempDir()
	refFile := filepath.Join(tmpDir, "ref.png")
	noisyFile := filepath.Join(tmpDir, "noisy.png")
	outFile := filepath.Join(tmpDir, "out.png")
	dataDir := filepath.Join(tmpDir, "data")

	writeTestImage(t, refFile)

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	defer rootCmd.SetOut(nil)

	rootCmd.SetArgs([]string{"degrade", "--in", refFile, "--out", noisyFile, "--noise", "saltpepper", "--amount", "0.05", "--seed", "3"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("degrade failed: %v", err)
	}

	rootCmd.SetArgs([]string{
		"run",
		"--ref", refFile,
		"--input", noisyFile,
		"--out", outFile,
		"--ops", "median_blur,gaussian_blur,identity",
		"--max-iters", "3",
		"--parallel", "2",
		"--save",
		"--data-dir", dataDir,
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Applied: median_blur") {
		t.Errorf("Expected median_blur to be applied first:\n%s", buf.String())
	}

	out, err := imageio.Load(outFile)
	if err != nil {
		t.Fatalf("Output should be readable: %v", err)
	}
	if out.Bounds().Dx() != 32 || out.Bounds().Dy() != 32 {
		t.Errorf("Output has wrong size %v", out.Bounds())
	}

	fs, err := store.NewFSStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	runs, err := fs.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected one saved run, got %d", len(runs))
	}

	tr, err := store.NewTraceReader(dataDir, runs[0].RunID)
	if err != nil {
		t.Fatalf("Trace should exist: %v", err)
	}
	defer tr.Close()
	entries, err := tr.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != runs[0].Iterations {
		t.Errorf("Expected %d trace entries, got %d", runs[0].Iterations, len(entries))
	}

	buf.Reset()
	rootCmd.SetArgs([]string{"runs", "list", "--data-dir", dataDir})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("runs list failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total runs: 1") {
		t.Errorf("Unexpected list output:\n%s", buf.String())
	}
}

func TestOpsCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	defer rootCmd.SetOut(nil)

	rootCmd.SetArgs([]string{"ops"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("ops failed: %v", err)
	}
	for _, name := range []string{"gaussian_blur", "median_blur", "bilateral_filter", "identity"} {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("Missing %s in output:\n%s", name, buf.String())
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// writeTestImage writes a 32x32 image with horizontal bands
func writeTestImage(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			v := uint8(60 + (y/8)*40)
			img.SetNRGBA(x, y, color.NRGBA{v, v, 200 - v/2, 255})
		}
	}
	if err := imageio.Save(path, img); err != nil {
		t.Fatalf("Failed to write test image: %v", err)
	}
}
