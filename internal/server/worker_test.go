package server

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwbudde/denoiseopt/internal/imageio"
	"github.com/cwbudde/denoiseopt/internal/ops"
	"github.com/cwbudde/denoiseopt/internal/store"
)

func TestRunJob_Success(t *testing.T) {
	tmpDir := t.TempDir()
	refPath := filepath.Join(tmpDir, "ref.png")
	inputPath := filepath.Join(tmpDir, "noisy.png")
	ref := createTestImage(t, refPath)
	saveImage(t, inputPath, ops.AddSaltPepper(ref, 0.05, 7))

	runStore, err := store.NewFSStore(filepath.Join(tmpDir, "data"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		RefPath:       refPath,
		InputPath:     inputPath,
		MaxIterations: 3,
		Parallelism:   4,
	})

	if err := runJob(context.Background(), jm, runStore, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.Snapshot(job.ID)
	if updated.State != StateCompleted {
		t.Fatalf("Job should be completed, got %s (%s)", updated.State, updated.Error)
	}
	if len(updated.Applied) == 0 {
		t.Fatal("At least one operation should have been applied to the noisy input")
	}
	if updated.Score <= updated.InitialScore {
		t.Errorf("Score should improve: initial %f, final %f", updated.InitialScore, updated.Score)
	}
	if updated.Metrics == nil || updated.InitialMetrics == nil {
		t.Fatal("Metrics should be set")
	}
	if updated.Metrics.MSE >= updated.InitialMetrics.MSE {
		t.Errorf("MSE should drop: %f -> %f", updated.InitialMetrics.MSE, updated.Metrics.MSE)
	}
	if updated.Evaluations < len(ops.Default()) {
		t.Errorf("Expected at least one full round of evaluations, got %d", updated.Evaluations)
	}

	rec, err := runStore.LoadRun(job.ID)
	if err != nil {
		t.Fatalf("Run should be persisted: %v", err)
	}
	if rec.Stop != updated.Stop {
		t.Errorf("Persisted stop %q does not match job stop %q", rec.Stop, updated.Stop)
	}
	if len(rec.Config.Operations) != len(ops.Default()) {
		t.Errorf("Expected the default catalog in the record, got %v", rec.Config.Operations)
	}
	for _, name := range []string{"best", "diff"} {
		if _, err := os.Stat(runStore.ArtifactPath(job.ID, name)); err != nil {
			t.Errorf("Artifact %s should exist: %v", name, err)
		}
	}
}

func TestRunJob_ReferenceConverges(t *testing.T) {
	tmpDir := t.TempDir()
	refPath := filepath.Join(tmpDir, "ref.png")
	createTestImage(t, refPath)

	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{RefPath: refPath, MaxIterations: 5})

	if err := runJob(context.Background(), jm, nil, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.Snapshot(job.ID)
	if updated.State != StateCompleted {
		t.Fatalf("Job should be completed, got %s", updated.State)
	}
	if updated.Stop != "converged" {
		t.Errorf("Expected converged, got %q", updated.Stop)
	}
	if updated.Iterations != 1 {
		t.Errorf("Expected 1 iteration, got %d", updated.Iterations)
	}
	if len(updated.Applied) != 0 {
		t.Errorf("Nothing should beat the reference itself, applied %v", updated.Applied)
	}
}

func TestRunJob_InvalidImage(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		RefPath:       "/nonexistent/image.png",
		MaxIterations: 5,
	})

	err := runJob(context.Background(), jm, nil, job.ID)
	if err == nil {
		t.Error("runJob should fail with invalid image path")
	}

	updated, _ := jm.Snapshot(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_UnknownOperation(t *testing.T) {
	tmpDir := t.TempDir()
	refPath := filepath.Join(tmpDir, "ref.png")
	createTestImage(t, refPath)

	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{RefPath: refPath, Operations: []string{"canny"}, MaxIterations: 1})

	err := runJob(context.Background(), jm, nil, job.ID)
	if !errors.Is(err, ops.ErrUnknownOperation) {
		t.Errorf("Expected ErrUnknownOperation, got %v", err)
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	tmpDir := t.TempDir()
	refPath := filepath.Join(tmpDir, "ref.png")
	createTestImage(t, refPath)

	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{RefPath: refPath, MaxIterations: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runJob(ctx, jm, nil, job.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("runJob should return context.Canceled, got %v", err)
	}

	updated, _ := jm.Snapshot(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
	if updated.Stop != "cancelled" {
		t.Errorf("Expected stop reason cancelled, got %q", updated.Stop)
	}
	if updated.Iterations != 0 {
		t.Errorf("No iteration should run, got %d", updated.Iterations)
	}
}

func TestRunJob_TuneAppendsOperations(t *testing.T) {
	tmpDir := t.TempDir()
	refPath := filepath.Join(tmpDir, "ref.png")
	inputPath := filepath.Join(tmpDir, "noisy.png")
	ref := createSizedTestImage(t, refPath, 16)
	saveImage(t, inputPath, ops.AddGaussianNoise(ref, 12, 3))

	runStore, err := store.NewFSStore(filepath.Join(tmpDir, "data"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		RefPath:       refPath,
		InputPath:     inputPath,
		Operations:    []string{"identity"},
		MaxIterations: 1,
		Tune:          true,
		Seed:          1,
	})

	if err := runJob(context.Background(), jm, runStore, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	rec, err := runStore.LoadRun(job.ID)
	if err != nil {
		t.Fatalf("Run should be persisted: %v", err)
	}
	if !rec.Config.Tuned {
		t.Error("Record should be marked as tuned")
	}
	tuned := 0
	for _, name := range rec.Config.Operations {
		if strings.Contains(name, "(") {
			tuned++
		}
	}
	if tuned == 0 {
		t.Errorf("Expected tuned operations in %v", rec.Config.Operations)
	}
}

func TestComputeDiffImage(t *testing.T) {
	a := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	b := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	a.SetNRGBA(0, 0, color.NRGBA{10, 20, 30, 255})
	b.SetNRGBA(0, 0, color.NRGBA{10, 20, 30, 255})
	a.SetNRGBA(1, 0, color.NRGBA{0, 0, 0, 255})
	b.SetNRGBA(1, 0, color.NRGBA{255, 255, 255, 255})

	diff := computeDiffImage(a, b)
	if got := diff.NRGBAAt(0, 0); got != (color.NRGBA{0, 0, 0, 255}) {
		t.Errorf("Identical pixels should be black, got %v", got)
	}
	if got := diff.NRGBAAt(1, 0); got != (color.NRGBA{255, 0, 0, 255}) {
		t.Errorf("Maximal difference should be full red, got %v", got)
	}
}

// createTestImage writes a 50x50 white image with a red square and returns it
func createTestImage(t *testing.T, path string) *image.NRGBA {
	return createSizedTestImage(t, path, 50)
}

func createSizedTestImage(t *testing.T, path string, size int) *image.NRGBA {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	white := color.NRGBA{255, 255, 255, 255}
	red := color.NRGBA{255, 0, 0, 255}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, white)
		}
	}
	for y := size * 2 / 5; y < size*3/5; y++ {
		for x := size * 2 / 5; x < size*3/5; x++ {
			img.SetNRGBA(x, y, red)
		}
	}

	saveImage(t, path, img)
	return img
}

func saveImage(t *testing.T, path string, img image.Image) {
	t.Helper()
	if err := imageio.Save(path, img); err != nil {
		t.Fatalf("Failed to save test image: %v", err)
	}
}
