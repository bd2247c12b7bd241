package store

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/denoiseopt/internal/fit"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir() // Automatically cleaned up after test
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}

	return store, tempDir
}

// createTestRecord creates a run record with test data.
func createTestRecord(runID string) *RunRecord {
	return &RunRecord{
		RunID: runID,
		Config: RunConfig{
			RefPath:       "assets/clean.png",
			InputPath:     "assets/noisy.png",
			Operations:    []string{"gaussian_blur", "median_blur"},
			MaxIterations: 5,
			Weights:       fit.DefaultWeights(),
			Ranges:        fit.DefaultRanges(),
		},
		Iterations:     3,
		Stop:           string(fit.StopConverged),
		Applied:        []string{"median_blur", "gaussian_blur"},
		InitialMetrics: fit.Metrics{PSNR: 18.2, SSIM: 0.41, MSE: 982.5},
		InitialScore:   0.49,
		FinalMetrics:   fit.Metrics{PSNR: 29.7, SSIM: 0.88, MSE: 69.3},
		FinalScore:     1.17,
		OutputHash:     "00ff00ff00ff00ff",
		DurationMs:     120,
		Timestamp:      time.Now(),
	}
}

func TestNewFSStore(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "data")

	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if store.BaseDir() != tempDir {
		t.Errorf("Expected base dir %s, got %s", tempDir, store.BaseDir())
	}
	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
}

func TestSaveRun(t *testing.T) {
	store, tempDir := setupTestStore(t)

	rec := createTestRecord("run-123")
	if err := store.SaveRun(rec); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	expectedPath := filepath.Join(tempDir, "runs", "run-123", "run.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Run file was not created at %s", expectedPath)
	}
	if _, err := os.Stat(expectedPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Temp file should not exist after save")
	}
}

func TestSaveRun_Invalid(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.SaveRun(nil); err == nil {
		t.Fatal("Expected error for nil record")
	}

	rec := createTestRecord("")
	err := store.SaveRun(rec)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "RunID" {
		t.Fatalf("Expected RunID validation error, got %v", err)
	}
}

func TestSaveRun_Overwrite(t *testing.T) {
	store, _ := setupTestStore(t)

	first := createTestRecord("run-overwrite")
	first.FinalScore = 0.5
	second := createTestRecord("run-overwrite")
	second.FinalScore = 1.5

	if err := store.SaveRun(first); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	if err := store.SaveRun(second); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := store.LoadRun("run-overwrite")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.FinalScore != 1.5 {
		t.Errorf("Expected FinalScore=1.5, got %f", loaded.FinalScore)
	}
}

func TestLoadRun(t *testing.T) {
	store, _ := setupTestStore(t)

	rec := createTestRecord("run-load")
	rec.InitialMetrics.PSNR = math.Inf(1)
	if err := store.SaveRun(rec); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	loaded, err := store.LoadRun("run-load")
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	if loaded.RunID != rec.RunID || loaded.Stop != rec.Stop || loaded.Iterations != rec.Iterations {
		t.Errorf("Loaded record mismatch: %+v", loaded)
	}
	if len(loaded.Applied) != 2 || loaded.Applied[0] != "median_blur" {
		t.Errorf("Applied mismatch: %v", loaded.Applied)
	}
	if !math.IsInf(loaded.InitialMetrics.PSNR, 1) {
		t.Errorf("Infinite PSNR should survive a round trip, got %f", loaded.InitialMetrics.PSNR)
	}
	if loaded.FinalMetrics != rec.FinalMetrics {
		t.Errorf("FinalMetrics mismatch: %+v vs %+v", loaded.FinalMetrics, rec.FinalMetrics)
	}
	if !loaded.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("Timestamp mismatch: %v vs %v", loaded.Timestamp, rec.Timestamp)
	}
}

func TestLoadRun_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadRun("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if _, err := store.LoadRun(""); err == nil {
		t.Fatal("Expected error for empty runID")
	}
}

func TestListRuns_Empty(t *testing.T) {
	store, _ := setupTestStore(t)

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected no runs, got %d", len(infos))
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	store, _ := setupTestStore(t)

	base := time.Now()
	for i := 0; i < 3; i++ {
		rec := createTestRecord(fmt.Sprintf("run-%d", i))
		rec.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := store.SaveRun(rec); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(infos))
	}
	for i, want := range []string{"run-2", "run-1", "run-0"} {
		if infos[i].RunID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, infos[i].RunID)
		}
	}
}

func TestListRuns_SkipsInvalidDirectories(t *testing.T) {
	store, tempDir := setupTestStore(t)

	if err := store.SaveRun(createTestRecord("valid")); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	// Directory without run.json
	os.MkdirAll(filepath.Join(tempDir, "runs", "empty"), 0755)

	// Corrupted run.json
	corrupted := filepath.Join(tempDir, "runs", "corrupted")
	os.MkdirAll(corrupted, 0755)
	os.WriteFile(filepath.Join(corrupted, "run.json"), []byte("{not json"), 0644)

	// Stray file
	os.WriteFile(filepath.Join(tempDir, "runs", "stray.txt"), []byte("x"), 0644)

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 1 || infos[0].RunID != "valid" {
		t.Errorf("Expected only the valid run, got %+v", infos)
	}
}

func TestDeleteRun(t *testing.T) {
	store, tempDir := setupTestStore(t)

	if err := store.SaveRun(createTestRecord("run-delete")); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := store.SaveArtifact("run-delete", "best", image.NewNRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}

	if err := store.DeleteRun("run-delete"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "runs", "run-delete")); !os.IsNotExist(err) {
		t.Error("Run directory should be removed")
	}

	if err := store.DeleteRun("run-delete"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
	if err := store.DeleteRun(""); err == nil {
		t.Error("Expected error for empty runID")
	}
}

func TestArtifacts(t *testing.T) {
	store, _ := setupTestStore(t)

	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(1, 1, color.NRGBA{10, 20, 30, 255})

	if err := store.SaveArtifact("run-art", "best", img); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}
	if filepath.Base(store.ArtifactPath("run-art", "best")) != "best.png" {
		t.Errorf("Unexpected artifact path %s", store.ArtifactPath("run-art", "best"))
	}

	loaded, err := store.LoadArtifact("run-art", "best")
	if err != nil {
		t.Fatalf("LoadArtifact failed: %v", err)
	}
	if fit.ImageHash(loaded) != fit.ImageHash(img) {
		t.Error("Artifact content changed on round trip")
	}

	if _, err := store.LoadArtifact("run-art", "diff"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing artifact, got %v", err)
	}
	if err := store.SaveArtifact("", "best", img); err == nil {
		t.Error("Expected error for empty runID")
	}
}

func TestConcurrentSave(t *testing.T) {
	store, _ := setupTestStore(t)

	const numRuns = 10
	done := make(chan bool, numRuns)

	for i := 0; i < numRuns; i++ {
		go func(idx int) {
			runID := fmt.Sprintf("concurrent-run-%d", idx)
			if err := store.SaveRun(createTestRecord(runID)); err != nil {
				t.Errorf("Concurrent save failed for run %s: %v", runID, err)
			}
			done <- true
		}(i)
	}

	for i := 0; i < numRuns; i++ {
		<-done
	}

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != numRuns {
		t.Errorf("Expected %d runs, got %d", numRuns, len(infos))
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, closer, err := Open(KindFS, dir)
	if err != nil {
		t.Fatalf("Open fs failed: %v", err)
	}
	if _, ok := s.(*FSStore); !ok {
		t.Errorf("Expected *FSStore, got %T", s)
	}
	closer.Close()

	s, closer, err = Open(KindSQLite, dir)
	if err != nil {
		t.Fatalf("Open sqlite failed: %v", err)
	}
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Expected *SQLiteStore, got %T", s)
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if _, _, err := Open("redis", dir); err == nil {
		t.Error("Expected error for unknown store kind")
	}
}
