package store

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "runs.db"))
	if err != nil {
		t.Fatalf("Failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_SaveLoad(t *testing.T) {
	s := setupSQLiteStore(t)

	rec := createTestRecord("sql-run")
	rec.FinalMetrics.PSNR = math.Inf(1)
	if err := s.SaveRun(rec); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	loaded, err := s.LoadRun("sql-run")
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	if loaded.RunID != rec.RunID || loaded.OutputHash != rec.OutputHash {
		t.Errorf("Loaded record mismatch: %+v", loaded)
	}
	if !math.IsInf(loaded.FinalMetrics.PSNR, 1) {
		t.Errorf("Expected +Inf PSNR, got %f", loaded.FinalMetrics.PSNR)
	}
}

func TestSQLiteStore_Upsert(t *testing.T) {
	s := setupSQLiteStore(t)

	rec := createTestRecord("sql-upsert")
	if err := s.SaveRun(rec); err != nil {
		t.Fatal(err)
	}
	rec.FinalScore = 1.9
	rec.Stop = "exhausted"
	if err := s.SaveRun(rec); err != nil {
		t.Fatal(err)
	}

	infos, err := s.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Fatalf("Expected 1 run after upsert, got %d", len(infos))
	}
	if infos[0].FinalScore != 1.9 || infos[0].Stop != "exhausted" {
		t.Errorf("Listing not updated: %+v", infos[0])
	}
}

func TestSQLiteStore_ListNewestFirst(t *testing.T) {
	s := setupSQLiteStore(t)

	base := time.Now()
	for i := 0; i < 3; i++ {
		rec := createTestRecord(fmt.Sprintf("sql-%d", i))
		rec.Timestamp = base.Add(time.Duration(i) * time.Second)
		if err := s.SaveRun(rec); err != nil {
			t.Fatal(err)
		}
	}

	infos, err := s.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(infos))
	}
	if infos[0].RunID != "sql-2" || infos[2].RunID != "sql-0" {
		t.Errorf("Unexpected order: %+v", infos)
	}
	if infos[0].Applied != 2 || infos[0].RefPath != "assets/clean.png" {
		t.Errorf("Listing columns mismatch: %+v", infos[0])
	}
	if !infos[0].Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Errorf("Timestamp mismatch: %v", infos[0].Timestamp)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := setupSQLiteStore(t)

	if err := s.SaveRun(createTestRecord("sql-del")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRun("sql-del"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := s.LoadRun("sql-del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteRun("sql-del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSQLiteStore_RejectsInvalid(t *testing.T) {
	s := setupSQLiteStore(t)

	rec := createTestRecord("sql-bad")
	rec.Stop = "bored"
	var ve *ValidationError
	if err := s.SaveRun(rec); !errors.As(err, &ve) {
		t.Errorf("Expected ValidationError, got %v", err)
	}
}

func TestSQLiteStore_ConcurrentSave(t *testing.T) {
	s := setupSQLiteStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if err := s.SaveRun(createTestRecord(fmt.Sprintf("sql-c-%d", idx))); err != nil {
				t.Errorf("Concurrent save failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	infos, err := s.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 8 {
		t.Errorf("Expected 8 runs, got %d", len(infos))
	}
}
