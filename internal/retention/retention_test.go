package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/data-lagoon/lagoon/internal/config"
	"github.com/data-lagoon/lagoon/internal/lake"
)

func newTestLake(t *testing.T) *lake.Manager {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = filepath.Join(t.TempDir(), "lake")
	lk, err := lake.New(cfg)
	if err != nil {
		t.Fatalf("lake.New: %v", err)
	}
	return lk
}

func storeOn(t *testing.T, lk *lake.Manager, daysAgo int) string {
	t.Helper()
	day := time.Now().AddDate(0, 0, -daysAgo)
	path, err := lk.Store("getGuestChecks", lake.Document{"n": float64(daysAgo)}, day, "store_001", nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	return path
}

func TestCleanupRemovesOldKeepsRecent(t *testing.T) {
	lk := newTestLake(t)
	old := storeOn(t, lk, 100)
	recent := storeOn(t, lk, 10)

	m := New(lk, zerolog.Nop())
	res, err := m.Cleanup(30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if res.FilesRemoved != 1 {
		t.Errorf("FilesRemoved = %d, want 1", res.FilesRemoved)
	}
	if res.FreedMB < 0 {
		t.Errorf("FreedMB = %f, want >= 0", res.FreedMB)
	}
	wantCutoff := time.Now().AddDate(0, 0, -30).Format("2006-01-02")
	if res.CutoffDate != wantCutoff {
		t.Errorf("CutoffDate = %s, want %s", res.CutoffDate, wantCutoff)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("old record still present: %s", old)
	}
	if _, err := os.Stat(recent); err != nil {
		t.Errorf("recent record gone: %v", err)
	}
}

func TestCleanupKeepsCutoffDay(t *testing.T) {
	lk := newTestLake(t)
	atCutoff := storeOn(t, lk, 30)

	m := New(lk, zerolog.Nop())
	res, err := m.Cleanup(30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if res.FilesRemoved != 0 {
		t.Errorf("FilesRemoved = %d, want 0", res.FilesRemoved)
	}
	if _, err := os.Stat(atCutoff); err != nil {
		t.Errorf("cutoff-day record gone: %v", err)
	}
}

func TestCleanupLeavesInvalidDateDirs(t *testing.T) {
	lk := newTestLake(t)
	badDir := filepath.Join(lk.ZoneDir(lake.ZoneRaw), "getGuestChecks", "year=1990", "month=02", "day=30")
	if err := os.MkdirAll(badDir, 0o755); err != nil {
		t.Fatal(err)
	}
	stray := filepath.Join(badDir, "stray.json")
	if err := os.WriteFile(stray, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(lk, zerolog.Nop())
	if _, err := m.Cleanup(30); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Errorf("invalid-date dir was touched: %v", err)
	}
}

func TestCleanupDisabled(t *testing.T) {
	lk := newTestLake(t)
	old := storeOn(t, lk, 400)

	m := New(lk, zerolog.Nop())
	res, err := m.Cleanup(0)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if res.FilesRemoved != 0 {
		t.Errorf("FilesRemoved = %d, want 0", res.FilesRemoved)
	}
	if _, err := os.Stat(old); err != nil {
		t.Errorf("record removed with retention disabled: %v", err)
	}
}

func TestArchiveMovesAndCompresses(t *testing.T) {
	lk := newTestLake(t)
	old := storeOn(t, lk, 60)
	recent := storeOn(t, lk, 5)

	origData, err := os.ReadFile(old)
	if err != nil {
		t.Fatal(err)
	}

	m := New(lk, zerolog.Nop())
	res, err := m.Archive(30)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if res.PartitionsMoved != 1 {
		t.Errorf("PartitionsMoved = %d, want 1", res.PartitionsMoved)
	}
	if res.FilesCompressed != 1 {
		t.Errorf("FilesCompressed = %d, want 1", res.FilesCompressed)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("old record still in raw zone: %s", old)
	}
	if _, err := os.Stat(recent); err != nil {
		t.Errorf("recent record gone: %v", err)
	}

	rel, err := filepath.Rel(lk.ZoneDir(lake.ZoneRaw), old)
	if err != nil {
		t.Fatal(err)
	}
	archived := filepath.Join(lk.ZoneDir(lake.ZoneArchive), rel+".zst")
	packed, err := os.ReadFile(archived)
	if err != nil {
		t.Fatalf("archived file missing: %v", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	plain, err := dec.DecodeAll(packed, nil)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if string(plain) != string(origData) {
		t.Error("archived content does not round-trip")
	}
}
