package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/backchannel/internal/domain"
)

func newTestStore(t *testing.T, levelCount int) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	repo, err := NewSQLite(dbPath, levelCount)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return repo.(*SQLiteStore)
}

func TestLoadProgressInitializesDefault(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	progress, err := s.LoadProgress(ctx)
	if err != nil {
		t.Fatalf("LoadProgress failed: %v", err)
	}

	if len(progress.Unlocks) != 4 || len(progress.Scores) != 4 {
		t.Fatalf("Expected arrays of length 4, got %d/%d", len(progress.Unlocks), len(progress.Scores))
	}
	if !progress.Unlocks[0] {
		t.Error("Expected level 0 unlocked in fresh progress")
	}
	for i := 1; i < 4; i++ {
		if progress.Unlocks[i] {
			t.Errorf("Expected level %d locked in fresh progress", i)
		}
	}
	for i, score := range progress.Scores {
		if score != 0 {
			t.Errorf("Expected score 0 at index %d, got %d", i, score)
		}
	}
}

func TestLoadPersistsDefaultImmediately(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()

	if _, err := s.LoadProgress(ctx); err != nil {
		t.Fatalf("LoadProgress failed: %v", err)
	}

	// The default must have been written, not just returned.
	var record string
	row := s.db.QueryRowContext(ctx, `SELECT record FROM progress WHERE key = ?`, progressKey)
	if err := row.Scan(&record); err != nil {
		t.Fatalf("Expected a persisted record after first load: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()

	progress := &domain.PlayerProgress{
		Unlocks: []bool{true, true, false},
		Scores:  []int{12, -3, 0},
	}
	if err := s.SaveProgress(ctx, progress); err != nil {
		t.Fatalf("SaveProgress failed: %v", err)
	}

	got, err := s.LoadProgress(ctx)
	if err != nil {
		t.Fatalf("LoadProgress failed: %v", err)
	}
	for i := range progress.Unlocks {
		if got.Unlocks[i] != progress.Unlocks[i] {
			t.Errorf("Unlocks[%d]: got %v want %v", i, got.Unlocks[i], progress.Unlocks[i])
		}
		if got.Scores[i] != progress.Scores[i] {
			t.Errorf("Scores[%d]: got %d want %d", i, got.Scores[i], progress.Scores[i])
		}
	}
}

func TestSaveLoadByteStable(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()

	readRecord := func() string {
		var record string
		row := s.db.QueryRowContext(ctx, `SELECT record FROM progress WHERE key = ?`, progressKey)
		if err := row.Scan(&record); err != nil {
			t.Fatalf("Failed to read record: %v", err)
		}
		return record
	}

	first, err := s.LoadProgress(ctx)
	if err != nil {
		t.Fatalf("LoadProgress failed: %v", err)
	}
	before := readRecord()

	// save(load()) repeated must not change the stored bytes.
	for i := 0; i < 3; i++ {
		if err := s.SaveProgress(ctx, first); err != nil {
			t.Fatalf("SaveProgress failed: %v", err)
		}
		first, err = s.LoadProgress(ctx)
		if err != nil {
			t.Fatalf("LoadProgress failed: %v", err)
		}
	}

	if after := readRecord(); after != before {
		t.Errorf("Stored record drifted:\nbefore: %s\nafter:  %s", before, after)
	}
}

func TestCorruptRecordFallsBackToDefault(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()

	query := `INSERT INTO progress (key, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, progressKey, `{not json`, time.Now().Unix()); err != nil {
		t.Fatalf("Failed to inject corrupt record: %v", err)
	}

	progress, err := s.LoadProgress(ctx)
	if err != nil {
		t.Fatalf("Expected fallback, got error: %v", err)
	}
	if !progress.Unlocks[0] || progress.Unlocks[1] || progress.Unlocks[2] {
		t.Errorf("Expected fresh default progress, got %+v", progress)
	}
}

func TestMismatchedCatalogResetsRecord(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()

	// A record shaped for a 5-level catalog is corrupt for a 3-level one.
	stale := &domain.PlayerProgress{
		Unlocks: []bool{true, true, true, false, false},
		Scores:  []int{9, 9, 9, 0, 0},
	}
	if err := s.SaveProgress(ctx, stale); err != nil {
		t.Fatalf("SaveProgress failed: %v", err)
	}

	progress, err := s.LoadProgress(ctx)
	if err != nil {
		t.Fatalf("LoadProgress failed: %v", err)
	}
	if len(progress.Unlocks) != 3 {
		t.Fatalf("Expected record resized to catalog, got %d levels", len(progress.Unlocks))
	}
	if progress.Scores[0] != 0 {
		t.Errorf("Expected a fresh record, kept stale score %d", progress.Scores[0])
	}
}
