package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/backchannel/internal/domain"
	"github.com/ashureev/backchannel/internal/shared"
	_ "modernc.org/sqlite"
)

// progressKey is the fixed key the single player record lives under.
const progressKey = "player"

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	levelCount int
	mu         sync.Mutex // serialize progress writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository. levelCount is the size
// of the loaded catalog; stored records shaped for a different catalog are
// discarded as corrupt.
func NewSQLite(dbPath string, levelCount int) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, levelCount: levelCount}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS progress (
		key TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadProgress retrieves the player progress record, reinitializing it when
// missing or corrupt. A corrupt record is never surfaced to the caller; the
// player simply starts over from level one.
func (s *SQLiteStore) LoadProgress(ctx context.Context) (*domain.PlayerProgress, error) {
	query := `SELECT record FROM progress WHERE key = ?`
	row := s.db.QueryRowContext(ctx, query, progressKey)

	var record string
	err := row.Scan(&record)
	if err == sql.ErrNoRows {
		return s.reinitialize(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("scan progress row: %w", err)
	}

	var progress domain.PlayerProgress
	if err := json.Unmarshal([]byte(record), &progress); err != nil {
		slog.Warn("Stored progress is unparseable, reinitializing", "error", err)
		return s.reinitialize(ctx)
	}
	if !progress.Valid(s.levelCount) {
		slog.Warn("Stored progress does not match catalog, reinitializing",
			"stored_levels", len(progress.Unlocks), "catalog_levels", s.levelCount)
		return s.reinitialize(ctx)
	}

	return &progress, nil
}

// reinitialize writes a fresh default record so subsequent reads are stable.
func (s *SQLiteStore) reinitialize(ctx context.Context) (*domain.PlayerProgress, error) {
	progress := domain.NewPlayerProgress(s.levelCount)
	if err := s.SaveProgress(ctx, progress); err != nil {
		return nil, fmt.Errorf("persist default progress: %w", err)
	}
	return progress, nil
}

// SaveProgress persists the full record under the fixed key, replacing any
// prior value.
func (s *SQLiteStore) SaveProgress(ctx context.Context, progress *domain.PlayerProgress) error {
	record, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT INTO progress (key, record, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		record = excluded.record,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query, progressKey, string(record), time.Now().Unix())
	if shared.IsSQLiteConflictError(err) {
		// WAL readers can still hold the lock briefly; one retry clears it.
		slog.Warn("Progress write hit a busy database, retrying", "error", err)
		_, err = s.db.ExecContext(ctx, query, progressKey, string(record), time.Now().Unix())
	}
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
