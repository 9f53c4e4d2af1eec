// Package catalog loads the immutable level catalog at startup.
//
// The catalog is an ordered JSON array of level definitions, fetched once
// over HTTP GET or read from a local file. A load or validation failure is
// fatal: the game cannot proceed past the start screen without levels, so
// main logs and exits instead of serving.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ashureev/backchannel/internal/domain"
)

const maxCatalogBytes = 4 << 20

// Load reads and validates the catalog from source, which is either an
// http(s) URL or a local file path. The catalog is never refetched after a
// successful load.
func Load(ctx context.Context, source string) ([]domain.LevelDefinition, error) {
	data, err := read(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load catalog from %s: %w", source, err)
	}

	var levels []domain.LevelDefinition
	if err := json.Unmarshal(data, &levels); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	if err := Validate(levels); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}

	return levels, nil
}

func read(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return fetch(ctx, source)
	}
	return os.ReadFile(source)
}

func fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes))
}

// Validate checks catalog invariants: at least one level, ids sequential
// from 1 (progress arrays are index-parallel, so gaps would desync them),
// and every level playable.
func Validate(levels []domain.LevelDefinition) error {
	if len(levels) == 0 {
		return fmt.Errorf("catalog is empty")
	}
	for i, l := range levels {
		if l.ID != i+1 {
			return fmt.Errorf("level at position %d: id %d, want %d", i, l.ID, i+1)
		}
		if l.Title == "" {
			return fmt.Errorf("level %d: title is required", l.ID)
		}
		if l.Briefing == "" {
			return fmt.Errorf("level %d: briefing is required", l.ID)
		}
		if l.SystemPrompt == "" {
			return fmt.Errorf("level %d: systemPrompt is required", l.ID)
		}
		if l.MissionLength <= 0 {
			return fmt.Errorf("level %d: missionLength must be > 0", l.ID)
		}
	}
	return nil
}

// ByID returns the level with the given id, or nil if no such level exists.
func ByID(levels []domain.LevelDefinition, id int) *domain.LevelDefinition {
	idx := id - 1
	if idx < 0 || idx >= len(levels) {
		return nil
	}
	return &levels[idx]
}
