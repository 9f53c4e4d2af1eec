// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/backchannel/internal/domain"
)

// Repository defines the interface for persisting player progress.
//
// The whole progress record lives under one fixed key and every save
// replaces it; there are no partial writes or merge semantics.
type Repository interface {
	// LoadProgress retrieves the player progress record. If no record
	// exists, or the stored record is corrupt or shaped for a different
	// catalog, a fresh default record is persisted and returned.
	LoadProgress(ctx context.Context) (*domain.PlayerProgress, error)

	// SaveProgress persists the full record, overwriting any prior value.
	SaveProgress(ctx context.Context, progress *domain.PlayerProgress) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
