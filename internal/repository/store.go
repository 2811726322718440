package repository

import (
	"context"
	"fmt"
	"time"

	"dreamweaver-server/internal/models"
)

// WorldStateStore persists one snapshot per world with version-checked writes.
type WorldStateStore interface {
	// Create persists the version 0 snapshot built from seed.
	// Returns models.ErrAlreadyExists if the world is already stored.
	Create(ctx context.Context, worldID string, seed models.Seed) (*models.WorldState, error)
	// Load returns the latest snapshot or models.ErrNotFound.
	Load(ctx context.Context, worldID string) (*models.WorldState, error)
	// Save replaces the stored snapshot only when state.Version is exactly the
	// stored version + 1; otherwise models.ErrVersionConflict and nothing changes.
	Save(ctx context.Context, state *models.WorldState) error
	// List returns all stored worlds ordered by id.
	List(ctx context.Context) ([]models.WorldSummary, error)
}

// SeedBuilder turns a seed into an initial snapshot.
type SeedBuilder interface {
	NewFromSeed(worldID string, seed models.Seed, now time.Time) (*models.WorldState, error)
}

func checkNextVersion(worldID string, stored, incoming int64) error {
	if incoming != stored+1 {
		return fmt.Errorf("%w: world %s stored at version %d, got %d", models.ErrVersionConflict, worldID, stored, incoming)
	}
	return nil
}
