package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dreamweaver-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	insertWorldQuery = `
        INSERT INTO worlds (world_id, version, state, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $4)
        ON CONFLICT (world_id) DO NOTHING
    `
	getWorldStateQuery = `SELECT state FROM worlds WHERE world_id = $1`
	updateWorldQuery   = `
        UPDATE worlds SET
            version = $2,
            state = $3,
            updated_at = $4
        WHERE world_id = $1 AND version = $5
    `
	getWorldVersionQuery = `SELECT version FROM worlds WHERE world_id = $1`
	listWorldsQuery      = `SELECT world_id, version, updated_at FROM worlds ORDER BY world_id`
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

var _ WorldStateStore = (*pgWorldStateRepository)(nil)

type pgWorldStateRepository struct {
	db      DBTX
	builder SeedBuilder
	logger  *zap.Logger
	now     func() time.Time
}

// NewPgWorldStateRepository creates a PostgreSQL-backed WorldStateStore.
func NewPgWorldStateRepository(db DBTX, builder SeedBuilder, logger *zap.Logger) WorldStateStore {
	return &pgWorldStateRepository{
		db:      db,
		builder: builder,
		logger:  logger.Named("PgWorldStateRepo"),
		now:     time.Now,
	}
}

func (r *pgWorldStateRepository) Create(ctx context.Context, worldID string, seed models.Seed) (*models.WorldState, error) {
	state, err := r.builder.NewFromSeed(worldID, seed, r.now())
	if err != nil {
		return nil, err
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal world %s: %w", worldID, err)
	}
	tag, err := r.db.Exec(ctx, insertWorldQuery, worldID, state.Version, blob, state.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert world", zap.String("worldID", worldID), zap.Error(err))
		return nil, fmt.Errorf("insert world %s: %w", worldID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrAlreadyExists, worldID)
	}
	r.logger.Info("World created", zap.String("worldID", worldID))
	return state, nil
}

func (r *pgWorldStateRepository) Load(ctx context.Context, worldID string) (*models.WorldState, error) {
	var blob []byte
	if err := r.db.QueryRow(ctx, getWorldStateQuery, worldID).Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, worldID)
		}
		r.logger.Error("Failed to load world", zap.String("worldID", worldID), zap.Error(err))
		return nil, fmt.Errorf("select world %s: %w", worldID, err)
	}
	var state models.WorldState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("unmarshal world %s: %w", worldID, err)
	}
	normalize(&state)
	return &state, nil
}

func (r *pgWorldStateRepository) Save(ctx context.Context, state *models.WorldState) error {
	logFields := []zap.Field{zap.String("worldID", state.ID), zap.Int64("version", state.Version)}
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal world %s: %w", state.ID, err)
	}
	tag, err := r.db.Exec(ctx, updateWorldQuery, state.ID, state.Version, blob, r.now().UTC(), state.Version-1)
	if err != nil {
		r.logger.Error("Failed to update world", append(logFields, zap.Error(err))...)
		return fmt.Errorf("update world %s: %w", state.ID, err)
	}
	if tag.RowsAffected() == 1 {
		r.logger.Debug("World saved", logFields...)
		return nil
	}

	var stored int64
	if err := r.db.QueryRow(ctx, getWorldVersionQuery, state.ID).Scan(&stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", models.ErrNotFound, state.ID)
		}
		return fmt.Errorf("select world version %s: %w", state.ID, err)
	}
	r.logger.Warn("World version conflict", append(logFields, zap.Int64("storedVersion", stored))...)
	return fmt.Errorf("%w: world %s stored at version %d, got %d", models.ErrVersionConflict, state.ID, stored, state.Version)
}

func (r *pgWorldStateRepository) List(ctx context.Context) ([]models.WorldSummary, error) {
	var out []models.WorldSummary
	if err := pgxscan.Select(ctx, r.db, &out, listWorldsQuery); err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	return out, nil
}
