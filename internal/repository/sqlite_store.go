package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dreamweaver-server/internal/models"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	sqliteInsertWorld = `INSERT INTO worlds (world_id, version, state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (world_id) DO NOTHING`
	sqliteSelectWorld = `SELECT state FROM worlds WHERE world_id = ?`
	sqliteUpdateWorld = `UPDATE worlds SET version = ?, state = ?, updated_at = ?
WHERE world_id = ? AND version = ?`
	sqliteSelectVersion = `SELECT version FROM worlds WHERE world_id = ?`
	sqliteListWorlds    = `SELECT world_id, version, updated_at FROM worlds ORDER BY world_id`
)

var _ WorldStateStore = (*SQLiteWorldStateStore)(nil)

// SQLiteWorldStateStore stores snapshots as JSON rows in an embedded database.
type SQLiteWorldStateStore struct {
	db      *sql.DB
	builder SeedBuilder
	logger  *zap.Logger
	now     func() time.Time
}

// OpenSQLiteWorldStateStore opens (or creates) the database at path.
func OpenSQLiteWorldStateStore(path string, builder SeedBuilder, logger *zap.Logger) (*SQLiteWorldStateStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty sqlite path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS worlds (
		world_id   TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		state      TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	return &SQLiteWorldStateStore{
		db:      db,
		builder: builder,
		logger:  logger.Named("SQLiteWorldStateStore"),
		now:     time.Now,
	}, nil
}

// Close releases the database handle.
func (s *SQLiteWorldStateStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteWorldStateStore) Create(ctx context.Context, worldID string, seed models.Seed) (*models.WorldState, error) {
	state, err := s.builder.NewFromSeed(worldID, seed, s.now())
	if err != nil {
		return nil, err
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal world %s: %w", worldID, err)
	}
	ts := state.CreatedAt.Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, sqliteInsertWorld, worldID, state.Version, string(blob), ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert world %s: %w", worldID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrAlreadyExists, worldID)
	}
	s.logger.Info("World created", zap.String("worldID", worldID))
	return state, nil
}

func (s *SQLiteWorldStateStore) Load(ctx context.Context, worldID string) (*models.WorldState, error) {
	var blob string
	if err := s.db.QueryRowContext(ctx, sqliteSelectWorld, worldID).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, worldID)
		}
		return nil, fmt.Errorf("select world %s: %w", worldID, err)
	}
	var state models.WorldState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, fmt.Errorf("unmarshal world %s: %w", worldID, err)
	}
	normalize(&state)
	return &state, nil
}

func (s *SQLiteWorldStateStore) Save(ctx context.Context, state *models.WorldState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal world %s: %w", state.ID, err)
	}
	res, err := s.db.ExecContext(ctx, sqliteUpdateWorld,
		state.Version, string(blob), s.now().UTC().Format(time.RFC3339Nano), state.ID, state.Version-1)
	if err != nil {
		return fmt.Errorf("update world %s: %w", state.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var stored int64
	if err := s.db.QueryRowContext(ctx, sqliteSelectVersion, state.ID).Scan(&stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", models.ErrNotFound, state.ID)
		}
		return fmt.Errorf("select world version %s: %w", state.ID, err)
	}
	return fmt.Errorf("%w: world %s stored at version %d, got %d", models.ErrVersionConflict, state.ID, stored, state.Version)
}

func (s *SQLiteWorldStateStore) List(ctx context.Context) ([]models.WorldSummary, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListWorlds)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	defer rows.Close()

	var out []models.WorldSummary
	for rows.Next() {
		var (
			sum       models.WorldSummary
			updatedAt string
		)
		if err := rows.Scan(&sum.ID, &sum.Version, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan world row: %w", err)
		}
		sum.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}
