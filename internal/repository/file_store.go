package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"dreamweaver-server/internal/models"

	"go.uber.org/zap"
)

const snapshotExt = ".world.zst"

var _ WorldStateStore = (*FileWorldStateStore)(nil)

// FileWorldStateStore keeps each world in its own compressed file and replaces
// it atomically (temp file in the same directory, fsync, rename).
type FileWorldStateStore struct {
	dir     string
	builder SeedBuilder
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileWorldStateStore creates the directory if needed.
func NewFileWorldStateStore(dir string, builder SeedBuilder, logger *zap.Logger) (*FileWorldStateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create world dir %s: %w", dir, err)
	}
	return &FileWorldStateStore{
		dir:     dir,
		builder: builder,
		logger:  logger.Named("FileWorldStateStore"),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func (s *FileWorldStateStore) path(worldID string) string {
	return filepath.Join(s.dir, worldID+snapshotExt)
}

func (s *FileWorldStateStore) worldLock(worldID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[worldID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[worldID] = l
	}
	return l
}

func (s *FileWorldStateStore) Create(ctx context.Context, worldID string, seed models.Seed) (*models.WorldState, error) {
	if err := models.ValidateWorldID(worldID); err != nil {
		return nil, err
	}
	state, err := s.builder.NewFromSeed(worldID, seed, s.now())
	if err != nil {
		return nil, err
	}

	l := s.worldLock(worldID)
	l.Lock()
	defer l.Unlock()

	data, err := encodeSnapshot(state, s.now())
	if err != nil {
		return nil, err
	}
	tmpPath, err := s.writeTemp(worldID, data)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpPath)

	// Link fails if the target exists, which makes creation exclusive.
	if err := os.Link(tmpPath, s.path(worldID)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrAlreadyExists, worldID)
		}
		return nil, fmt.Errorf("publish world %s: %w", worldID, err)
	}
	if err := syncDir(s.dir); err != nil {
		return nil, fmt.Errorf("publish world %s: %w", worldID, err)
	}
	s.logger.Info("World created", zap.String("worldID", worldID), zap.String("startRegion", state.StartRegion))
	return state, nil
}

func (s *FileWorldStateStore) Load(ctx context.Context, worldID string) (*models.WorldState, error) {
	if err := models.ValidateWorldID(worldID); err != nil {
		return nil, err
	}
	state, _, err := s.read(worldID)
	return state, err
}

func (s *FileWorldStateStore) read(worldID string) (*models.WorldState, snapshotHeader, error) {
	data, err := os.ReadFile(s.path(worldID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, snapshotHeader{}, fmt.Errorf("%w: %s", models.ErrNotFound, worldID)
		}
		return nil, snapshotHeader{}, fmt.Errorf("read world %s: %w", worldID, err)
	}
	state, header, err := decodeSnapshot(data)
	if err != nil {
		return nil, header, fmt.Errorf("world %s: %w", worldID, err)
	}
	return state, header, nil
}

func (s *FileWorldStateStore) Save(ctx context.Context, state *models.WorldState) error {
	if err := models.ValidateWorldID(state.ID); err != nil {
		return err
	}
	l := s.worldLock(state.ID)
	l.Lock()
	defer l.Unlock()

	current, _, err := s.read(state.ID)
	if err != nil {
		return err
	}
	if err := checkNextVersion(state.ID, current.Version, state.Version); err != nil {
		return err
	}

	data, err := encodeSnapshot(state, s.now())
	if err != nil {
		return err
	}
	tmpPath, err := s.writeTemp(state.ID, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path(state.ID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace world %s: %w", state.ID, err)
	}
	if err := syncDir(s.dir); err != nil {
		return fmt.Errorf("replace world %s: %w", state.ID, err)
	}
	s.logger.Debug("World saved", zap.String("worldID", state.ID), zap.Int64("version", state.Version), zap.Int("bytes", len(data)))
	return nil
}

func (s *FileWorldStateStore) List(ctx context.Context) ([]models.WorldSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list world dir: %w", err)
	}
	out := make([]models.WorldSummary, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		worldID := strings.TrimSuffix(name, snapshotExt)
		state, header, err := s.read(worldID)
		if err != nil {
			s.logger.Warn("Skipping unreadable world file", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, models.WorldSummary{ID: worldID, Version: state.Version, UpdatedAt: header.SavedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// writeTemp writes data to a synced temp file next to the final path.
func (s *FileWorldStateStore) writeTemp(worldID string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(s.dir, worldID+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp for world %s: %w", worldID, err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write temp for world %s: %w", worldID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync temp for world %s: %w", worldID, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp for world %s: %w", worldID, err)
	}
	cleanup = false
	return tmpPath, nil
}

// syncDir flushes directory entries so a rename or link survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return fmt.Errorf("sync dir: %w", err)
	}
	return d.Close()
}
