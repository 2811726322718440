package mocks

import (
	"context"

	"dreamweaver-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// WorldStateStore is a testify mock of repository.WorldStateStore.
type WorldStateStore struct {
	mock.Mock
}

func (m *WorldStateStore) Create(ctx context.Context, worldID string, seed models.Seed) (*models.WorldState, error) {
	args := m.Called(ctx, worldID, seed)
	state, _ := args.Get(0).(*models.WorldState)
	return state, args.Error(1)
}

func (m *WorldStateStore) Load(ctx context.Context, worldID string) (*models.WorldState, error) {
	args := m.Called(ctx, worldID)
	state, _ := args.Get(0).(*models.WorldState)
	return state, args.Error(1)
}

func (m *WorldStateStore) Save(ctx context.Context, state *models.WorldState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *WorldStateStore) List(ctx context.Context) ([]models.WorldSummary, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).([]models.WorldSummary)
	return out, args.Error(1)
}
