package mocks

import (
	"context"

	"dreamweaver-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// TurnService is a testify mock of service.TurnService.
type TurnService struct {
	mock.Mock
}

func (m *TurnService) HandleTurn(ctx context.Context, req models.TurnRequest) (*models.TurnResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*models.TurnResult)
	return res, args.Error(1)
}

func (m *TurnService) GetState(ctx context.Context, worldID, userID string) (*models.WorldView, error) {
	args := m.Called(ctx, worldID, userID)
	view, _ := args.Get(0).(*models.WorldView)
	return view, args.Error(1)
}

func (m *TurnService) ListWorlds(ctx context.Context) ([]models.WorldSummary, error) {
	args := m.Called(ctx)
	worlds, _ := args.Get(0).([]models.WorldSummary)
	return worlds, args.Error(1)
}

func (m *TurnService) ActivePlayers(ctx context.Context, worldID string) ([]models.PlayerPresence, error) {
	args := m.Called(ctx, worldID)
	players, _ := args.Get(0).([]models.PlayerPresence)
	return players, args.Error(1)
}

func (m *TurnService) Leave(ctx context.Context, worldID, userID string) error {
	return m.Called(ctx, worldID, userID).Error(0)
}
