package mocks

import (
	"context"

	"dreamweaver-server/internal/models"
	"dreamweaver-server/internal/stage"

	"github.com/stretchr/testify/mock"
)

// Adapter is a testify mock of stage.Adapter.
type Adapter struct {
	mock.Mock
}

func (m *Adapter) Execute(ctx context.Context, kind models.StageKind, in stage.Input) (string, error) {
	args := m.Called(ctx, kind, in)
	return args.String(0), args.Error(1)
}

// AIClient is a testify mock of stage.AIClient.
type AIClient struct {
	mock.Mock
}

func (m *AIClient) GenerateText(ctx context.Context, systemPrompt, userInput string, params stage.GenerationParams) (string, stage.UsageInfo, error) {
	args := m.Called(ctx, systemPrompt, userInput, params)
	usage, _ := args.Get(1).(stage.UsageInfo)
	return args.String(0), usage, args.Error(2)
}

func (m *AIClient) Model() string {
	return m.Called().String(0)
}
