package stage_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"dreamweaver-server/internal/models"
	"dreamweaver-server/internal/stage"
	"dreamweaver-server/internal/stage/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testWorld() *models.WorldState {
	return &models.WorldState{
		ID:          "demo_world",
		StartRegion: "clearing",
		Regions: map[string]models.Region{
			"clearing": {ID: "clearing", Name: "Clearing", Description: "Soft grass."},
		},
		Characters: map[string]models.Character{
			"player:u1": {ID: "player:u1", Name: "u1", Role: models.RolePlayer, Mood: models.MoodNeutral, Location: "clearing"},
			"elda":      {ID: "elda", Name: "Elda", Role: models.RoleNPC, Mood: models.MoodCalm, Location: "clearing"},
		},
		Quests:  map[string]models.Quest{},
		Metrics: models.DefaultMetrics(),
		TurnLog: []models.TurnRecord{{ID: "t1", Number: 1, Narration: "You woke up."}},
	}
}

func TestLLMAdapter_Execute(t *testing.T) {
	ctx := context.Background()
	in := stage.Input{
		World:    testWorld(),
		UserID:   "u1",
		Message:  "explore the area",
		Feedback: "field quests is required",
		Prior: []models.Patch{{
			Stage:  models.StageInterpreter,
			Intent: &models.Intent{Action: models.ActionExplore},
		}},
	}

	t.Run("returns model output and sends context", func(t *testing.T) {
		client := new(mocks.AIClient)
		client.On("Model").Return("gpt-test")
		client.On("GenerateText", ctx,
			stage.SystemPrompt(models.StageQuestMaster),
			mock.MatchedBy(func(userInput string) bool {
				return strings.Contains(userInput, `"message":"explore the area"`) &&
					strings.Contains(userInput, `"correctionNeeded":"field quests is required"`) &&
					strings.Contains(userInput, `"playerLocation":"clearing"`) &&
					strings.Contains(userInput, `"action":"explore"`) &&
					strings.Contains(userInput, "You woke up.")
			}),
			mock.MatchedBy(func(p stage.GenerationParams) bool { return p.JSONMode }),
		).Return(`{"quests":[]}`, stage.UsageInfo{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}, nil).Once()

		adapter := stage.NewLLMAdapter(client, stage.GenerationParams{}, 0, zap.NewNop())
		out, err := adapter.Execute(ctx, models.StageQuestMaster, in)
		require.NoError(t, err)
		assert.Equal(t, `{"quests":[]}`, out)
		client.AssertExpectations(t)
	})

	failures := []struct {
		name string
		err  error
		want models.FailureKind
	}{
		{"timeout", fmt.Errorf("%w: %w", stage.ErrAIGenerationFailed, context.DeadlineExceeded), models.FailureTimeout},
		{"empty", fmt.Errorf("%w: %w", stage.ErrAIGenerationFailed, stage.ErrEmptyCompletion), models.FailureMalformed},
		{"api error", fmt.Errorf("%w: status 400", stage.ErrAIGenerationFailed), models.FailureRefused},
	}
	for _, tc := range failures {
		t.Run(tc.name, func(t *testing.T) {
			client := new(mocks.AIClient)
			client.On("Model").Return("gpt-test")
			client.On("GenerateText", ctx, mock.Anything, mock.Anything, mock.Anything).
				Return("", stage.UsageInfo{}, tc.err).Once()

			adapter := stage.NewLLMAdapter(client, stage.GenerationParams{}, 0, zap.NewNop())
			_, err := adapter.Execute(ctx, models.StageNarrator, in)

			var gf *models.GenerationFailure
			require.True(t, errors.As(err, &gf))
			assert.Equal(t, tc.want, gf.Kind)
			assert.Equal(t, models.StageNarrator, gf.Stage)
			assert.ErrorIs(t, err, models.ErrGenerationFailed)
		})
	}
}

func TestSystemPromptsCoverEveryStage(t *testing.T) {
	for _, kind := range models.StageOrder {
		assert.NotEmpty(t, stage.SystemPrompt(kind), kind)
	}
	assert.Empty(t, stage.SystemPrompt(models.StageSession))
}
