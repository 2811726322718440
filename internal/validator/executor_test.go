package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"dreamweaver-server/internal/models"
	"dreamweaver-server/internal/stage"
	"dreamweaver-server/internal/stage/mocks"
	"dreamweaver-server/internal/world"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type adapterFunc func(ctx context.Context, kind models.StageKind, in stage.Input) (string, error)

func (f adapterFunc) Execute(ctx context.Context, kind models.StageKind, in stage.Input) (string, error) {
	return f(ctx, kind, in)
}

func demoWorld(t *testing.T) *models.WorldState {
	t.Helper()
	w, err := world.NewModel(0).NewFromSeed("demo_world", models.Seed{
		Regions:    []models.Region{{Name: "Clearing"}},
		Characters: []models.Character{{ID: "elda", Name: "Elda"}},
	}, time.Unix(1700000000, 0))
	require.NoError(t, err)
	return w
}

func attempt(n int) interface{} {
	return mock.MatchedBy(func(in stage.Input) bool { return in.Attempt == n })
}

const validQuest = `{"quests": [{"questId": "find_the_well", "status": "active", "progressDelta": 10, "title": "Find the well"}], "notifications": ["New quest: Find the well"]}`

func TestExecutor_RetriesUntilValid(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	v := newValidator(t)
	adapter := new(mocks.Adapter)
	adapter.On("Execute", mock.Anything, models.StageQuestMaster, attempt(1)).Return("{quests: oops", nil).Once()
	adapter.On("Execute", mock.Anything, models.StageQuestMaster, attempt(2)).Return(`{"quests": "none"}`, nil).Once()
	adapter.On("Execute", mock.Anything, models.StageQuestMaster, attempt(3)).Return(validQuest, nil).Once()

	exec := NewExecutor(adapter, v, time.Second, DefaultMaxRetries, zap.New(core))
	out := exec.Run(context.Background(), models.StageQuestMaster, stage.Input{World: demoWorld(t), UserID: "bob"})

	assert.False(t, out.Degraded)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 2, out.Retries)
	require.Len(t, out.Patch.Ops, 1)
	assert.Equal(t, "find_the_well", out.Patch.Ops[0].QuestDelta.QuestID)
	assert.Equal(t, 2, logs.FilterMessage("Stage output rejected").Len())
	assert.Zero(t, logs.FilterMessage("Stage degraded to fallback patch").Len())
	adapter.AssertExpectations(t)
}

func TestExecutor_FeedsRejectionBack(t *testing.T) {
	v := newValidator(t)
	var feedback []string
	adapter := adapterFunc(func(_ context.Context, _ models.StageKind, in stage.Input) (string, error) {
		feedback = append(feedback, in.Feedback)
		if in.Attempt == 1 {
			return `{"action": "move"}`, nil
		}
		return `{"action": "move", "direction": "north"}`, nil
	})

	out := NewExecutor(adapter, v, time.Second, 2, zap.NewNop()).Run(context.Background(), models.StageInterpreter, stage.Input{})

	require.Len(t, feedback, 2)
	assert.Empty(t, feedback[0])
	assert.Contains(t, feedback[1], "move requires a direction")
	assert.Equal(t, "north", out.Patch.Intent.Direction)
}

func TestExecutor_WorldRejectionIsRetried(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	v := newValidator(t)
	w := demoWorld(t)
	model := world.NewModel(0)
	var feedback []string
	adapter := adapterFunc(func(_ context.Context, _ models.StageKind, in stage.Input) (string, error) {
		feedback = append(feedback, in.Feedback)
		if in.Attempt == 1 {
			return `{"lines": [{"characterId": "old_hermit", "speech": "Who goes there?"}], "moods": []}`, nil
		}
		return `{"lines": [{"characterId": "elda", "speech": "Welcome back."}], "moods": []}`, nil
	})
	accept := func(p models.Patch) error {
		_, _, err := model.ApplyPatch(w, p)
		return err
	}

	out := NewExecutor(adapter, v, time.Second, DefaultMaxRetries, zap.New(core)).
		RunChecked(context.Background(), models.StageDialogueWeaver, stage.Input{World: w, UserID: "bob"}, accept)

	assert.False(t, out.Degraded)
	assert.Equal(t, 2, out.Attempts)
	require.Len(t, feedback, 2)
	assert.Contains(t, feedback[1], "old_hermit")
	assert.Equal(t, "elda", out.Patch.Dialogue[0].CharacterID)
	assert.Equal(t, 1, logs.FilterMessage("Stage output rejected by world").Len())
}

func TestExecutor_WorldRejectionDegradesWithoutCheckingFallback(t *testing.T) {
	v := newValidator(t)
	w := demoWorld(t)
	adapter := adapterFunc(func(context.Context, models.StageKind, stage.Input) (string, error) {
		return `{"narration": "The fire crackles."}`, nil
	})
	var checked int
	accept := func(models.Patch) error {
		checked++
		return errors.New("never fits")
	}

	out := NewExecutor(adapter, v, time.Second, 1, zap.NewNop()).
		RunChecked(context.Background(), models.StageNarrator, stage.Input{World: w}, accept)

	assert.True(t, out.Degraded)
	assert.Equal(t, 2, checked)
	assert.ErrorIs(t, out.LastErr, models.ErrValidation)
	assert.Equal(t, FallbackPatch(models.StageNarrator, w, ""), out.Patch)
}

func TestExecutor_DegradesAfterExhaustion(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	v := newValidator(t)
	adapter := new(mocks.Adapter)
	adapter.On("Execute", mock.Anything, models.StageEventEngine, mock.Anything).Return("the storm grows", nil).Times(3)

	w := demoWorld(t)
	out := NewExecutor(adapter, v, time.Second, DefaultMaxRetries, zap.New(core)).
		Run(context.Background(), models.StageEventEngine, stage.Input{World: w, UserID: "bob"})

	assert.True(t, out.Degraded)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 2, out.Retries)
	assert.Equal(t, FallbackPatch(models.StageEventEngine, w, "bob"), out.Patch)
	assert.ErrorIs(t, out.LastErr, models.ErrValidation)
	assert.Equal(t, 1, logs.FilterMessage("Stage degraded to fallback patch").Len())
	adapter.AssertExpectations(t)
}

func TestExecutor_TimeoutIsGenerationFailure(t *testing.T) {
	v := newValidator(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	adapter := adapterFunc(func(context.Context, models.StageKind, stage.Input) (string, error) {
		<-release
		return `{"narration": "too late"}`, nil
	})

	start := time.Now()
	out := NewExecutor(adapter, v, 20*time.Millisecond, 0, zap.NewNop()).
		Run(context.Background(), models.StageNarrator, stage.Input{World: demoWorld(t)})

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, out.Degraded)
	assert.Equal(t, 1, out.Attempts)
	var gf *models.GenerationFailure
	require.True(t, errors.As(out.LastErr, &gf))
	assert.Equal(t, models.FailureTimeout, gf.Kind)
	assert.Equal(t, "Time passes quietly in Clearing.", out.Patch.Narration)
}

func TestExecutor_PlainErrorIsRefused(t *testing.T) {
	v := newValidator(t)
	adapter := adapterFunc(func(context.Context, models.StageKind, stage.Input) (string, error) {
		return "", errors.New("content policy")
	})

	out := NewExecutor(adapter, v, time.Second, 1, zap.NewNop()).Run(context.Background(), models.StageArchitect, stage.Input{})

	assert.True(t, out.Degraded)
	assert.Equal(t, 2, out.Attempts)
	var gf *models.GenerationFailure
	require.True(t, errors.As(out.LastErr, &gf))
	assert.Equal(t, models.FailureRefused, gf.Kind)
	assert.Equal(t, models.StageArchitect, gf.Stage)
}

func TestExecutor_IgnoresCallerCancellation(t *testing.T) {
	v := newValidator(t)
	adapter := adapterFunc(func(ctx context.Context, _ models.StageKind, _ stage.Input) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return `{"narration": "The fire crackles."}`, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewExecutor(adapter, v, time.Second, 0, zap.NewNop()).Run(ctx, models.StageNarrator, stage.Input{})

	assert.False(t, out.Degraded)
	assert.Equal(t, "The fire crackles.", out.Patch.Narration)
}

func TestExecutor_OfflineAdapterOutputIsValid(t *testing.T) {
	v := newValidator(t)
	exec := NewExecutor(stage.OfflineAdapter{}, v, time.Second, 0, zap.NewNop())
	w := demoWorld(t)

	for _, msg := range []string{"explore the area", "talk to elda", "wait", "show my quests"} {
		var prior []models.Patch
		for _, kind := range models.StageOrder {
			out := exec.Run(context.Background(), kind, stage.Input{World: w, UserID: "bob", Message: msg, Prior: prior})
			assert.False(t, out.Degraded, "%s degraded for %q: %v", kind, msg, out.LastErr)
			prior = append(prior, out.Patch)
		}
	}
}
