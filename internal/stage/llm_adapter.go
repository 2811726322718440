package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"dreamweaver-server/internal/models"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// LLMAdapter runs stages against a chat-completion model.
type LLMAdapter struct {
	client      AIClient
	params      GenerationParams
	tokenBudget int
	encoding    *tiktoken.Tiktoken
	logger      *zap.Logger
}

var _ Adapter = (*LLMAdapter)(nil)

// NewLLMAdapter creates an adapter. tokenBudget limits the user prompt size;
// zero disables trimming.
func NewLLMAdapter(client AIClient, params GenerationParams, tokenBudget int, logger *zap.Logger) *LLMAdapter {
	logger = logger.Named("LLMAdapter")
	var enc *tiktoken.Tiktoken
	if tokenBudget > 0 {
		var err error
		enc, err = tiktoken.EncodingForModel(client.Model())
		if err != nil {
			enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		}
		if err != nil {
			logger.Warn("No tokenizer available, prompt budgeting disabled", zap.String("model", client.Model()), zap.Error(err))
			enc = nil
		}
	}
	params.JSONMode = true
	return &LLMAdapter{client: client, params: params, tokenBudget: tokenBudget, encoding: enc, logger: logger}
}

func (a *LLMAdapter) Execute(ctx context.Context, kind models.StageKind, in Input) (string, error) {
	systemPrompt := SystemPrompt(kind)
	if systemPrompt == "" {
		return "", &models.GenerationFailure{Kind: models.FailureRefused, Stage: kind, Err: fmt.Errorf("no prompt for stage")}
	}
	userInput, err := a.buildUserInput(kind, in)
	if err != nil {
		return "", &models.GenerationFailure{Kind: models.FailureMalformed, Stage: kind, Err: err}
	}

	model := a.client.Model()
	start := time.Now()
	text, usage, err := a.client.GenerateText(ctx, systemPrompt, userInput, a.params)
	aiRequestDuration.With(prometheus.Labels{"model": model, "stage": string(kind)}).Observe(time.Since(start).Seconds())
	if err != nil {
		failure := classify(ctx, kind, err)
		aiRequestsTotal.With(prometheus.Labels{"model": model, "stage": string(kind), "status": string(failure.Kind)}).Inc()
		return "", failure
	}
	aiRequestsTotal.With(prometheus.Labels{"model": model, "stage": string(kind), "status": "success"}).Inc()
	if usage.TotalTokens > 0 {
		aiPromptTokens.With(prometheus.Labels{"model": model}).Observe(float64(usage.PromptTokens))
		aiCompletionTokens.With(prometheus.Labels{"model": model}).Observe(float64(usage.CompletionTokens))
	}
	return text, nil
}

func classify(ctx context.Context, kind models.StageKind, err error) *models.GenerationFailure {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &models.GenerationFailure{Kind: models.FailureTimeout, Stage: kind, Err: err}
	case errors.Is(err, ErrEmptyCompletion):
		return &models.GenerationFailure{Kind: models.FailureMalformed, Stage: kind, Err: err}
	default:
		return &models.GenerationFailure{Kind: models.FailureRefused, Stage: kind, Err: err}
	}
}

// promptContext is the JSON document sent as the user message.
type promptContext struct {
	Stage       models.StageKind `json:"stage"`
	UserID      string           `json:"userId"`
	Message     string           `json:"message"`
	Intent      *models.Intent   `json:"intent,omitempty"`
	Location    string           `json:"playerLocation,omitempty"`
	World       worldDigest      `json:"world"`
	Earlier     []models.Patch   `json:"earlierStages,omitempty"`
	RecentTurns []string         `json:"recentTurns,omitempty"`
	Feedback    string           `json:"correctionNeeded,omitempty"`
}

type worldDigest struct {
	Tick       int64              `json:"tick"`
	Regions    []models.Region    `json:"regions"`
	Characters []models.Character `json:"characters"`
	Quests     []models.Quest     `json:"quests"`
	Metrics    models.Metrics     `json:"metrics"`
}

const maxRecentTurns = 5

func (a *LLMAdapter) buildUserInput(kind models.StageKind, in Input) (string, error) {
	pc := promptContext{
		Stage:    kind,
		UserID:   in.UserID,
		Message:  in.Message,
		Intent:   in.Intent(),
		Earlier:  in.Prior,
		Feedback: in.Feedback,
	}
	if region, ok := in.PlayerRegion(); ok {
		pc.Location = region.ID
	}
	if in.World != nil {
		pc.World = digest(in.World)
		log := in.World.TurnLog
		for i := len(log) - 1; i >= 0 && len(pc.RecentTurns) < maxRecentTurns; i-- {
			pc.RecentTurns = append(pc.RecentTurns, log[i].Narration)
		}
	}

	for {
		raw, err := json.Marshal(pc)
		if err != nil {
			return "", fmt.Errorf("marshal prompt context: %w", err)
		}
		if a.fits(string(raw)) {
			return string(raw), nil
		}
		// Shed history first, then the descriptions of the world.
		switch {
		case len(pc.RecentTurns) > 0:
			pc.RecentTurns = pc.RecentTurns[:len(pc.RecentTurns)-1]
		case hasDescriptions(pc.World.Regions):
			for i := range pc.World.Regions {
				pc.World.Regions[i].Description = ""
			}
		default:
			a.logger.Warn("Prompt exceeds token budget after trimming", zap.String("stage", string(kind)), zap.Int("budget", a.tokenBudget))
			return string(raw), nil
		}
	}
}

func (a *LLMAdapter) fits(s string) bool {
	if a.encoding == nil || a.tokenBudget <= 0 {
		return true
	}
	return len(a.encoding.Encode(s, nil, nil)) <= a.tokenBudget
}

func digest(w *models.WorldState) worldDigest {
	d := worldDigest{Tick: w.Tick, Metrics: w.Metrics}
	for _, id := range sortedIDs(w.Regions) {
		d.Regions = append(d.Regions, w.Regions[id])
	}
	for _, id := range sortedIDs(w.Characters) {
		d.Characters = append(d.Characters, w.Characters[id])
	}
	for _, id := range sortedIDs(w.Quests) {
		d.Quests = append(d.Quests, w.Quests[id])
	}
	return d
}

func hasDescriptions(regions []models.Region) bool {
	for _, r := range regions {
		if strings.TrimSpace(r.Description) != "" {
			return true
		}
	}
	return false
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
