package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dreamweaver-server/internal/config"

	"github.com/ollama/ollama/api"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrAIGenerationFailed wraps every error returned by an AIClient.
var ErrAIGenerationFailed = errors.New("AI generation failed")

// ErrEmptyCompletion is returned when the model answered with no content.
var ErrEmptyCompletion = errors.New("empty completion")

// GenerationParams tunes one completion.
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	// JSONMode asks the backend to constrain output to a JSON object.
	JSONMode bool
}

// UsageInfo reports token consumption of one completion.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// AIClient generates text from a system prompt and a user input.
type AIClient interface {
	GenerateText(ctx context.Context, systemPrompt, userInput string, params GenerationParams) (string, UsageInfo, error)
	Model() string
}

type openAIClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

func (c *openAIClient) Model() string { return c.model }

func (c *openAIClient) GenerateText(ctx context.Context, systemPrompt, userInput string, params GenerationParams) (string, UsageInfo, error) {
	usage := UsageInfo{}
	if strings.TrimSpace(systemPrompt) == "" {
		return "", usage, fmt.Errorf("%w: system prompt is empty", ErrAIGenerationFailed)
	}
	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userInput != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: userInput})
	}
	req := openaigo.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
	}
	if params.JSONMode {
		req.ResponseFormat = &openaigo.ChatCompletionResponseFormat{Type: openaigo.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("OpenAI request failed", zap.String("model", c.model), zap.Duration("duration", duration), zap.Error(err))
		return "", usage, fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", usage, fmt.Errorf("%w: %w", ErrAIGenerationFailed, ErrEmptyCompletion)
	}

	usage.PromptTokens = resp.Usage.PromptTokens
	usage.CompletionTokens = resp.Usage.CompletionTokens
	usage.TotalTokens = resp.Usage.TotalTokens
	c.logger.Debug("OpenAI response received",
		zap.String("model", c.model),
		zap.Duration("duration", duration),
		zap.Int("promptTokens", usage.PromptTokens),
		zap.Int("completionTokens", usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, usage, nil
}

type ollamaClient struct {
	client *api.Client
	model  string
	logger *zap.Logger
}

func newOllamaClient(cfg config.AIConfig, logger *zap.Logger) (AIClient, error) {
	// api.NewClient wants the bare host, without the OpenAI-compatible /v1 suffix.
	baseURL := strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1")
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse Ollama base URL %q: %w", baseURL, err)
	}
	logger.Info("Ollama client created", zap.String("baseURL", baseURL), zap.String("model", cfg.Model))
	return &ollamaClient{
		client: api.NewClient(parsed, &http.Client{Timeout: cfg.HTTPTimeout}),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

func (c *ollamaClient) Model() string { return c.model }

func (c *ollamaClient) GenerateText(ctx context.Context, systemPrompt, userInput string, params GenerationParams) (string, UsageInfo, error) {
	usage := UsageInfo{}
	if strings.TrimSpace(systemPrompt) == "" {
		return "", usage, fmt.Errorf("%w: system prompt is empty", ErrAIGenerationFailed)
	}
	messages := []api.Message{{Role: "system", Content: systemPrompt}}
	if userInput != "" {
		messages = append(messages, api.Message{Role: "user", Content: userInput})
	}
	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": float32Val(params.Temperature),
			"num_predict": intVal(params.MaxTokens),
		},
	}
	if params.JSONMode {
		req.Format = json.RawMessage(`"json"`)
	}

	var resp api.ChatResponse
	err := c.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return "", usage, fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
	}
	if resp.Message.Content == "" {
		return "", usage, fmt.Errorf("%w: %w", ErrAIGenerationFailed, ErrEmptyCompletion)
	}
	usage.PromptTokens = resp.PromptEvalCount
	usage.CompletionTokens = resp.EvalCount
	usage.TotalTokens = resp.PromptEvalCount + resp.EvalCount
	return resp.Message.Content, usage, nil
}

// NewAIClient creates the client selected by cfg.ClientType.
func NewAIClient(cfg config.AIConfig, logger *zap.Logger) (AIClient, error) {
	logger = logger.Named("AIClient")
	switch strings.ToLower(cfg.ClientType) {
	case "openai":
		openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
		openaiConfig.BaseURL = cfg.BaseURL
		openaiConfig.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
		logger.Info("OpenAI client created", zap.String("baseURL", cfg.BaseURL), zap.String("model", cfg.Model))
		return &openAIClient{
			client: openaigo.NewClientWithConfig(openaiConfig),
			model:  cfg.Model,
			logger: logger,
		}, nil
	case "ollama":
		return newOllamaClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown AI client type '%s'", cfg.ClientType)
	}
}

func float32Val(f64 *float64) float32 {
	if f64 == nil {
		return 1.0
	}
	return float32(*f64)
}

func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
