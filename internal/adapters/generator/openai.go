package generator

import (
	"context"
	"fmt"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"masto-digest/internal/domain"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// OpenAI строит сводки через OpenAI-совместимый Chat Completions API
// (openai, openrouter, ollama).
type OpenAI struct {
	client      chatClient
	engine      string
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

var _ domain.Generator = (*OpenAI)(nil)

// NewOpenAI создаёт генератор.
func NewOpenAI(client chatClient, engine, model string, temperature float64, maxTokens int, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4o"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{client: client, engine: engine, model: model, temperature: float32(temperature), maxTokens: maxTokens, timeout: timeout}
}

// Engine реализует domain.Generator.
func (g *OpenAI) Engine() string { return g.engine }

// Model реализует domain.Generator.
func (g *OpenAI) Model() string { return g.model }

// Generate реализует domain.Generator.
func (g *OpenAI) Generate(ctx context.Context, text string) (domain.Generated, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := goopenai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject},
	}
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Generated{}, fmt.Errorf("%s completion: %w", g.engine, err)
	}
	if len(resp.Choices) == 0 {
		return domain.Generated{}, fmt.Errorf("%s completion: %w", g.engine, errEmptyResponse)
	}
	return parseGenerated(resp.Choices[0].Message.Content)
}
