package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"

	"masto-digest/internal/domain"
	"masto-digest/internal/infra/metrics"
)

type messagesClient interface {
	CreateMessages(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
}

// Anthropic строит сводки через Messages API.
type Anthropic struct {
	client      messagesClient
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

var _ domain.Generator = (*Anthropic)(nil)

// NewAnthropicClient создаёт клиента Messages API.
func NewAnthropicClient(apiKey, baseURL string) *anthropic.Client {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return anthropic.NewClient(apiKey, opts...)
}

// NewAnthropic создаёт генератор.
func NewAnthropic(client messagesClient, model string, temperature float64, maxTokens int, timeout time.Duration) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Anthropic{client: client, model: model, temperature: float32(temperature), maxTokens: maxTokens, timeout: timeout}
}

// Engine реализует domain.Generator.
func (g *Anthropic) Engine() string { return "anthropic" }

// Model реализует domain.Generator.
func (g *Anthropic) Model() string { return g.model }

// Generate реализует domain.Generator.
func (g *Anthropic) Generate(ctx context.Context, text string) (domain.Generated, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	temperature := g.temperature
	start := time.Now()
	resp, err := g.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(g.model),
		System:      systemPrompt,
		MaxTokens:   g.maxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(text),
		},
	})
	metrics.ObserveNetworkRequest("anthropic", "messages", g.model, start, err)
	if err != nil {
		return domain.Generated{}, fmt.Errorf("anthropic messages: %w", err)
	}
	metrics.ObserveLLMGeneration(g.model, time.Since(start), resp.Usage.InputTokens, resp.Usage.OutputTokens, 0)

	var b strings.Builder
	for _, part := range resp.Content {
		if part.Text != nil {
			b.WriteString(*part.Text)
		}
	}
	return parseGenerated(b.String())
}
