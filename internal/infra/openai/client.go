package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"masto-digest/internal/infra/metrics"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	ollamaBaseURL     = "http://localhost:11434/v1"
)

// Client выполняет Chat Completions запросы и пишет метрики.
type Client struct {
	api *goopenai.Client
}

// NewClient создаёт клиента для OpenAI-совместимого провайдера.
// Для openrouter и ollama подставляется базовый URL по умолчанию.
func NewClient(provider, apiKey, baseURL string, timeout time.Duration) *Client {
	switch strings.ToLower(provider) {
	case "openrouter":
		if baseURL == "" {
			baseURL = openRouterBaseURL
		}
	case "ollama":
		if baseURL == "" {
			baseURL = ollamaBaseURL
		}
		if !strings.HasSuffix(strings.TrimRight(baseURL, "/"), "/v1") {
			baseURL = strings.TrimRight(baseURL, "/") + "/v1"
		}
		if apiKey == "" {
			// ollama ключ не проверяет, но клиент требует непустой.
			apiKey = "ollama"
		}
	}
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout + 5*time.Second}
	return &Client{api: goopenai.NewClientWithConfig(cfg)}
}

// CreateChatCompletion вызывает /chat/completions.
func (c *Client) CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	metrics.ObserveNetworkRequest("openai", "chat_completions", req.Model, start, err)
	if err != nil {
		return goopenai.ChatCompletionResponse{}, fmt.Errorf("openai: %w", err)
	}
	metrics.ObserveLLMGeneration(req.Model, time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	return resp, nil
}
