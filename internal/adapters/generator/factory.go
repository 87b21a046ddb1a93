package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"masto-digest/internal/domain"
	"masto-digest/internal/infra/openai"
)

// Options задают провайдера и параметры генерации.
type Options struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// New выбирает реализацию по имени провайдера.
// Для "none" возвращается nil: генерация отключена.
func New(ctx context.Context, opts Options) (domain.Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	switch provider {
	case "none", "":
		return nil, nil
	case "simple":
		return NewSimple(), nil
	case "openai", "openrouter", "ollama":
		if provider != "ollama" && opts.APIKey == "" {
			return nil, fmt.Errorf("generator: для %s нужен LLM_API_KEY", provider)
		}
		client := openai.NewClient(provider, opts.APIKey, opts.BaseURL, opts.Timeout)
		return NewOpenAI(client, provider, opts.Model, opts.Temperature, opts.MaxTokens, opts.Timeout), nil
	case "anthropic":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("generator: для anthropic нужен LLM_API_KEY")
		}
		return NewAnthropic(NewAnthropicClient(opts.APIKey, opts.BaseURL), opts.Model, opts.Temperature, opts.MaxTokens, opts.Timeout), nil
	case "gemini":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("generator: для gemini нужен LLM_API_KEY")
		}
		g, err := NewGemini(ctx, opts.APIKey, opts.Model, opts.Temperature, opts.MaxTokens, opts.Timeout)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("generator: неизвестный провайдер %q", opts.Provider)
	}
}
