package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"masto-digest/internal/domain"
	"masto-digest/internal/infra/metrics"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Gemini строит сводки через Google Generative AI.
type Gemini struct {
	client  *genai.Client
	model   contentGenerator
	name    string
	timeout time.Duration
}

var _ domain.Generator = (*Gemini)(nil)

// NewGemini создаёт клиента и настраивает модель на JSON-ответ.
func NewGemini(ctx context.Context, apiKey, model string, temperature float64, maxTokens int, timeout time.Duration) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	gm := client.GenerativeModel(model)
	gm.SetTemperature(float32(temperature))
	if maxTokens > 0 {
		gm.SetMaxOutputTokens(int32(maxTokens))
	}
	gm.ResponseMIMEType = "application/json"
	gm.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	g := newGemini(gm, model, timeout)
	g.client = client
	return g, nil
}

func newGemini(model contentGenerator, name string, timeout time.Duration) *Gemini {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gemini{model: model, name: name, timeout: timeout}
}

// Engine реализует domain.Generator.
func (g *Gemini) Engine() string { return "gemini" }

// Model реализует domain.Generator.
func (g *Gemini) Model() string { return g.name }

// Close закрывает gRPC-клиента.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// Generate реализует domain.Generator.
func (g *Gemini) Generate(ctx context.Context, text string) (domain.Generated, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.model.GenerateContent(ctx, genai.Text(text))
	metrics.ObserveNetworkRequest("gemini", "generate_content", g.name, start, err)
	if err != nil {
		return domain.Generated{}, fmt.Errorf("gemini generate: %w", err)
	}
	if resp.UsageMetadata != nil {
		metrics.ObserveLLMGeneration(g.name, time.Since(start), int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount), int(resp.UsageMetadata.TotalTokenCount))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return domain.Generated{}, fmt.Errorf("gemini generate: %w", errEmptyResponse)
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return parseGenerated(b.String())
}
