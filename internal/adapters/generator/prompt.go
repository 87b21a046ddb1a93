package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"masto-digest/internal/domain"
)

const systemPrompt = "You are a helpful personal news editor. " +
	"Analyze the following social media posts from a specific person. " +
	"Write a concise, engaging news headline (max 80 chars) and a short summary blurb (1-3 sentences) " +
	"describing what they have been posting about recently. " +
	"Focus on the most recent content. " +
	"Return JSON matching: {headline, blurb, tags}."

var errEmptyResponse = errors.New("пустой ответ модели")

// parseGenerated разбирает JSON ответа модели, допуская обёртку ```json.
func parseGenerated(content string) (domain.Generated, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Generated{}, errEmptyResponse
	}
	var parsed domain.Generated
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.Generated{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	parsed.Headline = strings.TrimSpace(parsed.Headline)
	parsed.Blurb = strings.TrimSpace(parsed.Blurb)
	parsed.Tags = filterValues(parsed.Tags)
	if parsed.Headline == "" {
		return domain.Generated{}, fmt.Errorf("распаковка ответа LLM: нет заголовка")
	}
	return parsed, nil
}

func filterValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
