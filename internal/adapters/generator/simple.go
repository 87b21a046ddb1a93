package generator

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"masto-digest/internal/domain"
)

var (
	postLine = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}\] `)
	hashtag  = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)
)

const maxSimpleTags = 5

// Simple строит сводку эвристикой без обращения к модели.
type Simple struct{}

var _ domain.Generator = Simple{}

// NewSimple создаёт генератор.
func NewSimple() Simple { return Simple{} }

// Engine реализует domain.Generator.
func (Simple) Engine() string { return "simple" }

// Model реализует domain.Generator.
func (Simple) Model() string { return "heuristic" }

// Generate берёт заголовок из самого нового поста, а теги из хэштегов документа.
func (Simple) Generate(_ context.Context, text string) (domain.Generated, error) {
	var posts []string
	for _, line := range strings.Split(text, "\n") {
		if loc := postLine.FindStringIndex(line); loc != nil {
			posts = append(posts, strings.TrimSpace(line[loc[1]:]))
		}
	}
	if len(posts) == 0 {
		return domain.Generated{Headline: "Нет свежих постов", Tags: []string{}}, nil
	}

	words := strings.Fields(posts[0])
	headline := truncate(strings.Join(words[:min(len(words), 12)], " "), 80)
	blurb := ""
	if remaining := words[min(len(words), 12):]; len(remaining) > 0 {
		blurb = truncate(strings.Join(remaining[:min(len(remaining), 25)], " "), 160)
	}
	if len(posts) > 1 {
		blurb = strings.TrimSpace(blurb + " " + truncate(posts[1], 160))
	}

	seen := map[string]struct{}{}
	tags := []string{}
	for _, m := range hashtag.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[1])
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
		if len(tags) == maxSimpleTags {
			break
		}
	}
	return domain.Generated{Headline: headline, Blurb: blurb, Tags: tags}, nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
