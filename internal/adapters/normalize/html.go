package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"masto-digest/internal/domain"
)

var (
	spaceRuns = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankRuns = regexp.MustCompile(`\n[ \t\r\f\v]*\n(?:[ \t\r\f\v]*\n)*`)
)

// HTML приводит HTML поста к тексту: ссылки, упоминания и хэштеги остаются
// текстом, <br> даёт перевод строки, <p> — абзац.
type HTML struct{}

var _ domain.Normalizer = HTML{}

// Normalize реализует domain.Normalizer.
func (HTML) Normalize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return finish(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				b.WriteByte('\n')
			case "p":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "p" {
				b.WriteByte('\n')
			}
		}
	}
}

func finish(text string) string {
	text = norm.NFC.String(text)
	text = spaceRuns.ReplaceAllString(text, " ")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
