package summaries

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"masto-digest/internal/domain"
)

// DocumentFormatVersion входит в отпечаток: смена раскладки документа
// делает все сводки устаревшими.
const DocumentFormatVersion = "1"

const maxPostRunes = 1000

// Assemble строит каноничный документ аккаунта из постов, отсортированных от новых к старым.
func Assemble(acc domain.Account, posts []domain.Post) string {
	lines := []string{
		"Account: " + acc.Label() + " (" + acc.Handle + ")",
		strings.Repeat("-", 20),
		"Recent Original Posts (Newest First):",
		"",
	}
	for _, p := range posts {
		content := p.ContentText
		if runes := []rune(content); len(runes) > maxPostRunes {
			content = string(runes[:maxPostRunes]) + "[...]"
		}
		lines = append(lines, "["+p.CreatedAt.UTC().Format("2006-01-02 15:04")+"] "+content, "")
	}
	return strings.Join(lines, "\n")
}

// Fingerprint — hex SHA-256 от версии формата и текста документа.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(DocumentFormatVersion + "\n" + text))
	return hex.EncodeToString(sum[:])
}
