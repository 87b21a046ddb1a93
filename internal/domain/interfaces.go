package domain

import (
	"context"
	"iter"
	"time"
)

// RemoteSource даёт постраничный доступ к подпискам и постам.
// Последовательности конечны; сетевая ошибка отдаётся последним элементом
// (nil, err), после чего последовательность заканчивается.
type RemoteSource interface {
	Self(ctx context.Context) (RemoteIdentity, error)
	Following(ctx context.Context, ownerID string, pageSize int) iter.Seq2[[]RemoteAccount, error]
	Statuses(ctx context.Context, accountID string, pageSize int) iter.Seq2[[]RemotePost, error]
}

// Normalizer превращает HTML поста в текст.
type Normalizer interface {
	Normalize(html string) string
}

// Generator строит сводку по тексту документа.
type Generator interface {
	Generate(ctx context.Context, text string) (Generated, error)
	Engine() string
	Model() string
}

// GenerationCache хранит результаты генерации по ключу содержимого.
type GenerationCache interface {
	Get(ctx context.Context, key string) (Generated, bool, error)
	Set(ctx context.Context, key string, value Generated) error
}

// AccountRepo управляет аккаунтами.
type AccountRepo interface {
	// LatestSeenAt возвращает максимальный last_seen_at или nil, если аккаунтов нет.
	LatestSeenAt(ctx context.Context) (*time.Time, error)
	UpsertAccount(ctx context.Context, remote RemoteAccount, seenAt time.Time) (Account, error)
	GetAccount(ctx context.Context, handle string) (Account, error)
	MarkFetched(ctx context.Context, handle string, at time.Time) error
	// ListSyncTargets — активные аккаунты, давно не синхронизированные первыми.
	ListSyncTargets(ctx context.Context, activeSince time.Time, limit int) ([]Account, error)
	// ListSummaryTargets — активные аккаунты, свежесинхронизированные первыми.
	ListSummaryTargets(ctx context.Context, activeSince time.Time, limit int) ([]Account, error)
}

// PostRepo управляет постами.
type PostRepo interface {
	KnownPostIDs(ctx context.Context, remoteIDs []string) (map[string]struct{}, error)
	// SavePostsPage вставляет страницу постов одной транзакцией и возвращает число вставленных.
	SavePostsPage(ctx context.Context, posts []Post) (int, error)
	ListOriginalPosts(ctx context.Context, handle string, limit int) ([]Post, error)
	CountPosts(ctx context.Context, handle string) (int, error)
}

// RunLedger — журнал запусков пайплайна.
type RunLedger interface {
	RecordRun(ctx context.Context, run IngestRun) (IngestRun, error)
	ListRuns(ctx context.Context, limit int) ([]IngestRun, error)
}

// SummaryRepo хранит документы и сводки, по одной живой записи на аккаунт.
type SummaryRepo interface {
	GetSummary(ctx context.Context, handle string) (Summary, error)
	GetDocument(ctx context.Context, handle string) (PersonDocument, error)
	// ReplaceSummary атомарно заменяет документ и сводку аккаунта, если текущий
	// отпечаток сводки равен expected ("" — сводки быть не должно).
	ReplaceSummary(ctx context.Context, expected string, doc PersonDocument, summary Summary) error
}

// Store объединяет все репозитории.
type Store interface {
	AccountRepo
	PostRepo
	RunLedger
	SummaryRepo
	Close() error
}
