package contentsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"masto-digest/internal/domain"
	"masto-digest/internal/infra/metrics"
)

// ThrottleWindow — минимальный интервал между синхронизациями одного аккаунта.
const ThrottleWindow = 15 * time.Minute

// StopReason объясняет, почему остановилась пагинация аккаунта.
type StopReason string

const (
	StopMissing     StopReason = "missing"
	StopThrottled   StopReason = "throttled"
	StopAgeCutoff   StopReason = "age_cutoff"
	StopOverlap     StopReason = "overlap"
	StopMaxCount    StopReason = "max_count"
	StopExhausted   StopReason = "exhausted"
	StopRemoteError StopReason = "remote_error"
	StopCanceled    StopReason = "canceled"
)

// Options ограничивают глубину истории.
type Options struct {
	PageSize    int
	MaxStatuses int
	MaxAgeDays  int
}

// SyncResult — итог синхронизации одного аккаунта.
type SyncResult struct {
	Handle   string
	Skipped  bool
	Fetched  int
	Existing int
	Pages    int
	Reason   StopReason
}

// Service забирает новые посты аккаунтов.
type Service struct {
	accounts   domain.AccountRepo
	posts      domain.PostRepo
	remote     domain.RemoteSource
	normalizer domain.Normalizer
	opts       Options
	log        zerolog.Logger
	now        func() time.Time
}

// NewService создаёт синхронизатор.
func NewService(accounts domain.AccountRepo, posts domain.PostRepo, remote domain.RemoteSource, normalizer domain.Normalizer, opts Options, log zerolog.Logger) *Service {
	if opts.PageSize <= 0 {
		opts.PageSize = 40
	}
	if opts.MaxStatuses <= 0 {
		opts.MaxStatuses = 500
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = 92
	}
	return &Service{
		accounts:   accounts,
		posts:      posts,
		remote:     remote,
		normalizer: normalizer,
		opts:       opts,
		log:        log.With().Str("component", "contentsync").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Targets возвращает активные аккаунты, давно не синхронизированные первыми.
func (s *Service) Targets(ctx context.Context, limit int) ([]domain.Account, error) {
	accounts, err := s.accounts.ListSyncTargets(ctx, s.now().Add(-domain.ActiveWindow), limit)
	if err != nil {
		return nil, fmt.Errorf("список аккаунтов для синхронизации: %w", err)
	}
	return accounts, nil
}

// SyncAuthor листает историю аккаунта от новых постов к старым и останавливается
// на границе возраста, на уже известной странице или по лимиту количества.
// Каждая страница сохраняется своей транзакцией. При ошибке платформы сохранённые
// страницы остаются, но аккаунт не отмечается синхронизированным.
func (s *Service) SyncAuthor(ctx context.Context, handle string, forceFetch bool) (SyncResult, error) {
	result := SyncResult{Handle: handle}
	acc, err := s.accounts.GetAccount(ctx, handle)
	if errors.Is(err, domain.ErrAccountNotFound) {
		s.log.Warn().Str("handle", handle).Msg("contentsync: аккаунт пропал из реестра")
		result.Skipped = true
		result.Reason = StopMissing
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("чтение аккаунта %s: %w", handle, err)
	}

	now := s.now()
	if !forceFetch && acc.LastFetchAt != nil && now.Sub(*acc.LastFetchAt) < ThrottleWindow {
		result.Skipped = true
		result.Reason = StopThrottled
		metrics.ObserveAccountSync(string(result.Reason), 0, 0)
		return result, nil
	}

	cutoff := now.AddDate(0, 0, -s.opts.MaxAgeDays)
	for page, err := range s.remote.Statuses(ctx, acc.ServerAccountID, s.opts.PageSize) {
		if err != nil {
			result.Reason = StopRemoteError
			if ctx.Err() != nil {
				result.Reason = StopCanceled
			}
			s.finish(result)
			return result, fmt.Errorf("посты %s: %w", handle, err)
		}
		if err := ctx.Err(); err != nil {
			result.Reason = StopCanceled
			s.finish(result)
			return result, err
		}
		result.Pages++

		reason, err := s.savePage(ctx, acc, page, cutoff, now, forceFetch, &result)
		if err != nil {
			if ctx.Err() != nil {
				result.Reason = StopCanceled
			}
			s.finish(result)
			return result, fmt.Errorf("сохранение постов %s: %w", handle, err)
		}
		if reason != "" {
			result.Reason = reason
			break
		}
	}
	if result.Reason == "" {
		result.Reason = StopExhausted
	}

	if err := s.accounts.MarkFetched(ctx, handle, now); err != nil {
		return result, fmt.Errorf("отметка синхронизации %s: %w", handle, err)
	}
	s.finish(result)
	return result, nil
}

// savePage сохраняет страницу и возвращает причину остановки, если она наступила.
func (s *Service) savePage(ctx context.Context, acc domain.Account, page []domain.RemotePost, cutoff, now time.Time, force bool, result *SyncResult) (StopReason, error) {
	ids := make([]string, 0, len(page))
	for _, rp := range page {
		if !rp.IsBoost {
			ids = append(ids, rp.ID)
		}
	}
	known, err := s.posts.KnownPostIDs(ctx, ids)
	if err != nil {
		return "", err
	}

	var (
		batch         []domain.Post
		originals     int
		existed       int
		reachedCutoff bool
	)
	for _, rp := range page {
		if !rp.CreatedAt.After(cutoff) {
			reachedCutoff = true
			break
		}
		if rp.IsBoost {
			continue
		}
		originals++
		if _, ok := known[rp.ID]; ok {
			existed++
			continue
		}
		batch = append(batch, domain.Post{
			RemoteID:      rp.ID,
			AccountHandle: acc.Handle,
			CreatedAt:     rp.CreatedAt.UTC(),
			URL:           rp.URL,
			ContentHTML:   rp.ContentHTML,
			ContentText:   s.normalizer.Normalize(rp.ContentHTML),
			Visibility:    rp.Visibility,
			IsReply:       rp.InReplyToID != "",
			InReplyToID:   rp.InReplyToID,
			FetchedAt:     now,
		})
	}

	inserted, err := s.posts.SavePostsPage(ctx, batch)
	if err != nil {
		return "", err
	}
	result.Fetched += inserted
	result.Existing += existed + len(batch) - inserted

	switch {
	case reachedCutoff:
		return StopAgeCutoff, nil
	case !force && originals > 0 && existed == originals:
		return StopOverlap, nil
	case result.Fetched >= s.opts.MaxStatuses:
		return StopMaxCount, nil
	}
	return "", nil
}

func (s *Service) finish(result SyncResult) {
	metrics.ObserveAccountSync(string(result.Reason), result.Fetched, result.Pages)
	event := s.log.Info()
	if result.Reason == StopRemoteError || result.Reason == StopCanceled {
		event = s.log.Warn()
	}
	event.
		Str("handle", result.Handle).
		Str("reason", string(result.Reason)).
		Int("fetched", result.Fetched).
		Int("existing", result.Existing).
		Int("pages", result.Pages).
		Msg("contentsync: синхронизация аккаунта завершена")
}
