package summaries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"masto-digest/internal/domain"
	"masto-digest/internal/infra/cache"
	"masto-digest/internal/infra/metrics"
)

// Заглушка, которую получает вызывающий, если генерация не удалась.
const (
	PlaceholderHeadline = "Summary Unavailable"
	PlaceholderBlurb    = "Could not generate summary."
)

// Status — чем закончилась обработка аккаунта.
type Status string

const (
	StatusHit       Status = "hit"
	StatusGenerated Status = "generated"
	StatusFailed    Status = "failed"
	StatusEmpty     Status = "empty"
	StatusConflict  Status = "conflict"
	StatusError     Status = "error" // ошибка хранилища; остальные аккаунты обрабатываются дальше
)

// Outcome — результат по одному аккаунту.
type Outcome struct {
	Handle      string
	Status      Status
	Fingerprint string
	Headline    string
	Blurb       string
	Tags        []string
}

// Report — итог RegenerateSummaries.
type Report struct {
	Disabled  bool
	Targets   int
	Hits      int
	Generated int
	Failed    int
	Empty     int
	Conflicts int
	Errors    int
	Outcomes  []Outcome
}

// Options настраивают кэш документов.
type Options struct {
	MaxPosts      int
	PromptVersion string
}

// Service пересобирает документы и сводки, когда меняется содержимое.
type Service struct {
	accounts  domain.AccountRepo
	posts     domain.PostRepo
	summaries domain.SummaryRepo
	generator domain.Generator
	cache     domain.GenerationCache
	opts      Options
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт сервис. generator может быть nil: генерация отключена.
// cache может быть nil.
func NewService(accounts domain.AccountRepo, posts domain.PostRepo, summaries domain.SummaryRepo, generator domain.Generator, genCache domain.GenerationCache, opts Options, log zerolog.Logger) *Service {
	if opts.MaxPosts <= 0 {
		opts.MaxPosts = 500
	}
	return &Service{
		accounts:  accounts,
		posts:     posts,
		summaries: summaries,
		generator: generator,
		cache:     genCache,
		opts:      opts,
		log:       log.With().Str("component", "summaries").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegenerateSummaries обходит активные аккаунты, свежесинхронизированные первыми,
// и вызывает генератор только для тех, чей документ изменился (или всех при force).
func (s *Service) RegenerateSummaries(ctx context.Context, force bool, limit int) (Report, error) {
	var report Report
	if s.generator == nil {
		s.log.Warn().Msg("summaries: провайдер none, генерация пропущена")
		report.Disabled = true
		return report, nil
	}
	if ctx.Err() != nil {
		return report, errors.Join(domain.ErrInterrupted, context.Cause(ctx))
	}

	targets, err := s.accounts.ListSummaryTargets(ctx, s.now().Add(-domain.ActiveWindow), limit)
	if err != nil {
		return report, fmt.Errorf("список аккаунтов для сводок: %w", err)
	}
	report.Targets = len(targets)
	s.log.Info().Int("targets", len(targets)).Bool("force", force).Msg("summaries: проверка сводок")

	for _, acc := range targets {
		if ctx.Err() != nil {
			return report, errors.Join(domain.ErrInterrupted, context.Cause(ctx))
		}
		outcome, err := s.regenerate(ctx, acc, force)
		if err != nil {
			if ctx.Err() != nil {
				return report, errors.Join(domain.ErrInterrupted, context.Cause(ctx))
			}
			s.log.Error().Err(err).Str("handle", acc.Handle).Msg("summaries: аккаунт пропущен из-за ошибки")
			outcome.Status = StatusError
		}
		report.Outcomes = append(report.Outcomes, outcome)
		switch outcome.Status {
		case StatusHit:
			report.Hits++
		case StatusGenerated:
			report.Generated++
		case StatusFailed:
			report.Failed++
		case StatusEmpty:
			report.Empty++
		case StatusConflict:
			report.Conflicts++
		case StatusError:
			report.Errors++
		}
	}
	s.log.Info().
		Int("hits", report.Hits).
		Int("generated", report.Generated).
		Int("failed", report.Failed).
		Int("conflicts", report.Conflicts).
		Int("errors", report.Errors).
		Msg("summaries: проверка завершена")
	return report, nil
}

func (s *Service) regenerate(ctx context.Context, acc domain.Account, force bool) (Outcome, error) {
	outcome := Outcome{Handle: acc.Handle}
	posts, err := s.posts.ListOriginalPosts(ctx, acc.Handle, s.opts.MaxPosts)
	if err != nil {
		return outcome, fmt.Errorf("посты %s: %w", acc.Handle, err)
	}
	if len(posts) == 0 {
		outcome.Status = StatusEmpty
		return outcome, nil
	}

	text := Assemble(acc, posts)
	fp := Fingerprint(text)
	outcome.Fingerprint = fp

	var expected string
	current, err := s.summaries.GetSummary(ctx, acc.Handle)
	switch {
	case errors.Is(err, domain.ErrSummaryNotFound):
	case err != nil:
		return outcome, fmt.Errorf("сводка %s: %w", acc.Handle, err)
	default:
		expected = current.Fingerprint
	}

	if !force && expected == fp {
		metrics.ObserveSummaryCache(true)
		outcome.Status = StatusHit
		outcome.Headline, outcome.Blurb, outcome.Tags = current.Headline, current.Blurb, current.Tags
		return outcome, nil
	}
	metrics.ObserveSummaryCache(false)

	generated, err := s.generate(ctx, fp, text, force)
	if err != nil {
		if ctx.Err() != nil {
			return outcome, err
		}
		metrics.IncGenerationFailure()
		s.log.Error().Err(err).Str("handle", acc.Handle).Msg("summaries: генерация не удалась")
		outcome.Status = StatusFailed
		outcome.Headline, outcome.Blurb, outcome.Tags = PlaceholderHeadline, PlaceholderBlurb, []string{}
		return outcome, nil
	}

	now := s.now()
	doc := domain.PersonDocument{AccountHandle: acc.Handle, Fingerprint: fp, Text: text, GeneratedAt: now}
	summary := domain.Summary{
		AccountHandle: acc.Handle,
		Fingerprint:   fp,
		Headline:      generated.Headline,
		Blurb:         generated.Blurb,
		Tags:          generated.Tags,
		Engine:        s.generator.Engine(),
		Model:         s.generator.Model(),
		PromptVersion: s.opts.PromptVersion,
		CreatedAt:     now,
	}
	if err := s.summaries.ReplaceSummary(ctx, expected, doc, summary); err != nil {
		if errors.Is(err, domain.ErrFingerprintConflict) {
			s.log.Warn().Str("handle", acc.Handle).Msg("summaries: сводку заменил другой процесс")
			outcome.Status = StatusConflict
			return outcome, nil
		}
		return outcome, fmt.Errorf("сохранение сводки %s: %w", acc.Handle, err)
	}
	outcome.Status = StatusGenerated
	outcome.Headline, outcome.Blurb, outcome.Tags = summary.Headline, summary.Blurb, summary.Tags
	return outcome, nil
}

// generate сначала смотрит в кэш генераций; при force кэш только пополняется.
func (s *Service) generate(ctx context.Context, fp, text string, force bool) (domain.Generated, error) {
	key := cache.Key(s.generator.Engine(), s.generator.Model(), s.opts.PromptVersion, fp)
	if s.cache != nil && !force {
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Msg("summaries: кэш генераций недоступен")
		} else if ok {
			return cached, nil
		}
	}
	generated, err := s.generator.Generate(ctx, text)
	if err != nil {
		return domain.Generated{}, err
	}
	if generated.Tags == nil {
		generated.Tags = []string{}
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, generated); err != nil {
			s.log.Warn().Err(err).Msg("summaries: запись в кэш генераций не удалась")
		}
	}
	return generated, nil
}

// State вычисляет состояние сводки аккаунта: нет, свежая или устаревшая.
func (s *Service) State(ctx context.Context, handle string) (domain.SummaryState, error) {
	summary, err := s.summaries.GetSummary(ctx, handle)
	if errors.Is(err, domain.ErrSummaryNotFound) {
		return domain.SummaryAbsent, nil
	}
	if err != nil {
		return "", fmt.Errorf("сводка %s: %w", handle, err)
	}
	acc, err := s.accounts.GetAccount(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("аккаунт %s: %w", handle, err)
	}
	posts, err := s.posts.ListOriginalPosts(ctx, handle, s.opts.MaxPosts)
	if err != nil {
		return "", fmt.Errorf("посты %s: %w", handle, err)
	}
	if len(posts) > 0 && Fingerprint(Assemble(acc, posts)) == summary.Fingerprint {
		return domain.SummaryFresh, nil
	}
	return domain.SummaryStale, nil
}
