// Package app собирает зависимости приложения из конфига.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"masto-digest/internal/adapters/generator"
	"masto-digest/internal/adapters/mastodon"
	"masto-digest/internal/adapters/normalize"
	"masto-digest/internal/adapters/repo"
	"masto-digest/internal/domain"
	"masto-digest/internal/infra/cache"
	"masto-digest/internal/infra/config"
	"masto-digest/internal/usecase/contentsync"
	"masto-digest/internal/usecase/ingest"
	"masto-digest/internal/usecase/registry"
	"masto-digest/internal/usecase/status"
	"masto-digest/internal/usecase/summaries"
)

// ErrNoRemote — не задан адрес инстанса.
var ErrNoRemote = errors.New("не указан MASTODON_BASE_URL")

// App держит открытое хранилище и сервисы одного запуска.
type App struct {
	Log       zerolog.Logger
	Store     domain.Store
	Summaries *summaries.Service
	Status    *status.Service

	cfg     config.AppConfig
	ingest  *ingest.Service
	closers []io.Closer
}

// New открывает хранилище и собирает сервисы.
func New(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) (*App, error) {
	store, err := repo.Open(ctx, cfg.DB.Driver, cfg.DB.Path, cfg.DB.PGDSN)
	if err != nil {
		return nil, err
	}
	a := &App{Log: log, Store: store, cfg: cfg, closers: []io.Closer{store}}

	gen, err := generator.New(ctx, generator.Options{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := gen.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	var genCache domain.GenerationCache
	if cfg.Cache.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("app: redis недоступен, кэш генераций отключён")
			client.Close()
		} else {
			a.closers = append(a.closers, client)
			genCache = cache.NewRedis(client, cfg.Cache.TTL)
		}
	}

	a.Summaries = summaries.NewService(store, store, store, gen, genCache, summaries.Options{
		MaxPosts:      cfg.Fetch.MaxProfileStatuses,
		PromptVersion: cfg.LLM.PromptVersion,
	}, log)
	a.Status = status.NewService(store, a.Summaries)

	if cfg.Mastodon.BaseURL != "" {
		remote, err := mastodon.NewClient(cfg.Mastodon.BaseURL, cfg.Mastodon.AccessToken, cfg.Mastodon.UserAgent, cfg.Mastodon.Timeout,
			log.With().Str("component", "mastodon").Logger())
		if err != nil {
			a.Close()
			return nil, err
		}
		reg := registry.NewService(store, remote, log)
		syncer := contentsync.NewService(store, store, remote, normalize.HTML{}, contentsync.Options{
			PageSize:    cfg.Fetch.PageSize,
			MaxStatuses: cfg.Fetch.MaxProfileStatuses,
			MaxAgeDays:  cfg.Fetch.MaxProfileAgeDays,
		}, log)
		a.ingest = ingest.NewService(reg, syncer, store, log)
	}
	return a, nil
}

// Ingest возвращает пайплайн синхронизации; нужен адрес инстанса.
func (a *App) Ingest() (*ingest.Service, error) {
	if a.ingest == nil {
		return nil, ErrNoRemote
	}
	return a.ingest, nil
}

// Close закрывает ресурсы в обратном порядке.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("app: закрытие: %w", errors.Join(errs...))
	}
	return nil
}
