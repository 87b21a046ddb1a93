package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"masto-digest/internal/domain"
)

const (
	// FreshnessWindow — как долго список подписок считается актуальным.
	FreshnessWindow   = 4 * time.Hour
	followingPageSize = 80
)

// Service сверяет локальный реестр аккаунтов со списком подписок.
type Service struct {
	accounts domain.AccountRepo
	remote   domain.RemoteSource
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт сервис реестра.
func NewService(accounts domain.AccountRepo, remote domain.RemoteSource, log zerolog.Logger) *Service {
	return &Service{
		accounts: accounts,
		remote:   remote,
		log:      log.With().Str("component", "registry").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ShouldRefresh решает, пора ли заново забрать список подписок.
func (s *Service) ShouldRefresh(ctx context.Context, force bool) (bool, error) {
	if force {
		return true, nil
	}
	latest, err := s.accounts.LatestSeenAt(ctx)
	if err != nil {
		return false, fmt.Errorf("последняя сверка: %w", err)
	}
	if latest == nil {
		return true, nil
	}
	return s.now().Sub(*latest) >= FreshnessWindow, nil
}

// Reconcile обходит подписки и обновляет каждый аккаунт отдельной транзакцией.
// Отписанные аккаунты не трогаются. При ошибке платформы возвращаются уже
// сверенные handles вместе с ошибкой.
func (s *Service) Reconcile(ctx context.Context) ([]string, error) {
	me, err := s.remote.Self(ctx)
	if err != nil {
		return nil, fmt.Errorf("владелец токена: %w", err)
	}
	s.log.Info().Str("owner", me.Handle).Msg("registry: сверка подписок")

	var handles []string
	for page, err := range s.remote.Following(ctx, me.ID, followingPageSize) {
		if err != nil {
			return handles, fmt.Errorf("список подписок: %w", err)
		}
		for _, remote := range page {
			if err := ctx.Err(); err != nil {
				return handles, err
			}
			if remote.Handle == "" {
				s.log.Warn().Str("remote_id", remote.ID).Msg("registry: аккаунт без handle пропущен")
				continue
			}
			if _, err := s.accounts.UpsertAccount(ctx, remote, s.now()); err != nil {
				return handles, fmt.Errorf("сохранение аккаунта %s: %w", remote.Handle, err)
			}
			handles = append(handles, remote.Handle)
		}
	}
	s.log.Info().Int("accounts", len(handles)).Msg("registry: сверка завершена")
	return handles, nil
}
