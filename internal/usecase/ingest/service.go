package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"masto-digest/internal/domain"
	"masto-digest/internal/usecase/contentsync"
)

type reconciler interface {
	ShouldRefresh(ctx context.Context, force bool) (bool, error)
	Reconcile(ctx context.Context) ([]string, error)
}

type syncer interface {
	Targets(ctx context.Context, limit int) ([]domain.Account, error)
	SyncAuthor(ctx context.Context, handle string, forceFetch bool) (contentsync.SyncResult, error)
}

// Report — итог запуска пайплайна.
type Report struct {
	Run        domain.IngestRun
	Reconciled bool
	Targets    int
	Synced     int
	Skipped    int
	Fetched    int
	Failed     int
	Results    []contentsync.SyncResult
}

// Service запускает сверку подписок и синхронизацию постов и пишет журнал.
type Service struct {
	registry reconciler
	syncer   syncer
	ledger   domain.RunLedger
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт пайплайн.
func NewService(registry reconciler, syncer syncer, ledger domain.RunLedger, log zerolog.Logger) *Service {
	return &Service{
		registry: registry,
		syncer:   syncer,
		ledger:   ledger,
		log:      log.With().Str("component", "ingest").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileAndSync сверяет подписки при необходимости и синхронизирует
// аккаунты по очереди. Ошибка одного аккаунта не останавливает запуск;
// при отмене запуск всё равно записывается и возвращается domain.ErrInterrupted.
func (s *Service) ReconcileAndSync(ctx context.Context, sinceHours int, forceFetch bool, limit int) (Report, error) {
	var report Report
	started := s.now()

	refresh, err := s.registry.ShouldRefresh(ctx, forceFetch)
	if err != nil {
		return report, fmt.Errorf("проверка реестра: %w", err)
	}
	if refresh {
		handles, err := s.registry.Reconcile(ctx)
		report.Reconciled = true
		if err != nil {
			s.log.Error().Err(err).Int("reconciled", len(handles)).Msg("ingest: сверка подписок прервана")
		}
	} else {
		s.log.Info().Msg("ingest: список подписок свежий, сверка пропущена")
	}

	interrupted := ctx.Err() != nil
	if !interrupted {
		targets, err := s.syncer.Targets(ctx, limit)
		if err != nil {
			return report, err
		}
		report.Targets = len(targets)
		s.log.Info().Int("targets", len(targets)).Int("limit", limit).Msg("ingest: синхронизация аккаунтов")

		for _, acc := range targets {
			if ctx.Err() != nil {
				interrupted = true
				break
			}
			res, err := s.syncer.SyncAuthor(ctx, acc.Handle, forceFetch)
			report.Results = append(report.Results, res)
			report.Fetched += res.Fetched
			if err != nil {
				if ctx.Err() != nil {
					interrupted = true
					break
				}
				report.Failed++
				s.log.Error().Err(err).Str("handle", acc.Handle).Msg("ingest: синхронизация аккаунта не удалась")
				continue
			}
			if res.Skipped {
				report.Skipped++
			} else {
				report.Synced++
			}
		}
	}

	run := domain.IngestRun{
		RunID:       uuid.NewString(),
		StartedAt:   started,
		CompletedAt: s.now(),
		SinceHours:  sinceHours,
		Notes:       runNotes(limit, report.Failed, interrupted),
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	recorded, err := s.ledger.RecordRun(recordCtx, run)
	if err != nil {
		return report, fmt.Errorf("запись журнала: %w", err)
	}
	report.Run = recorded

	s.log.Info().
		Str("run_id", recorded.RunID).
		Int("synced", report.Synced).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("fetched", report.Fetched).
		Msg("ingest: запуск завершён")
	if interrupted {
		return report, errors.Join(domain.ErrInterrupted, context.Cause(ctx))
	}
	return report, nil
}

func runNotes(limit, failed int, interrupted bool) string {
	notes := []string{"full_run"}
	if limit > 0 {
		notes[0] = fmt.Sprintf("limit=%d", limit)
	}
	if failed > 0 {
		notes = append(notes, fmt.Sprintf("errors=%d", failed))
	}
	if interrupted {
		notes = append(notes, "interrupted")
	}
	return strings.Join(notes, "; ")
}
