package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"masto-digest/internal/domain"
)

type stateResolver interface {
	State(ctx context.Context, handle string) (domain.SummaryState, error)
}

// AccountStatus — строка отчёта по аккаунту.
type AccountStatus struct {
	Handle      string              `json:"handle"`
	Label       string              `json:"label"`
	LastSeenAt  time.Time           `json:"last_seen_at"`
	LastFetchAt *time.Time          `json:"last_fetch_at,omitempty"`
	Posts       int                 `json:"posts"`
	State       domain.SummaryState `json:"state"`
	Headline    string              `json:"headline,omitempty"`
	Engine      string              `json:"engine,omitempty"`
	Model       string              `json:"model,omitempty"`
	SummaryAt   *time.Time          `json:"summary_at,omitempty"`
}

// RunStatus — запись журнала запусков в отчёте.
type RunStatus struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	SinceHours  int       `json:"since_hours"`
	Notes       string    `json:"notes"`
}

// Report — состояние кэша сводок и последние запуски.
type Report struct {
	Accounts []AccountStatus             `json:"accounts"`
	Counts   map[domain.SummaryState]int `json:"counts"`
	Runs     []RunStatus                 `json:"runs"`
}

// Service строит отчёт о состоянии.
type Service struct {
	store  domain.Store
	states stateResolver
	now    func() time.Time
}

// NewService создаёт сервис отчётов.
func NewService(store domain.Store, states stateResolver) *Service {
	return &Service{store: store, states: states, now: func() time.Time { return time.Now().UTC() }}
}

// Build собирает отчёт по активным аккаунтам и runs последних запусков.
func (s *Service) Build(ctx context.Context, runs int) (Report, error) {
	report := Report{
		Accounts: []AccountStatus{},
		Counts: map[domain.SummaryState]int{
			domain.SummaryAbsent: 0,
			domain.SummaryFresh:  0,
			domain.SummaryStale:  0,
		},
		Runs: []RunStatus{},
	}
	accounts, err := s.store.ListSummaryTargets(ctx, s.now().Add(-domain.ActiveWindow), 0)
	if err != nil {
		return report, fmt.Errorf("список аккаунтов: %w", err)
	}
	for _, acc := range accounts {
		row, err := s.account(ctx, acc)
		if err != nil {
			return report, err
		}
		report.Accounts = append(report.Accounts, row)
		report.Counts[row.State]++
	}

	ledger, err := s.store.ListRuns(ctx, runs)
	if err != nil {
		return report, fmt.Errorf("журнал запусков: %w", err)
	}
	for _, run := range ledger {
		report.Runs = append(report.Runs, RunStatus{
			RunID:       run.RunID,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
			SinceHours:  run.SinceHours,
			Notes:       run.Notes,
		})
	}
	return report, nil
}

// Account возвращает строку отчёта по одному аккаунту.
func (s *Service) Account(ctx context.Context, handle string) (AccountStatus, error) {
	acc, err := s.store.GetAccount(ctx, handle)
	if err != nil {
		return AccountStatus{}, err
	}
	return s.account(ctx, acc)
}

func (s *Service) account(ctx context.Context, acc domain.Account) (AccountStatus, error) {
	row := AccountStatus{
		Handle:      acc.Handle,
		Label:       acc.Label(),
		LastSeenAt:  acc.LastSeenAt,
		LastFetchAt: acc.LastFetchAt,
	}
	var err error
	if row.Posts, err = s.store.CountPosts(ctx, acc.Handle); err != nil {
		return row, fmt.Errorf("посты %s: %w", acc.Handle, err)
	}
	if row.State, err = s.states.State(ctx, acc.Handle); err != nil {
		return row, err
	}
	summary, err := s.store.GetSummary(ctx, acc.Handle)
	switch {
	case errors.Is(err, domain.ErrSummaryNotFound):
	case err != nil:
		return row, fmt.Errorf("сводка %s: %w", acc.Handle, err)
	default:
		row.Headline = summary.Headline
		row.Engine, row.Model = summary.Engine, summary.Model
		row.SummaryAt = &summary.CreatedAt
	}
	return row, nil
}
