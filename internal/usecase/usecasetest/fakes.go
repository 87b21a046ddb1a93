// Package usecasetest содержит общие заглушки для тестов сценариев.
package usecasetest

import (
	"context"
	"iter"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"masto-digest/internal/adapters/repo"
	"masto-digest/internal/domain"
)

// OpenStore открывает SQLite во временном каталоге теста.
func OpenStore(t *testing.T) *repo.SQLite {
	t.Helper()
	s, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Remote — управляемая из теста удалённая платформа.
type Remote struct {
	mu sync.Mutex

	Identity       domain.RemoteIdentity
	SelfErr        error
	FollowingPages [][]domain.RemoteAccount
	// FollowingErrAt — номер страницы подписок, вместо которой отдаётся ошибка (-1 — нет).
	FollowingErrAt int
	// StatusPages — страницы постов по server id аккаунта.
	StatusPages map[string][][]domain.RemotePost
	// StatusesErrAt — номер страницы, вместо которой отдаётся ошибка.
	StatusesErrAt map[string]int
	// OnPage вызывается перед отдачей каждой страницы постов.
	OnPage func(accountID string, page int)

	StatusCalls map[string]int
	PagesServed map[string]int
}

var _ domain.RemoteSource = (*Remote)(nil)

// NewRemote создаёт платформу с владельцем me.
func NewRemote() *Remote {
	return &Remote{
		Identity:       domain.RemoteIdentity{ID: "me", Handle: "me@example.social"},
		FollowingErrAt: -1,
		StatusPages:    map[string][][]domain.RemotePost{},
		StatusesErrAt:  map[string]int{},
		StatusCalls:    map[string]int{},
		PagesServed:    map[string]int{},
	}
}

// Self реализует domain.RemoteSource.
func (r *Remote) Self(context.Context) (domain.RemoteIdentity, error) {
	return r.Identity, r.SelfErr
}

// Following реализует domain.RemoteSource.
func (r *Remote) Following(ctx context.Context, _ string, _ int) iter.Seq2[[]domain.RemoteAccount, error] {
	return func(yield func([]domain.RemoteAccount, error) bool) {
		for i, page := range r.FollowingPages {
			if i == r.FollowingErrAt {
				yield(nil, domain.ErrRemote)
				return
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

// Statuses реализует domain.RemoteSource.
func (r *Remote) Statuses(ctx context.Context, accountID string, _ int) iter.Seq2[[]domain.RemotePost, error] {
	r.mu.Lock()
	r.StatusCalls[accountID]++
	r.mu.Unlock()
	return func(yield func([]domain.RemotePost, error) bool) {
		errAt, hasErr := r.StatusesErrAt[accountID]
		for i, page := range r.StatusPages[accountID] {
			if hasErr && i == errAt {
				yield(nil, domain.ErrRemote)
				return
			}
			if r.OnPage != nil {
				r.OnPage(accountID, i)
			}
			r.mu.Lock()
			r.PagesServed[accountID]++
			r.mu.Unlock()
			if !yield(page, nil) {
				return
			}
		}
		if hasErr && errAt >= len(r.StatusPages[accountID]) {
			yield(nil, domain.ErrRemote)
		}
	}
}

// Generator — генератор, считающий вызовы.
type Generator struct {
	Result domain.Generated
	Err    error
	Calls  int
	Texts  []string
}

var _ domain.Generator = (*Generator)(nil)

// Generate реализует domain.Generator.
func (g *Generator) Generate(_ context.Context, text string) (domain.Generated, error) {
	g.Calls++
	g.Texts = append(g.Texts, text)
	if g.Err != nil {
		return domain.Generated{}, g.Err
	}
	return g.Result, nil
}

// Engine реализует domain.Generator.
func (g *Generator) Engine() string { return "fake" }

// Model реализует domain.Generator.
func (g *Generator) Model() string { return "fake-1" }

// Clock — управляемое время.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock создаёт часы, стоящие на now.
func NewClock(now time.Time) *Clock { return &Clock{now: now.UTC()} }

// Now возвращает текущее время часов.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance сдвигает часы.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Post собирает оригинальный пост.
func Post(id string, at time.Time, text string) domain.RemotePost {
	return domain.RemotePost{ID: id, CreatedAt: at.UTC(), ContentHTML: "<p>" + text + "</p>", Visibility: "public"}
}

// Boost собирает буст.
func Boost(id string, at time.Time) domain.RemotePost {
	return domain.RemotePost{ID: id, CreatedAt: at.UTC(), IsBoost: true, Visibility: "public"}
}
