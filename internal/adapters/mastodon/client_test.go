package mastodon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masto-digest/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, "token", "test-agent", time.Second, zerolog.Nop())
	require.NoError(t, err)
	c.transport.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestSelf(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/verify_credentials", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		fmt.Fprint(w, `{"id":"7","acct":"me"}`)
	})
	c := newTestClient(t, mux)

	me, err := c.Self(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7", me.ID)
	assert.Equal(t, "me@127.0.0.1", me.Handle)
}

func TestFollowingFollowsLinkHeader(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/7/following", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("max_id") == "" {
			assert.Equal(t, "80", r.URL.Query().Get("limit"))
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/accounts/7/following?limit=80&max_id=2>; rel="next", <%s/api/v1/accounts/7/following?since_id=9>; rel="prev"`, srvURL, srvURL))
			fmt.Fprint(w, `[{"id":"1","acct":"alice@example.social","display_name":"Alice","bot":false,"created_at":"2020-01-01T00:00:00.000Z"}]`)
			return
		}
		assert.Equal(t, "2", r.URL.Query().Get("max_id"))
		assert.Equal(t, "80", r.URL.Query().Get("limit"), "размер страницы передаётся на каждой странице")
		fmt.Fprint(w, `[{"id":"2","acct":"Bob","display_name":"Bob","bot":true}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL
	c, err := NewClient(srv.URL, "token", "", time.Second, zerolog.Nop())
	require.NoError(t, err)

	var handles []string
	for page, err := range c.Following(context.Background(), "7", 80) {
		require.NoError(t, err)
		for _, acc := range page {
			handles = append(handles, acc.Handle)
		}
	}
	assert.Equal(t, []string{"alice@example.social", "bob@127.0.0.1"}, handles)
}

func TestStatusesMapsFields(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/1/statuses", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id":"11","created_at":"2026-10-01T10:00:00.000Z","content":"<p>hi</p>","url":"https://example.social/@alice/11","visibility":"public","in_reply_to_id":null,"reblog":null},
			{"id":"12","created_at":"2026-10-01T09:00:00.000Z","content":"","visibility":"public","in_reply_to_id":"5","reblog":{"id":"99"}}
		]`)
	})
	c := newTestClient(t, mux)

	var posts []domain.RemotePost
	for page, err := range c.Statuses(context.Background(), "1", 40) {
		require.NoError(t, err)
		posts = append(posts, page...)
	}
	require.Len(t, posts, 2)
	assert.Equal(t, "11", posts[0].ID)
	assert.False(t, posts[0].IsBoost)
	assert.Empty(t, posts[0].InReplyToID)
	assert.Equal(t, time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC), posts[0].CreatedAt)
	assert.True(t, posts[1].IsBoost)
	assert.Equal(t, "5", posts[1].InReplyToID)
}

func TestRateLimitIsRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/verify_credentials", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Reset", time.Now().Add(time.Second).UTC().Format(time.RFC3339))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id":"7","acct":"me"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.Self(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPaginationErrorEndsSequence(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/1/statuses", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("max_id") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/accounts/1/statuses?max_id=10>; rel="next"`, srvURL))
			fmt.Fprint(w, `[{"id":"11","created_at":"2026-10-01T10:00:00Z","content":"x"}]`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL
	c, err := NewClient(srv.URL, "", "", time.Second, zerolog.Nop())
	require.NoError(t, err)
	c.transport.sleep = func(context.Context, time.Duration) error { return nil }

	var pages int
	var lastErr error
	for page, err := range c.Statuses(context.Background(), "1", 40) {
		if err != nil {
			lastErr = err
			continue
		}
		pages++
		assert.Len(t, page, 1)
	}
	assert.Equal(t, 1, pages)
	require.Error(t, lastErr)
	assert.True(t, errors.Is(lastErr, domain.ErrRemote))
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/verify_credentials", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := newTestClient(t, mux)

	_, err := c.Self(context.Background())
	require.ErrorIs(t, err, domain.ErrRemote)
	assert.Equal(t, int32(1), calls.Load())
}

func TestServerErrorRetriedUpToLimit(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/verify_credentials", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := newTestClient(t, mux)

	_, err := c.Self(context.Background())
	require.ErrorIs(t, err, domain.ErrRemote)
	assert.Equal(t, int32(defaultMaxAttempts), calls.Load(), "после исчерпания попыток ошибка уходит наверх")
}

func TestRetryStopsOnCanceledContext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/verify_credentials", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c := newTestClient(t, mux)
	c.transport.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Self(ctx)
	require.ErrorIs(t, err, domain.ErrRemote)
}

func TestRateLimitWait(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("X-RateLimit-Reset", now.Add(30*time.Second).Format(time.RFC3339))
	assert.Equal(t, 30*time.Second, rateLimitWait(h, now))

	h = http.Header{}
	h.Set("X-RateLimit-Reset", now.Add(time.Hour).Format(time.RFC3339))
	assert.Equal(t, maxRateLimitWait, rateLimitWait(h, now))

	h = http.Header{}
	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, rateLimitWait(h, now))
}
