package mastodon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"masto-digest/internal/infra/metrics"
)

const (
	defaultMaxAttempts = 3
	// maxRateLimitWait ограничивает ожидание сброса лимита.
	maxRateLimitWait = 5 * time.Minute
	serverErrorWait  = time.Second
)

// retryTransport повторяет GET-запросы при 429, 5xx и сетевых ошибках
// и пишет метрики каждой попытки. Последний ответ отдаётся как есть.
type retryTransport struct {
	base        http.RoundTripper
	host        string
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
	log         zerolog.Logger
}

func newRetryTransport(base http.RoundTripper, host string, log zerolog.Logger) *retryTransport {
	return &retryTransport{
		base:        base,
		host:        host,
		maxAttempts: defaultMaxAttempts,
		sleep:       sleepCtx,
		log:         log,
	}
}

// newBaseTransport ограничивает ожидание заголовков ответа, а не весь
// запрос целиком: паузы на лимитах не должны съедать таймаут.
func newBaseTransport(timeout time.Duration) http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	tr := base.Clone()
	tr.ResponseHeaderTimeout = timeout
	return tr
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	operation := path.Base(req.URL.Path)
	attempts := t.maxAttempts
	if req.Method != http.MethodGet || req.Body != nil {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		start := time.Now()
		resp, err := t.base.RoundTrip(req)
		metrics.ObserveNetworkRequest("mastodon", operation, t.host, start, statusErr(resp, err))

		wait, retry := t.retryAfter(resp, err)
		if !retry || attempt >= attempts {
			return resp, err
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		t.log.Warn().
			Err(statusErr(resp, err)).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("mastodon: повтор запроса")
		if err := t.sleep(req.Context(), wait); err != nil {
			return nil, err
		}
	}
}

func (t *retryTransport) retryAfter(resp *http.Response, err error) (time.Duration, bool) {
	switch {
	case err != nil:
		return serverErrorWait, true
	case resp.StatusCode == http.StatusTooManyRequests:
		return rateLimitWait(resp.Header, time.Now()), true
	case resp.StatusCode >= http.StatusInternalServerError:
		return serverErrorWait, true
	default:
		return 0, false
	}
}

func statusErr(resp *http.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// rateLimitWait читает X-RateLimit-Reset (RFC3339) или Retry-After (секунды).
func rateLimitWait(h http.Header, now time.Time) time.Duration {
	wait := serverErrorWait
	if reset := h.Get("X-RateLimit-Reset"); reset != "" {
		if at, err := time.Parse(time.RFC3339, reset); err == nil {
			wait = at.Sub(now)
		}
	} else if after := h.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil {
			wait = time.Duration(secs) * time.Second
		}
	}
	if wait <= 0 {
		wait = serverErrorWait
	}
	return min(wait, maxRateLimitWait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
