package mastodon

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	gomastodon "github.com/mattn/go-mastodon"
	"github.com/rs/zerolog"

	"masto-digest/internal/domain"
)

// Client реализует domain.RemoteSource поверх go-mastodon.
// Ответы 429 и 5xx повторяет транспорт, выше уходит только итоговая ошибка.
type Client struct {
	api       *gomastodon.Client
	host      string
	transport *retryTransport
	log       zerolog.Logger
}

var _ domain.RemoteSource = (*Client)(nil)

// NewClient создаёт клиента платформы.
func NewClient(baseURL, token, userAgent string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("mastodon: base url is empty")
	}
	server := strings.TrimRight(baseURL, "/")
	parsed, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("mastodon: parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("mastodon: base url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := newRetryTransport(newBaseTransport(timeout), parsed.Host, log)
	api := gomastodon.NewClient(&gomastodon.Config{Server: server, AccessToken: token})
	api.Client = http.Client{Transport: transport}
	api.UserAgent = userAgent

	return &Client{api: api, host: parsed.Hostname(), transport: transport, log: log}, nil
}

// Self возвращает владельца токена.
func (c *Client) Self(ctx context.Context) (domain.RemoteIdentity, error) {
	acc, err := c.api.GetAccountCurrentUser(ctx)
	if err != nil {
		return domain.RemoteIdentity{}, remoteErr("verify_credentials", err)
	}
	return domain.RemoteIdentity{ID: string(acc.ID), Handle: c.canonicalHandle(acc.Acct)}, nil
}

// Following отдаёт страницы подписок владельца.
func (c *Client) Following(ctx context.Context, ownerID string, pageSize int) iter.Seq2[[]domain.RemoteAccount, error] {
	fetch := func(pg *gomastodon.Pagination) ([]*gomastodon.Account, error) {
		return c.api.GetAccountFollowing(ctx, gomastodon.ID(ownerID), pg)
	}
	return paginate(c, "following", pageSize, fetch, func(a *gomastodon.Account) domain.RemoteAccount {
		acc := domain.RemoteAccount{
			ID:          string(a.ID),
			Handle:      c.canonicalHandle(a.Acct),
			DisplayName: a.DisplayName,
			URL:         a.URL,
			AvatarURL:   a.Avatar,
			Bot:         a.Bot,
		}
		if !a.CreatedAt.IsZero() {
			created := a.CreatedAt.UTC()
			acc.CreatedAt = &created
		}
		return acc
	})
}

// Statuses отдаёт страницы постов аккаунта, от новых к старым.
func (c *Client) Statuses(ctx context.Context, accountID string, pageSize int) iter.Seq2[[]domain.RemotePost, error] {
	fetch := func(pg *gomastodon.Pagination) ([]*gomastodon.Status, error) {
		return c.api.GetAccountStatuses(ctx, gomastodon.ID(accountID), pg)
	}
	return paginate(c, "statuses", pageSize, fetch, func(s *gomastodon.Status) domain.RemotePost {
		return domain.RemotePost{
			ID:          string(s.ID),
			CreatedAt:   s.CreatedAt.UTC(),
			ContentHTML: s.Content,
			URL:         s.URL,
			Visibility:  s.Visibility,
			InReplyToID: replyID(s.InReplyToID),
			IsBoost:     s.Reblog != nil,
		}
	})
}

// paginate идёт по max_id из rel="next". Страница без заголовка Link
// оставляет Pagination как есть, это и есть конец истории.
func paginate[A, T any](c *Client, operation string, pageSize int, fetch func(*gomastodon.Pagination) ([]A, error), convert func(A) T) iter.Seq2[[]T, error] {
	return func(yield func([]T, error) bool) {
		var maxID gomastodon.ID
		for {
			pg := &gomastodon.Pagination{MaxID: maxID, Limit: int64(pageSize)}
			raw, err := fetch(pg)
			if err != nil {
				err = remoteErr(operation, err)
				c.log.Error().Err(err).Str("operation", operation).Msg("mastodon: ошибка пагинации")
				yield(nil, err)
				return
			}
			if len(raw) == 0 {
				return
			}
			page := make([]T, 0, len(raw))
			for _, item := range raw {
				page = append(page, convert(item))
			}
			if !yield(page, nil) {
				return
			}
			if pg.MaxID == "" || pg.MaxID == maxID {
				return
			}
			maxID = pg.MaxID
		}
	}
}

func remoteErr(operation string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrRemote, operation, err)
}

// replyID приводит in_reply_to_id к строке: сервер отдаёт строку или null.
func replyID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// canonicalHandle дописывает домен инстанса к локальным аккаунтам.
func (c *Client) canonicalHandle(acct string) string {
	acct = strings.TrimPrefix(strings.TrimSpace(acct), "@")
	if acct == "" || strings.Contains(acct, "@") {
		return strings.ToLower(acct)
	}
	return strings.ToLower(acct + "@" + c.host)
}
