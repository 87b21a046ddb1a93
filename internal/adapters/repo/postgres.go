package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"masto-digest/internal/domain"
	"masto-digest/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД и применяет схему.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	p := &Postgres{pool: pool}
	if err := p.initSchema(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Close закрывает пул.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			server_account_id TEXT NOT NULL,
			handle TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			bot BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ,
			last_seen_at TIMESTAMPTZ NOT NULL,
			last_fetch_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_last_seen ON accounts(last_seen_at)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id BIGSERIAL PRIMARY KEY,
			remote_id TEXT NOT NULL UNIQUE,
			account_handle TEXT NOT NULL REFERENCES accounts(handle),
			created_at TIMESTAMPTZ NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			content_html TEXT NOT NULL DEFAULT '',
			content_text TEXT NOT NULL DEFAULT '',
			visibility TEXT NOT NULL DEFAULT '',
			is_boost BOOLEAN NOT NULL DEFAULT FALSE,
			is_reply BOOLEAN NOT NULL DEFAULT FALSE,
			in_reply_to_id TEXT,
			fetched_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_account_created ON posts(account_handle, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS ingest_runs (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL UNIQUE,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL,
			since_hours INT NOT NULL,
			notes TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS person_documents (
			id BIGSERIAL PRIMARY KEY,
			account_handle TEXT NOT NULL UNIQUE REFERENCES accounts(handle),
			fingerprint TEXT NOT NULL,
			doc_text TEXT NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id BIGSERIAL PRIMARY KEY,
			account_handle TEXT NOT NULL UNIQUE REFERENCES accounts(handle),
			fingerprint TEXT NOT NULL,
			headline TEXT NOT NULL,
			blurb TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			engine TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			prompt_version TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	for _, q := range queries {
		start := time.Now()
		_, err := p.pool.Exec(ctx, q)
		metrics.ObserveNetworkRequest("postgres", "init_schema", "schema", start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// LatestSeenAt реализует domain.AccountRepo.
func (p *Postgres) LatestSeenAt(ctx context.Context) (*time.Time, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var latest *time.Time
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT MAX(last_seen_at) FROM accounts`).Scan(&latest)
	metrics.ObserveNetworkRequest("postgres", "accounts_latest_seen", "accounts", start, err)
	if err != nil {
		return nil, err
	}
	return utcPtr(latest), nil
}

const pgAccountColumns = `id, server_account_id, handle, display_name, url, avatar_url, bot, created_at, last_seen_at, last_fetch_at`

// UpsertAccount реализует domain.AccountRepo.
func (p *Postgres) UpsertAccount(ctx context.Context, remote domain.RemoteAccount, seenAt time.Time) (domain.Account, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO accounts (server_account_id, handle, display_name, url, avatar_url, bot, created_at, last_seen_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (handle) DO UPDATE SET
    display_name = EXCLUDED.display_name,
    url = EXCLUDED.url,
    avatar_url = EXCLUDED.avatar_url,
    bot = EXCLUDED.bot,
    last_seen_at = EXCLUDED.last_seen_at
RETURNING `+pgAccountColumns,
		remote.ID, remote.Handle, remote.DisplayName, remote.URL, remote.AvatarURL, remote.Bot, remote.CreatedAt, seenAt.UTC())
	acc, err := scanPgAccount(row)
	metrics.ObserveNetworkRequest("postgres", "accounts_upsert", "accounts", start, err)
	return acc, err
}

// GetAccount реализует domain.AccountRepo.
func (p *Postgres) GetAccount(ctx context.Context, handle string) (domain.Account, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	acc, err := scanPgAccount(p.pool.QueryRow(ctx, `SELECT `+pgAccountColumns+` FROM accounts WHERE handle = $1`, handle))
	metrics.ObserveNetworkRequest("postgres", "accounts_get", "accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return acc, err
}

// MarkFetched реализует domain.AccountRepo.
func (p *Postgres) MarkFetched(ctx context.Context, handle string, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE accounts SET last_fetch_at = $1 WHERE handle = $2`, at.UTC(), handle)
	metrics.ObserveNetworkRequest("postgres", "accounts_mark_fetched", "accounts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ListSyncTargets реализует domain.AccountRepo.
func (p *Postgres) ListSyncTargets(ctx context.Context, activeSince time.Time, limit int) ([]domain.Account, error) {
	return p.listAccounts(ctx, "accounts_sync_targets", `
SELECT `+pgAccountColumns+` FROM accounts
WHERE last_seen_at >= $1
ORDER BY last_fetch_at ASC NULLS FIRST, handle ASC
LIMIT $2`, activeSince, limit)
}

// ListSummaryTargets реализует domain.AccountRepo.
func (p *Postgres) ListSummaryTargets(ctx context.Context, activeSince time.Time, limit int) ([]domain.Account, error) {
	return p.listAccounts(ctx, "accounts_summary_targets", `
SELECT `+pgAccountColumns+` FROM accounts
WHERE last_seen_at >= $1
ORDER BY last_fetch_at DESC NULLS LAST, handle ASC
LIMIT $2`, activeSince, limit)
}

func (p *Postgres) listAccounts(ctx context.Context, op, query string, activeSince time.Time, limit int) ([]domain.Account, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, activeSince.UTC(), limitArg(limit))
	metrics.ObserveNetworkRequest("postgres", op, "accounts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Account
	for rows.Next() {
		acc, err := scanPgAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// KnownPostIDs реализует domain.PostRepo.
func (p *Postgres) KnownPostIDs(ctx context.Context, remoteIDs []string) (map[string]struct{}, error) {
	known := make(map[string]struct{}, len(remoteIDs))
	if len(remoteIDs) == 0 {
		return known, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT remote_id FROM posts WHERE remote_id = ANY($1)`, remoteIDs)
	metrics.ObserveNetworkRequest("postgres", "posts_known_ids", "posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = struct{}{}
	}
	return known, rows.Err()
}

// SavePostsPage сохраняет страницу батчем внутри одной транзакции.
func (p *Postgres) SavePostsPage(ctx context.Context, posts []domain.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "posts", start, err)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, post := range posts {
		var replyTo *string
		if post.InReplyToID != "" {
			replyTo = &post.InReplyToID
		}
		batch.Queue(`
INSERT INTO posts (remote_id, account_handle, created_at, url, content_html, content_text, visibility, is_boost, is_reply, in_reply_to_id, fetched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (remote_id) DO NOTHING
`, post.RemoteID, post.AccountHandle, post.CreatedAt.UTC(), post.URL, post.ContentHTML, post.ContentText,
			post.Visibility, post.IsBoost, post.IsReply, replyTo, post.FetchedAt.UTC())
	}
	start = time.Now()
	br := tx.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "posts_send_batch", "posts", start, nil)
	inserted := 0
	for range posts {
		start = time.Now()
		tag, err := br.Exec()
		metrics.ObserveNetworkRequest("postgres", "posts_batch_exec", "posts", start, err)
		if err != nil {
			br.Close()
			return 0, err
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit_tx", "posts", start, err)
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListOriginalPosts реализует domain.PostRepo.
func (p *Postgres) ListOriginalPosts(ctx context.Context, handle string, limit int) ([]domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, remote_id, account_handle, created_at, url, content_html, content_text, visibility, is_boost, is_reply, COALESCE(in_reply_to_id, ''), fetched_at
FROM posts
WHERE account_handle = $1 AND NOT is_boost AND NOT is_reply
ORDER BY created_at DESC, remote_id DESC
LIMIT $2`, handle, limitArg(limit))
	metrics.ObserveNetworkRequest("postgres", "posts_list_original", "posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Post
	for rows.Next() {
		var post domain.Post
		if err := rows.Scan(&post.ID, &post.RemoteID, &post.AccountHandle, &post.CreatedAt, &post.URL, &post.ContentHTML,
			&post.ContentText, &post.Visibility, &post.IsBoost, &post.IsReply, &post.InReplyToID, &post.FetchedAt); err != nil {
			return nil, err
		}
		post.CreatedAt = post.CreatedAt.UTC()
		post.FetchedAt = post.FetchedAt.UTC()
		out = append(out, post)
	}
	return out, rows.Err()
}

// CountPosts реализует domain.PostRepo.
func (p *Postgres) CountPosts(ctx context.Context, handle string) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var n int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts WHERE account_handle = $1`, handle).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "posts_count", "posts", start, err)
	return n, err
}

// RecordRun реализует domain.RunLedger.
func (p *Postgres) RecordRun(ctx context.Context, run domain.IngestRun) (domain.IngestRun, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO ingest_runs (run_id, started_at, completed_at, since_hours, notes)
VALUES ($1,$2,$3,$4,$5)
RETURNING id`, run.RunID, run.StartedAt.UTC(), run.CompletedAt.UTC(), run.SinceHours, run.Notes).Scan(&run.ID)
	metrics.ObserveNetworkRequest("postgres", "ingest_runs_insert", "ingest_runs", start, err)
	if err != nil {
		return domain.IngestRun{}, err
	}
	return run, nil
}

// ListRuns реализует domain.RunLedger.
func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]domain.IngestRun, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, run_id::text, started_at, completed_at, since_hours, notes
FROM ingest_runs ORDER BY started_at DESC, id DESC LIMIT $1`, limitArg(limit))
	metrics.ObserveNetworkRequest("postgres", "ingest_runs_list", "ingest_runs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.IngestRun
	for rows.Next() {
		var run domain.IngestRun
		if err := rows.Scan(&run.ID, &run.RunID, &run.StartedAt, &run.CompletedAt, &run.SinceHours, &run.Notes); err != nil {
			return nil, err
		}
		run.StartedAt = run.StartedAt.UTC()
		run.CompletedAt = run.CompletedAt.UTC()
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetSummary реализует domain.SummaryRepo.
func (p *Postgres) GetSummary(ctx context.Context, handle string) (domain.Summary, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var sum domain.Summary
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, account_handle, fingerprint, headline, blurb, tags, engine, model, prompt_version, created_at
FROM summaries WHERE account_handle = $1`, handle).
		Scan(&sum.ID, &sum.AccountHandle, &sum.Fingerprint, &sum.Headline, &sum.Blurb, &sum.Tags, &sum.Engine, &sum.Model, &sum.PromptVersion, &sum.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "summaries_get", "summaries", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Summary{}, domain.ErrSummaryNotFound
	}
	if err != nil {
		return domain.Summary{}, err
	}
	sum.CreatedAt = sum.CreatedAt.UTC()
	return sum, nil
}

// GetDocument реализует domain.SummaryRepo.
func (p *Postgres) GetDocument(ctx context.Context, handle string) (domain.PersonDocument, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var doc domain.PersonDocument
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, account_handle, fingerprint, doc_text, generated_at FROM person_documents WHERE account_handle = $1`, handle).
		Scan(&doc.ID, &doc.AccountHandle, &doc.Fingerprint, &doc.Text, &doc.GeneratedAt)
	metrics.ObserveNetworkRequest("postgres", "person_documents_get", "person_documents", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PersonDocument{}, domain.ErrDocumentNotFound
	}
	if err != nil {
		return domain.PersonDocument{}, err
	}
	doc.GeneratedAt = doc.GeneratedAt.UTC()
	return doc, nil
}

// ReplaceSummary реализует domain.SummaryRepo. Строка аккаунта блокируется,
// чтобы проверка отпечатка и замена шли атомарно.
func (p *Postgres) ReplaceSummary(ctx context.Context, expected string, doc domain.PersonDocument, summary domain.Summary) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tags := summary.Tags
	if tags == nil {
		tags = []string{}
	}

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "summaries", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `SELECT 1 FROM accounts WHERE handle = $1 FOR UPDATE`, summary.AccountHandle)
	metrics.ObserveNetworkRequest("postgres", "accounts_lock", "accounts", start, err)
	if err != nil {
		return err
	}

	var current string
	start = time.Now()
	err = tx.QueryRow(ctx, `SELECT fingerprint FROM summaries WHERE account_handle = $1`, summary.AccountHandle).Scan(&current)
	metrics.ObserveNetworkRequest("postgres", "summaries_current", "summaries", start, err)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if current != expected {
		return domain.ErrFingerprintConflict
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM person_documents WHERE account_handle = $1`, doc.AccountHandle)
	batch.Queue(`
INSERT INTO person_documents (account_handle, fingerprint, doc_text, generated_at) VALUES ($1,$2,$3,$4)`,
		doc.AccountHandle, doc.Fingerprint, doc.Text, doc.GeneratedAt.UTC())
	batch.Queue(`DELETE FROM summaries WHERE account_handle = $1`, summary.AccountHandle)
	batch.Queue(`
INSERT INTO summaries (account_handle, fingerprint, headline, blurb, tags, engine, model, prompt_version, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		summary.AccountHandle, summary.Fingerprint, summary.Headline, summary.Blurb, tags,
		summary.Engine, summary.Model, summary.PromptVersion, summary.CreatedAt.UTC())

	start = time.Now()
	err = tx.SendBatch(ctx, batch).Close()
	metrics.ObserveNetworkRequest("postgres", "summaries_replace", "summaries", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrFingerprintConflict
		}
		return err
	}
	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit_tx", "summaries", start, err)
	return err
}

func scanPgAccount(row pgx.Row) (domain.Account, error) {
	var acc domain.Account
	if err := row.Scan(&acc.ID, &acc.ServerAccountID, &acc.Handle, &acc.DisplayName, &acc.URL, &acc.AvatarURL,
		&acc.Bot, &acc.CreatedAt, &acc.LastSeenAt, &acc.LastFetchAt); err != nil {
		return domain.Account{}, err
	}
	acc.CreatedAt = utcPtr(acc.CreatedAt)
	acc.LastSeenAt = acc.LastSeenAt.UTC()
	acc.LastFetchAt = utcPtr(acc.LastFetchAt)
	return acc, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// limitArg превращает неположительный лимит в NULL, то есть «без ограничения».
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
