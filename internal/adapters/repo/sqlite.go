package repo

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"masto-digest/internal/domain"
	"masto-digest/internal/infra/metrics"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// sqliteTimeLayout фиксированной ширины: строковый порядок совпадает с временным.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchemaVersion = 1

// SQLite реализует domain.Store поверх локального файла.
type SQLite struct {
	db *sql.DB
}

var _ domain.Store = (*SQLite)(nil)

// OpenSQLite открывает или создаёт базу, применяет прагмы и схему.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	// один писатель, иначе SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: user_version: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close закрывает соединение.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func observeSQLite(op, table string, start time.Time, err error) {
	metrics.ObserveNetworkRequest("sqlite", op, table, start, err)
}

// LatestSeenAt реализует domain.AccountRepo.
func (s *SQLite) LatestSeenAt(ctx context.Context) (*time.Time, error) {
	var raw sql.NullString
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `SELECT MAX(last_seen_at) FROM accounts`).Scan(&raw)
	observeSQLite("accounts_latest_seen", "accounts", start, err)
	if err != nil {
		return nil, err
	}
	return parseNullTime(raw)
}

const sqliteAccountColumns = `id, server_account_id, handle, display_name, url, avatar_url, bot, created_at, last_seen_at, last_fetch_at`

// UpsertAccount реализует domain.AccountRepo. id и дата создания пишутся только при вставке.
func (s *SQLite) UpsertAccount(ctx context.Context, remote domain.RemoteAccount, seenAt time.Time) (domain.Account, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `
INSERT INTO accounts (server_account_id, handle, display_name, url, avatar_url, bot, created_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(handle) DO UPDATE SET
    display_name = excluded.display_name,
    url = excluded.url,
    avatar_url = excluded.avatar_url,
    bot = excluded.bot,
    last_seen_at = excluded.last_seen_at
RETURNING `+sqliteAccountColumns,
		remote.ID, remote.Handle, remote.DisplayName, remote.URL, remote.AvatarURL, remote.Bot,
		formatNullTime(remote.CreatedAt), formatTime(seenAt))
	acc, err := scanSQLiteAccount(row)
	observeSQLite("accounts_upsert", "accounts", start, err)
	return acc, err
}

// GetAccount реализует domain.AccountRepo.
func (s *SQLite) GetAccount(ctx context.Context, handle string) (domain.Account, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteAccountColumns+` FROM accounts WHERE handle = ?`, handle)
	acc, err := scanSQLiteAccount(row)
	observeSQLite("accounts_get", "accounts", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return acc, err
}

// MarkFetched реализует domain.AccountRepo.
func (s *SQLite) MarkFetched(ctx context.Context, handle string, at time.Time) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_fetch_at = ? WHERE handle = ?`, formatTime(at), handle)
	observeSQLite("accounts_mark_fetched", "accounts", start, err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ListSyncTargets реализует domain.AccountRepo.
func (s *SQLite) ListSyncTargets(ctx context.Context, activeSince time.Time, limit int) ([]domain.Account, error) {
	return s.listAccounts(ctx, "accounts_sync_targets", `
SELECT `+sqliteAccountColumns+` FROM accounts
WHERE last_seen_at >= ?
ORDER BY last_fetch_at ASC NULLS FIRST, handle ASC
LIMIT ?`, activeSince, limit)
}

// ListSummaryTargets реализует domain.AccountRepo.
func (s *SQLite) ListSummaryTargets(ctx context.Context, activeSince time.Time, limit int) ([]domain.Account, error) {
	return s.listAccounts(ctx, "accounts_summary_targets", `
SELECT `+sqliteAccountColumns+` FROM accounts
WHERE last_seen_at >= ?
ORDER BY last_fetch_at DESC NULLS LAST, handle ASC
LIMIT ?`, activeSince, limit)
}

func (s *SQLite) listAccounts(ctx context.Context, op, query string, activeSince time.Time, limit int) ([]domain.Account, error) {
	if limit <= 0 {
		limit = -1
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, formatTime(activeSince), limit)
	observeSQLite(op, "accounts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Account
	for rows.Next() {
		acc, err := scanSQLiteAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// KnownPostIDs реализует domain.PostRepo.
func (s *SQLite) KnownPostIDs(ctx context.Context, remoteIDs []string) (map[string]struct{}, error) {
	known := make(map[string]struct{}, len(remoteIDs))
	if len(remoteIDs) == 0 {
		return known, nil
	}
	args := make([]any, len(remoteIDs))
	for i, id := range remoteIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(remoteIDs)), ",")
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT remote_id FROM posts WHERE remote_id IN (`+placeholders+`)`, args...)
	observeSQLite("posts_known_ids", "posts", start, err)
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

// SavePostsPage реализует domain.PostRepo.
func (s *SQLite) SavePostsPage(ctx context.Context, posts []domain.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	observeSQLite("begin_tx", "posts", start, err)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO posts (remote_id, account_handle, created_at, url, content_html, content_text, visibility, is_boost, is_reply, in_reply_to_id, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range posts {
		start = time.Now()
		res, err := stmt.ExecContext(ctx, p.RemoteID, p.AccountHandle, formatTime(p.CreatedAt), p.URL, p.ContentHTML, p.ContentText,
			p.Visibility, p.IsBoost, p.IsReply, nullString(p.InReplyToID), formatTime(p.FetchedAt))
		observeSQLite("posts_insert", "posts", start, err)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListOriginalPosts реализует domain.PostRepo: без бустов и ответов, новые первыми.
func (s *SQLite) ListOriginalPosts(ctx context.Context, handle string, limit int) ([]domain.Post, error) {
	if limit <= 0 {
		limit = -1
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, remote_id, account_handle, created_at, url, content_html, content_text, visibility, is_boost, is_reply, in_reply_to_id, fetched_at
FROM posts
WHERE account_handle = ? AND is_boost = 0 AND is_reply = 0
ORDER BY created_at DESC, remote_id DESC
LIMIT ?`, handle, limit)
	observeSQLite("posts_list_original", "posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Post
	for rows.Next() {
		var (
			p                   domain.Post
			createdAt, fetchedAt string
			replyTo             sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.RemoteID, &p.AccountHandle, &createdAt, &p.URL, &p.ContentHTML, &p.ContentText,
			&p.Visibility, &p.IsBoost, &p.IsReply, &replyTo, &fetchedAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if p.FetchedAt, err = parseTime(fetchedAt); err != nil {
			return nil, err
		}
		p.InReplyToID = replyTo.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPosts реализует domain.PostRepo.
func (s *SQLite) CountPosts(ctx context.Context, handle string) (int, error) {
	var n int
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE account_handle = ?`, handle).Scan(&n)
	observeSQLite("posts_count", "posts", start, err)
	return n, err
}

// RecordRun реализует domain.RunLedger.
func (s *SQLite) RecordRun(ctx context.Context, run domain.IngestRun) (domain.IngestRun, error) {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO ingest_runs (run_id, started_at, completed_at, since_hours, notes) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, formatTime(run.StartedAt), formatTime(run.CompletedAt), run.SinceHours, run.Notes)
	observeSQLite("ingest_runs_insert", "ingest_runs", start, err)
	if err != nil {
		return domain.IngestRun{}, err
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return domain.IngestRun{}, err
	}
	return run, nil
}

// ListRuns реализует domain.RunLedger.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]domain.IngestRun, error) {
	if limit <= 0 {
		limit = -1
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, started_at, completed_at, since_hours, notes FROM ingest_runs
ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	observeSQLite("ingest_runs_list", "ingest_runs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.IngestRun
	for rows.Next() {
		var (
			run                    domain.IngestRun
			startedAt, completedAt string
		)
		if err := rows.Scan(&run.ID, &run.RunID, &startedAt, &completedAt, &run.SinceHours, &run.Notes); err != nil {
			return nil, err
		}
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if run.CompletedAt, err = parseTime(completedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetSummary реализует domain.SummaryRepo.
func (s *SQLite) GetSummary(ctx context.Context, handle string) (domain.Summary, error) {
	var (
		sum       domain.Summary
		tags      string
		createdAt string
	)
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `
SELECT id, account_handle, fingerprint, headline, blurb, tags, engine, model, prompt_version, created_at
FROM summaries WHERE account_handle = ?`, handle).
		Scan(&sum.ID, &sum.AccountHandle, &sum.Fingerprint, &sum.Headline, &sum.Blurb, &tags, &sum.Engine, &sum.Model, &sum.PromptVersion, &createdAt)
	observeSQLite("summaries_get", "summaries", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Summary{}, domain.ErrSummaryNotFound
	}
	if err != nil {
		return domain.Summary{}, err
	}
	if err := json.Unmarshal([]byte(tags), &sum.Tags); err != nil {
		return domain.Summary{}, fmt.Errorf("summaries: tags: %w", err)
	}
	if sum.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Summary{}, err
	}
	return sum, nil
}

// GetDocument реализует domain.SummaryRepo.
func (s *SQLite) GetDocument(ctx context.Context, handle string) (domain.PersonDocument, error) {
	var (
		doc         domain.PersonDocument
		generatedAt string
	)
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `
SELECT id, account_handle, fingerprint, doc_text, generated_at FROM person_documents WHERE account_handle = ?`, handle).
		Scan(&doc.ID, &doc.AccountHandle, &doc.Fingerprint, &doc.Text, &generatedAt)
	observeSQLite("person_documents_get", "person_documents", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PersonDocument{}, domain.ErrDocumentNotFound
	}
	if err != nil {
		return domain.PersonDocument{}, err
	}
	if doc.GeneratedAt, err = parseTime(generatedAt); err != nil {
		return domain.PersonDocument{}, err
	}
	return doc, nil
}

// ReplaceSummary реализует domain.SummaryRepo.
func (s *SQLite) ReplaceSummary(ctx context.Context, expected string, doc domain.PersonDocument, summary domain.Summary) error {
	tags := summary.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	observeSQLite("begin_tx", "summaries", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT fingerprint FROM summaries WHERE account_handle = ?`, summary.AccountHandle).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if current != expected {
		return domain.ErrFingerprintConflict
	}

	start = time.Now()
	if _, err := tx.ExecContext(ctx, `DELETE FROM person_documents WHERE account_handle = ?`, doc.AccountHandle); err != nil {
		observeSQLite("person_documents_delete", "person_documents", start, err)
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO person_documents (account_handle, fingerprint, doc_text, generated_at) VALUES (?, ?, ?, ?)`,
		doc.AccountHandle, doc.Fingerprint, doc.Text, formatTime(doc.GeneratedAt)); err != nil {
		observeSQLite("person_documents_insert", "person_documents", start, err)
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE account_handle = ?`, summary.AccountHandle); err != nil {
		observeSQLite("summaries_delete", "summaries", start, err)
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO summaries (account_handle, fingerprint, headline, blurb, tags, engine, model, prompt_version, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.AccountHandle, summary.Fingerprint, summary.Headline, summary.Blurb, string(tagsJSON),
		summary.Engine, summary.Model, summary.PromptVersion, formatTime(summary.CreatedAt))
	observeSQLite("summaries_replace", "summaries", start, err)
	if err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAccount(row rowScanner) (domain.Account, error) {
	var (
		acc                  domain.Account
		createdAt, lastFetch sql.NullString
		lastSeen             string
	)
	if err := row.Scan(&acc.ID, &acc.ServerAccountID, &acc.Handle, &acc.DisplayName, &acc.URL, &acc.AvatarURL,
		&acc.Bot, &createdAt, &lastSeen, &lastFetch); err != nil {
		return domain.Account{}, err
	}
	var err error
	if acc.CreatedAt, err = parseNullTime(createdAt); err != nil {
		return domain.Account{}, err
	}
	if acc.LastSeenAt, err = parseTime(lastSeen); err != nil {
		return domain.Account{}, err
	}
	if acc.LastFetchAt, err = parseNullTime(lastFetch); err != nil {
		return domain.Account{}, err
	}
	return acc, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: время %q: %w", raw, err)
	}
	return t, nil
}

func parseNullTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
