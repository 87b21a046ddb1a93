package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masto-digest/internal/domain"
	"masto-digest/internal/infra/db"
)

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) domain.Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = s.UpsertAccount(context.Background(), domain.RemoteAccount{ID: "1", Handle: "alice@x"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetAccount(context.Background(), "alice@x")
	require.NoError(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN не задан")
	}
	runStoreContract(t, func(t *testing.T) domain.Store {
		ctx := context.Background()
		pool, err := db.Connect(ctx, dsn)
		require.NoError(t, err)
		s, err := NewPostgres(ctx, pool)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `TRUNCATE summaries, person_documents, posts, ingest_runs, accounts RESTART IDENTITY`)
		require.NoError(t, err)
		return s
	})
}

func runStoreContract(t *testing.T, open func(t *testing.T) domain.Store) {
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	t.Run("accounts", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()

		latest, err := s.LatestSeenAt(ctx)
		require.NoError(t, err)
		assert.Nil(t, latest)

		created := base.Add(-24 * time.Hour)
		acc, err := s.UpsertAccount(ctx, domain.RemoteAccount{ID: "1", Handle: "alice@x", DisplayName: "Alice", CreatedAt: &created}, base)
		require.NoError(t, err)
		assert.Equal(t, "1", acc.ServerAccountID)
		assert.Nil(t, acc.LastFetchAt)

		acc, err = s.UpsertAccount(ctx, domain.RemoteAccount{ID: "999", Handle: "alice@x", DisplayName: "Alice B", Bot: true}, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "1", acc.ServerAccountID)
		assert.Equal(t, "Alice B", acc.DisplayName)
		assert.True(t, acc.Bot)
		require.NotNil(t, acc.CreatedAt)
		assert.True(t, created.Equal(*acc.CreatedAt))
		assert.True(t, base.Add(time.Hour).Equal(acc.LastSeenAt))

		latest, err = s.LatestSeenAt(ctx)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, base.Add(time.Hour).Equal(*latest))

		_, err = s.GetAccount(ctx, "nobody@x")
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
		assert.ErrorIs(t, s.MarkFetched(ctx, "nobody@x", base), domain.ErrAccountNotFound)
	})

	t.Run("targets ordering", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()

		for _, h := range []string{"d@x", "c@x", "b@x", "a@x"} {
			_, err := s.UpsertAccount(ctx, domain.RemoteAccount{ID: h, Handle: h}, base)
			require.NoError(t, err)
		}
		_, err := s.UpsertAccount(ctx, domain.RemoteAccount{ID: "old", Handle: "old@x"}, base.Add(-48*time.Hour))
		require.NoError(t, err)
		require.NoError(t, s.MarkFetched(ctx, "c@x", base.Add(-2*time.Hour)))
		require.NoError(t, s.MarkFetched(ctx, "d@x", base.Add(-time.Hour)))

		activeSince := base.Add(-24 * time.Hour)
		sync, err := s.ListSyncTargets(ctx, activeSince, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a@x", "b@x", "c@x", "d@x"}, handles(sync))

		limited, err := s.ListSyncTargets(ctx, activeSince, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"a@x", "b@x"}, handles(limited))

		summary, err := s.ListSummaryTargets(ctx, activeSince, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"d@x", "c@x", "a@x", "b@x"}, handles(summary))
	})

	t.Run("posts", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		_, err := s.UpsertAccount(ctx, domain.RemoteAccount{ID: "1", Handle: "alice@x"}, base)
		require.NoError(t, err)

		page := []domain.Post{
			testPost("3", base, false),
			testPost("2", base.Add(-time.Hour), true),
			testPost("1", base.Add(-2*time.Hour), false),
		}
		n, err := s.SavePostsPage(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.SavePostsPage(ctx, append(page, testPost("4", base.Add(time.Hour), false)))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		known, err := s.KnownPostIDs(ctx, []string{"1", "4", "404"})
		require.NoError(t, err)
		assert.Len(t, known, 2)
		assert.Contains(t, known, "1")
		assert.Contains(t, known, "4")

		originals, err := s.ListOriginalPosts(ctx, "alice@x", 0)
		require.NoError(t, err)
		require.Len(t, originals, 3)
		assert.Equal(t, "4", originals[0].RemoteID)
		assert.Equal(t, "1", originals[2].RemoteID)
		assert.True(t, base.Add(time.Hour).Equal(originals[0].CreatedAt))

		capped, err := s.ListOriginalPosts(ctx, "alice@x", 1)
		require.NoError(t, err)
		assert.Len(t, capped, 1)

		count, err := s.CountPosts(ctx, "alice@x")
		require.NoError(t, err)
		assert.Equal(t, 4, count)
	})

	t.Run("runs", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()

		first, err := s.RecordRun(ctx, domain.IngestRun{StartedAt: base, CompletedAt: base.Add(time.Minute), SinceHours: 24, Notes: "full_run"})
		require.NoError(t, err)
		assert.NotEmpty(t, first.RunID)
		_, err = s.RecordRun(ctx, domain.IngestRun{StartedAt: base.Add(time.Hour), CompletedAt: base.Add(time.Hour), SinceHours: 24, Notes: "limit=5"})
		require.NoError(t, err)

		runs, err := s.ListRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "limit=5", runs[0].Notes)
		assert.Equal(t, first.RunID, runs[1].RunID)
	})

	t.Run("replace summary", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		_, err := s.UpsertAccount(ctx, domain.RemoteAccount{ID: "1", Handle: "alice@x"}, base)
		require.NoError(t, err)

		_, err = s.GetSummary(ctx, "alice@x")
		assert.ErrorIs(t, err, domain.ErrSummaryNotFound)
		_, err = s.GetDocument(ctx, "alice@x")
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

		doc := domain.PersonDocument{AccountHandle: "alice@x", Fingerprint: "fp1", Text: "doc one", GeneratedAt: base}
		sum := domain.Summary{AccountHandle: "alice@x", Fingerprint: "fp1", Headline: "H1", Tags: []string{"go"}, Engine: "simple", Model: "heuristic", PromptVersion: "1.0", CreatedAt: base}
		require.NoError(t, s.ReplaceSummary(ctx, "", doc, sum))
		assert.ErrorIs(t, s.ReplaceSummary(ctx, "", doc, sum), domain.ErrFingerprintConflict)

		doc.Fingerprint, doc.Text = "fp2", "doc two"
		sum.Fingerprint, sum.Headline, sum.Tags = "fp2", "H2", nil
		assert.ErrorIs(t, s.ReplaceSummary(ctx, "other", doc, sum), domain.ErrFingerprintConflict)
		require.NoError(t, s.ReplaceSummary(ctx, "fp1", doc, sum))

		got, err := s.GetSummary(ctx, "alice@x")
		require.NoError(t, err)
		assert.Equal(t, "fp2", got.Fingerprint)
		assert.Equal(t, "H2", got.Headline)
		assert.Empty(t, got.Tags)
		assert.Equal(t, "1.0", got.PromptVersion)

		gotDoc, err := s.GetDocument(ctx, "alice@x")
		require.NoError(t, err)
		assert.Equal(t, "doc two", gotDoc.Text)
	})
}

func testPost(id string, at time.Time, boost bool) domain.Post {
	return domain.Post{
		RemoteID:      id,
		AccountHandle: "alice@x",
		CreatedAt:     at,
		ContentHTML:   "<p>post " + id + "</p>",
		ContentText:   "post " + id,
		Visibility:    "public",
		IsBoost:       boost,
		FetchedAt:     at,
	}
}

func handles(accounts []domain.Account) []string {
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Handle)
	}
	return out
}
