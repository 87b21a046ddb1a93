package status

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masto-digest/internal/domain"
	"masto-digest/internal/usecase/summaries"
	"masto-digest/internal/usecase/usecasetest"
)

func TestBuild(t *testing.T) {
	ctx := context.Background()
	store := usecasetest.OpenStore(t)
	now := time.Now().UTC()
	for _, h := range []string{"alice@x", "bob@x", "carol@x"} {
		_, err := store.UpsertAccount(ctx, domain.RemoteAccount{ID: h, Handle: h}, now)
		require.NoError(t, err)
	}
	for _, h := range []string{"alice@x", "bob@x"} {
		_, err := store.SavePostsPage(ctx, []domain.Post{{RemoteID: h + "-1", AccountHandle: h, CreatedAt: now.Add(-time.Hour), ContentText: "hi", FetchedAt: now}})
		require.NoError(t, err)
	}

	gen := &usecasetest.Generator{Result: domain.Generated{Headline: "Headline"}}
	sum := summaries.NewService(store, store, store, gen, nil, summaries.Options{}, zerolog.Nop())
	_, err := sum.RegenerateSummaries(ctx, false, 0)
	require.NoError(t, err)

	_, err = store.SavePostsPage(ctx, []domain.Post{{RemoteID: "bob@x-2", AccountHandle: "bob@x", CreatedAt: now, ContentText: "new", FetchedAt: now}})
	require.NoError(t, err)
	_, err = store.RecordRun(ctx, domain.IngestRun{StartedAt: now, CompletedAt: now, SinceHours: 24, Notes: "full_run"})
	require.NoError(t, err)

	report, err := NewService(store, sum).Build(ctx, 5)
	require.NoError(t, err)
	require.Len(t, report.Accounts, 3)
	assert.Equal(t, 1, report.Counts[domain.SummaryFresh])
	assert.Equal(t, 1, report.Counts[domain.SummaryStale])
	assert.Equal(t, 1, report.Counts[domain.SummaryAbsent])
	require.Len(t, report.Runs, 1)
	assert.Equal(t, "full_run", report.Runs[0].Notes)

	bob, err := NewService(store, sum).Account(ctx, "bob@x")
	require.NoError(t, err)
	assert.Equal(t, domain.SummaryStale, bob.State)
	assert.Equal(t, 2, bob.Posts)
	assert.Equal(t, "Headline", bob.Headline)
	assert.Equal(t, "fake", bob.Engine)
	require.NotNil(t, bob.SummaryAt)

	_, err = NewService(store, sum).Account(ctx, "ghost@x")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
