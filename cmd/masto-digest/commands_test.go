package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masto-digest/internal/adapters/repo"
	"masto-digest/internal/domain"
	"masto-digest/internal/usecase/status"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", path)
	t.Setenv("LLM_PROVIDER", "simple")
	t.Setenv("MASTODON_BASE_URL", "")
	t.Setenv("METRICS_ADDR", "")
	t.Setenv("REDIS_ADDR", "")
	return path
}

func TestSummarizeAndStatusCommands(t *testing.T) {
	path := setupEnv(t)
	ctx := context.Background()
	store, err := repo.OpenSQLite(path)
	require.NoError(t, err)
	now := time.Now().UTC()
	_, err = store.UpsertAccount(ctx, domain.RemoteAccount{ID: "1", Handle: "alice@x", DisplayName: "Alice"}, now)
	require.NoError(t, err)
	_, err = store.SavePostsPage(ctx, []domain.Post{{RemoteID: "1", AccountHandle: "alice@x", CreatedAt: now.Add(-time.Hour), ContentText: "Shipping a new parser today #go", FetchedAt: now}})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	var out bytes.Buffer
	cmd := newRootCommand(nil)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"summarize"})
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "generated=1")

	out.Reset()
	cmd = newRootCommand(nil)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"status"})
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "alice@x")
	assert.Contains(t, out.String(), "fresh=1")
}

func TestIngestRequiresBaseURL(t *testing.T) {
	setupEnv(t)
	cmd := newRootCommand(nil)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"ingest", "--limit", "2"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MASTODON_BASE_URL")
}

func TestUnknownFormatIsRejected(t *testing.T) {
	setupEnv(t)
	cmd := newRootCommand(nil)
	cmd.SetArgs([]string{"status", "--format", "yaml"})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestPrintStatusJSON(t *testing.T) {
	var out bytes.Buffer
	printStatus(&out, "json", status.Report{
		Accounts: []status.AccountStatus{{Handle: "alice@x", State: domain.SummaryFresh}},
		Counts:   map[domain.SummaryState]int{domain.SummaryFresh: 1},
	})
	assert.True(t, strings.Contains(out.String(), `"state": "fresh"`))
}
