package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masto-digest/internal/infra/config"
)

func testConfig(t *testing.T) config.AppConfig {
	var cfg config.AppConfig
	cfg.DB.Driver = "sqlite"
	cfg.DB.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.LLM.Provider = "simple"
	cfg.Fetch.PageSize = 40
	cfg.Fetch.MaxProfileStatuses = 500
	cfg.Fetch.MaxProfileAgeDays = 92
	return cfg
}

func TestNewWithoutRemote(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Ingest()
	assert.ErrorIs(t, err, ErrNoRemote)

	report, err := a.Summaries.RegenerateSummaries(context.Background(), false, 0)
	require.NoError(t, err)
	assert.Zero(t, report.Targets)
}

func TestNewWithRemote(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mastodon.BaseURL = "https://example.social"
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	svc, err := a.Ingest()
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Provider = "mystery"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
