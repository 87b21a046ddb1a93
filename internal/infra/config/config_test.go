package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	unsetEnv(t, "DB_DRIVER", "DB_PATH", "SINCE_HOURS", "MAX_PROFILE_STATUSES", "MAX_PROFILE_AGE_DAYS", "PAGE_SIZE", "LLM_PROVIDER", "PROMPT_VERSION", "MASTODON_TIMEOUT")
	t.Setenv("MASTODON_BASE_URL", "https://example.social")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.social", cfg.Mastodon.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Mastodon.Timeout)
	assert.Equal(t, 24, cfg.Fetch.SinceHours)
	assert.Equal(t, 500, cfg.Fetch.MaxProfileStatuses)
	assert.Equal(t, 92, cfg.Fetch.MaxProfileAgeDays)
	assert.Equal(t, 40, cfg.Fetch.PageSize)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "1.0", cfg.LLM.PromptVersion)
}

func TestLoadPostgresRequiresDSN(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("PG_DSN", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	var cfg AppConfig
	cfg.DB.Driver = "mysql"
	cfg.Fetch.PageSize = 40
	cfg.Fetch.MaxProfileStatuses = 1
	cfg.Fetch.MaxProfileAgeDays = 1
	require.Error(t, cfg.Validate())
}

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}
