package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masto-digest/internal/domain"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "openai:gpt-4o:1.0:abc", Key("openai", "gpt-4o", "1.0", "abc"))
}

func TestRedisCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR не задан")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	c := NewRedis(client, time.Minute)
	key := Key("test", "model", "1", time.Now().Format(time.RFC3339Nano))

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	want := domain.Generated{Headline: "h", Blurb: "b", Tags: []string{"go"}}
	require.NoError(t, c.Set(ctx, key, want))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}
