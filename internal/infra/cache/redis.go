package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"masto-digest/internal/domain"
)

const keyPrefix = "masto-digest:generation:"

// RedisCache реализует domain.GenerationCache через Redis.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ domain.GenerationCache = (*RedisCache)(nil)

// NewRedis создаёт кэш.
func NewRedis(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Key собирает ключ из происхождения сводки и отпечатка документа.
func Key(engine, model, promptVersion, fingerprint string) string {
	return fmt.Sprintf("%s:%s:%s:%s", engine, model, promptVersion, fingerprint)
}

// Get возвращает сохранённый результат генерации.
func (c *RedisCache) Get(ctx context.Context, key string) (domain.Generated, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Generated{}, false, nil
	}
	if err != nil {
		return domain.Generated{}, false, err
	}
	var value domain.Generated
	if err := json.Unmarshal(raw, &value); err != nil {
		return domain.Generated{}, false, fmt.Errorf("decode cached generation: %w", err)
	}
	return value, true, nil
}

// Set сохраняет результат генерации.
func (c *RedisCache) Set(ctx context.Context, key string, value domain.Generated) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode generation: %w", err)
	}
	return c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err()
}
