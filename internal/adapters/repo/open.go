package repo

import (
	"context"
	"fmt"
	"strings"

	"masto-digest/internal/domain"
	"masto-digest/internal/infra/db"
)

// Open открывает хранилище по имени драйвера.
func Open(ctx context.Context, driver, path, dsn string) (domain.Store, error) {
	switch strings.ToLower(driver) {
	case "sqlite":
		return OpenSQLite(path)
	case "postgres":
		pool, err := db.Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		store, err := NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: схема: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("repo: неизвестный драйвер %q", driver)
	}
}
