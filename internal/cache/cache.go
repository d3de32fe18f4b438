package cache

import (
	"context"
	"fmt"
	"log/slog"

	"recruitmate/internal/config"
	"recruitmate/internal/domain"
)

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (domain.Cache, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(cfg.MaxEntries), nil
	case "sqlite":
		return NewSQLite(config.ExpandPath(cfg.SQLitePath), logger)
	case "redis":
		return NewRedis(ctx, cfg.RedisURL, cfg.Namespace)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
