package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mixaill76/gemini_gateway/internal/config"
	"github.com/mixaill76/gemini_gateway/internal/security"
)

// Open builds the store selected by cfg. It returns nil, nil for the "none"
// backend.
func Open(ctx context.Context, cfg config.SnapshotConfig, log *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", config.SnapshotNone:
		return nil, nil
	case config.SnapshotFile:
		log.Info("Snapshot backend: file", "path", cfg.Path)
		return NewFileStore(cfg.Path)
	case config.SnapshotRedis:
		log.Info("Snapshot backend: redis", "url", security.MaskURL(cfg.RedisURL))
		return NewRedisStore(ctx, cfg.RedisURL, "", 0)
	case config.SnapshotPostgres:
		log.Info("Snapshot backend: postgres", "url", security.MaskURL(cfg.PostgresURL))
		return NewPostgresStore(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("snapshot: unknown backend %q", cfg.Backend)
	}
}
