package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.etcd.io/bbolt"

	"github.com/togglehq/gatehouse/internal/config"
	"github.com/togglehq/gatehouse/ratelimit"
	"github.com/togglehq/gatehouse/storage"
	bboltstorage "github.com/togglehq/gatehouse/storage/bbolt"
	"github.com/togglehq/gatehouse/storage/sqlstore"
)

// closableRepository is a token store that owns a database handle.
type closableRepository interface {
	storage.Repository
	Close() error
}

// openRepository picks the SQL store when DATABASE_URL is set and the
// embedded bbolt file under dataDir otherwise.
func openRepository(ctx context.Context, cfg config.Config, dataDir string, logger *slog.Logger) (closableRepository, error) {
	if cfg.DatabaseURL != "" {
		store, err := sqlstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening token database: %w", err)
		}
		logger.Info("token store ready", "backend", string(sqlstore.DetectDialect(cfg.DatabaseURL)))
		return store, nil
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dataDir, "tokens.db")
	store, err := bboltstorage.NewRepositoryFromFile(path, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening token store %s: %w", path, err)
	}
	logger.Info("token store ready", "backend", "bbolt", "path", path)
	return store, nil
}

// newLimiter returns the login limiter: Redis-backed when REDIS_ADDR is set
// so replicas share one window, in-process otherwise.
func newLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (ratelimit.Limiter, func() error) {
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, login limiter will allow attempts until it recovers",
				"addr", cfg.RedisAddr, "error", err)
		}
		return ratelimit.NewRedisFixedWindow(rdb, cfg.LoginRateLimit, cfg.LoginRateWindow, ratelimit.WithLogger(logger)), rdb.Close
	}
	fw := ratelimit.NewFixedWindow(cfg.LoginRateLimit, cfg.LoginRateWindow)
	return fw, fw.Close
}
