package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/terminguard/internal/config"
	"github.com/jmcleod/terminguard/storage"
	bboltstorage "github.com/jmcleod/terminguard/storage/bbolt"
	"github.com/jmcleod/terminguard/storage/memory"
	pgstorage "github.com/jmcleod/terminguard/storage/postgres"
	redisstorage "github.com/jmcleod/terminguard/storage/redis"
)

// backend bundles the repository and the optional shared Redis client
// opened for one command run.
type backend struct {
	repo  storage.Repository
	redis *goredis.Client

	closers []func() error
}

func (b *backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openBackend opens the storage selected by c. The Redis client is created
// when either the repository or the lockout counters live in Redis.
func openBackend(ctx context.Context, c *config.Config) (*backend, error) {
	b := &backend{}
	if c.NeedsRedis() {
		b.redis = goredis.NewClient(&goredis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		b.closers = append(b.closers, b.redis.Close)
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", c.RedisAddr, err)
		}
	}

	switch c.Storage {
	case config.StorageMemory:
		b.repo = memory.NewRepository()
	case config.StorageBolt:
		if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(c.DataDir, "terminguard.db"), nil)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to open bolt storage: %w", err)
		}
		b.repo = repo
		b.closers = append(b.closers, repo.Close)
	case config.StorageRedis:
		repo, err := redisstorage.New(redisstorage.Config{Client: b.redis})
		if err != nil {
			b.Close()
			return nil, err
		}
		// The client is closed through b.closers.
		b.repo = repo
	case config.StoragePostgres:
		repo, err := pgstorage.NewRepositoryFromDSN(ctx, c.PostgresDSN)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.repo = repo
		b.closers = append(b.closers, repo.Close)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown storage backend %q", c.Storage)
	}
	return b, nil
}
