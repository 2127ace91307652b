package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/store/schema"
)

// SchemaVersion is the Redis key layout version this build reads and writes
const SchemaVersion = "1"

// ProbeRedis checks connectivity and the key layout version once at startup.
// An empty store is stamped with the current version.
func ProbeRedis(ctx context.Context, client adapter.RedisClient, keys Keys) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", domain.Unavailable(err))
	}

	version, err := client.Get(ctx, keys.SchemaVersion()).Result()
	switch {
	case errors.Is(err, redis.Nil):
		if err := client.SetNX(ctx, keys.SchemaVersion(), SchemaVersion, 0).Err(); err != nil {
			return fmt.Errorf("failed to stamp schema version: %w", domain.Unavailable(err))
		}
		logger.InfoCtx(ctx, "Stamped redis schema version", zap.String("version", SchemaVersion))
		return nil
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", domain.Unavailable(err))
	case version != SchemaVersion:
		return fmt.Errorf("%w: redis schema version %s, expected %s", domain.ErrConfiguration, version, SchemaVersion)
	}

	return nil
}

// ProbePostgres checks that the event log tables exist
func ProbePostgres(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", domain.Unavailable(err))
	}

	migrator := db.WithContext(ctx).Migrator()
	for _, table := range []interface{}{&schema.CanonicalEvent{}, &schema.KeyValueStore{}} {
		if !migrator.HasTable(table) {
			return fmt.Errorf("%w: missing table for %T, run db/init_pg_db.sql", domain.ErrConfiguration, table)
		}
	}

	return nil
}
