package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sweepstake-bot/internal/config"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns nil without error when no Redis host is configured.
func ConnectRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.RedisEnabled() {
		logger.Info("Redis not configured, using in-process locks and state")
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", rdb.Options().Addr))
	return rdb, nil
}
