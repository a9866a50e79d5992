package idempotency

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/helixconsole/billing/internal/config"
)

var Module = fx.Module("idempotency",
	fx.Provide(NewRedisClient),
	fx.Provide(NewStore),
)

// NewRedisClient connects to redis when configured, else returns nil.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable, idempotency guard degrades to in-process", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

// NewStore picks the redis store when available, else the local fallback.
func NewStore(client *redis.Client, log *zap.Logger) Store {
	if store := NewRedisStore(client); store != nil {
		log.Info("idempotency guard backed by redis")
		return store
	}
	return NewLocalStore()
}
