package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
)

const lockKeyPrefix = "helpdesk:lock:"

// releaseScript deletes a lock only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis wraps the go-redis client.
type Redis struct {
	Client *redis.Client
	logger *zap.Logger
}

// NewRedis connects to Redis using the provided configuration.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}

	return &Redis{Client: client, logger: logger}
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// Acquire takes a short-lived exclusive lock on key. ok is false when another
// holder owns it. The returned release func is safe to call once the lock has
// expired; it never deletes a lock taken over by someone else.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	if r == nil || r.Client == nil {
		return nil, false, errors.New("redis client not configured")
	}
	token := uuid.NewString()
	fullKey := lockKeyPrefix + key
	ok, err = r.Client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil || !ok {
		return nil, ok, err
	}
	release = func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.Client, []string{fullKey}, token).Err(); err != nil && r.logger != nil {
			r.logger.Warn("release lock", zap.String("key", fullKey), zap.Error(err))
		}
	}
	return release, true, nil
}
