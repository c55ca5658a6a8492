package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// releaseScript deletes key only if it is still held by the caller,
// avoiding a release racing a different holder's subsequent acquire.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// extendScript refreshes the TTL only if the caller still holds the key.
const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// RedisAdapter is a distributed Adapter backed by Redis SETNX/TTL
// semantics, grounded on the client-construction style of the teacher's
// Redis event trigger.
type RedisAdapter struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

var _ Adapter = (*RedisAdapter)(nil)

// RedisConfig configures the Redis connection backing a RedisAdapter.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisAdapter constructs a RedisAdapter from connection config.
func NewRedisAdapter(cfg RedisConfig, logger *zap.Logger) *RedisAdapter {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisAdapter{client: client, logger: logger, ttl: ttl}
}

func (r *RedisAdapter) Acquire(ctx context.Context, key, holder string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, holder, r.ttl).Result()
	if err != nil {
		r.logger.Warn("redis lock acquire failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return ok, nil
}

func (r *RedisAdapter) Release(ctx context.Context, key, holder string) error {
	if err := r.client.Eval(ctx, releaseScript, []string{key}, holder).Err(); err != nil && err != redis.Nil {
		r.logger.Warn("redis lock release failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (r *RedisAdapter) IsLocked(ctx context.Context, key string) (bool, error) {
	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return ttl > 0, nil
}

func (r *RedisAdapter) Extend(ctx context.Context, key, holder string) (bool, error) {
	res, err := r.client.Eval(ctx, extendScript, []string{key}, holder, r.ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Close releases the underlying Redis connection pool.
func (r *RedisAdapter) Close() error {
	return r.client.Close()
}
