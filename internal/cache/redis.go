package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed store
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultRedisConfig returns short timeouts suited to scheduling ticks
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix:       "postrun:",
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	}
}

// Redis implements KV using Redis
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis connects and pings Redis
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	def := DefaultRedisConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisFromClient(rdb, cfg.Prefix), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Client returns the underlying client so other components can share the connection pool
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// Prefix returns the key prefix applied to every key
func (r *Redis) Prefix() string {
	return r.prefix
}

// Get retrieves a value
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Set stores a value with TTL
func (r *Redis) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// claimIfElapsed stamps KEYS[1] with ARGV[1] unless the stored stamp is less
// than ARGV[2] ms older. Returns -1 when stamped, the stored stamp otherwise.
const claimIfElapsed = `
local last = tonumber(redis.call("GET", KEYS[1]))
if last and tonumber(ARGV[1]) - last < tonumber(ARGV[2]) then
  return last
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return -1
`

// Claim runs the compare-and-stamp as one script so instances sharing the
// key cannot both claim the same interval.
func (r *Redis) Claim(ctx context.Context, key string, now time.Time, interval, ttl time.Duration) (bool, time.Time, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	res, err := r.client.Eval(ctx, claimIfElapsed, []string{r.prefix + key},
		now.UnixMilli(), interval.Milliseconds(), ttl.Milliseconds()).Int64()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("redis claim: %w", err)
	}
	if res < 0 {
		return true, time.Time{}, nil
	}
	return false, time.UnixMilli(res), nil
}

// Close releases the connection pool
func (r *Redis) Close() error {
	return r.client.Close()
}
