package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
type RedisConfig struct {
	Addr string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// releaseScript deletes the key only while it still holds our token,
// so an expired-and-retaken lock is never released by the old holder.
var releaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = holder token
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Claimer hands out short-lived exclusive claims on keys backed by Redis SET NX PX.
// A claim expires on its own, so a crashed holder never wedges the key.
type Claimer struct {
	rdb    *redis.Client
	prefix string
}

func NewClaimer(rdb *redis.Client, prefix string) *Claimer {
	return &Claimer{rdb: rdb, prefix: prefix}
}

// Claim attempts to take key for ttl. It returns a release func when the claim was won.
func (c *Claimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, func(context.Context) error, error) {
	if c == nil || c.rdb == nil {
		return false, nil, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return false, nil, fmt.Errorf("key is required")
	}
	if ttl <= 0 {
		return false, nil, fmt.Errorf("ttl must be > 0")
	}

	full := c.prefix + key
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, c.rdb, []string{full}, token).Err()
	}
	return true, release, nil
}
