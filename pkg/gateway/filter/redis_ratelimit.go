// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"context"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares a GCRA budget across gateway replicas.
//
// GCRA tracks a "theoretical arrival time" (TAT) per key and admits a request
// only while the TAT stays within the burst window. The check and update run
// in one Lua script so concurrent gateways cannot interleave.
type RedisRateLimiter struct {
	client *redis.Client
	config RedisRateLimitConfig
}

// RedisRateLimitConfig configures the Redis rate limiter.
type RedisRateLimitConfig struct {
	// Enabled switches the gateway from per-process limits to Redis.
	Enabled bool `mapstructure:"enabled"`

	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`

	KeyPrefix    string        `mapstructure:"key_prefix"`
	DefaultRPS   int64         `mapstructure:"default_rps"`
	DefaultBurst int64         `mapstructure:"default_burst"`
	KeyTTL       time.Duration `mapstructure:"key_ttl"`

	// FailOpen admits requests while Redis is unreachable.
	FailOpen bool `mapstructure:"fail_open"`
}

func DefaultRedisRateLimitConfig() RedisRateLimitConfig {
	return RedisRateLimitConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		KeyPrefix:    "uploadgate:ratelimit:",
		DefaultRPS:   20,
		DefaultBurst: 40,
		KeyTTL:       time.Hour,
		FailOpen:     true,
	}
}

// NewRedisRateLimiter dials Redis and pings it once.
func NewRedisRateLimiter(ctx context.Context, cfg RedisRateLimitConfig) (*RedisRateLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisRateLimiterWithClient(client, cfg), nil
}

func NewRedisRateLimiterWithClient(client *redis.Client, cfg RedisRateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		config: cfg,
	}
}

// gcraScript returns {allowed (1 or 0), remaining tokens, reset time in ms}.
var gcraScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])        -- microseconds
local burst = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])       -- tokens per second
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])        -- seconds

local emission_interval = 1000000 / rate
local burst_offset = burst * emission_interval

local tat = redis.call("GET", key)
if tat then
    tat = tonumber(tat)
else
    tat = now
end

local new_tat = tat + (cost * emission_interval)
local allow_at = now + burst_offset
if new_tat > allow_at then
    local remaining = math.max(0, math.floor((allow_at - tat) / emission_interval))
    local reset_after = math.ceil((tat - now) / 1000)
    return {0, remaining, reset_after}
end

if tat < now then
    new_tat = now + (cost * emission_interval)
end

redis.call("SET", key, new_tat, "EX", ttl)

local remaining = math.max(0, math.floor((allow_at - new_tat) / emission_interval))
local reset_after = math.ceil((new_tat - now) / 1000)

return {1, remaining, reset_after}
`)

type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAfter time.Duration
}

// Allow charges cost against key at the configured default rate.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, cost int64) (RateLimitResult, error) {
	return r.AllowN(ctx, key, cost, r.config.DefaultRPS, r.config.DefaultBurst)
}

// AllowN checks rate limit with custom rate and burst values.
func (r *RedisRateLimiter) AllowN(ctx context.Context, key string, cost, rate, burst int64) (RateLimitResult, error) {
	fullKey := r.config.KeyPrefix + key
	now := time.Now().UnixMicro()
	ttlSeconds := int64(r.config.KeyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 3600
	}

	result, err := gcraScript.Run(ctx, r.client, []string{fullKey},
		now, burst, rate, cost, ttlSeconds,
	).Int64Slice()

	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Redis rate limit check failed")
		if r.config.FailOpen {
			return RateLimitResult{Allowed: true, Remaining: burst}, nil
		}
		return RateLimitResult{Allowed: false}, err
	}

	return RateLimitResult{
		Allowed:    result[0] == 1,
		Remaining:  result[1],
		ResetAfter: time.Duration(result[2]) * time.Millisecond,
	}, nil
}

// Reset clears the rate limit state for a key.
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.config.KeyPrefix+key).Err()
}

func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}
