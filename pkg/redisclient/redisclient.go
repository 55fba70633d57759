// Package redisclient wires a go-redis client with the connection and
// health-check conventions this service uses everywhere Redis is touched:
// the price oracle's durable cache tier and admin-API rate limiting.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string
	Password string
	DB       int
}

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// HealthCheck performs a health check on Redis.
func HealthCheck(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return client.Ping(ctx).Err()
}

// RateLimiter is a sliding-window request limiter backed by a Redis sorted
// set per key, used by the admin API's rate-limit middleware.
type RateLimiter struct {
	client *redis.Client
}

// NewRateLimiter constructs a RateLimiter over client.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow reports whether a request against key is allowed under limit
// requests per window, returning the remaining quota and the reset time
// (unix millis) regardless of outcome.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, int64, error) {
	now := time.Now().UnixMilli()
	windowStart := now - window.Milliseconds()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, err
	}

	count := countCmd.Val()
	resetAt := now + window.Milliseconds()

	if count >= limit {
		return false, 0, resetAt, nil
	}

	member := fmt.Sprintf("%d-%d", now, count)
	if err := r.client.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member}).Err(); err != nil {
		return false, 0, 0, err
	}

	remaining := limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, resetAt, nil
}
