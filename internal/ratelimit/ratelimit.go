// Package ratelimit enforces a per-tenant hourly request quota in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/logger"
)

const window = time.Hour

// Decision is the outcome of one quota check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is set when Redis was unreachable and the request was let through.
	Degraded bool
}

type RateLimiter struct {
	client *redis.Client
	now    func() time.Time
	log    *zap.Logger
}

func NewRateLimiter(redisURL string) (*RateLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opt)), nil
}

func NewWithClient(client *redis.Client) *RateLimiter {
	return &RateLimiter{
		client: client,
		now:    time.Now,
		log:    logger.WithModule("ratelimit"),
	}
}

// Allow counts one request for tenantID in the current fixed hourly window.
// Redis failures fail open.
func (rl *RateLimiter) Allow(ctx context.Context, tenantID int, limit int) Decision {
	now := rl.now().UTC()
	windowStart := now.Truncate(window)
	d := Decision{Limit: limit, ResetAt: windowStart.Add(window)}

	key := fmt.Sprintf("ratelimit:tenant:%d:%s", tenantID, windowStart.Format("2006-01-02-15"))

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.log.Warn("rate limit check failed, allowing request", zap.Int("tenant_id", tenantID), zap.Error(err))
		d.Allowed = true
		d.Remaining = limit
		d.Degraded = true
		return d
	}

	count := int(incr.Val())
	d.Allowed = count <= limit
	d.Remaining = max(0, limit-count)
	return d
}

func (rl *RateLimiter) Ping(ctx context.Context) error {
	return rl.client.Ping(ctx).Err()
}

func (rl *RateLimiter) Close() error {
	return rl.client.Close()
}
