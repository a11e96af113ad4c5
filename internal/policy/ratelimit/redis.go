package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/payparse/internal/payment"
)

// RedisCounter is the subset of go-redis the limiter needs. *redis.Client
// satisfies it.
type RedisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisLimiter is a fixed-window limiter whose counters live in Redis, so
// replicas behind one load balancer share a client's quota.
type RedisLimiter struct {
	rdb    RedisCounter
	cfg    Config
	prefix string
}

var _ payment.RateLimiter = (*RedisLimiter)(nil)

// NewRedis creates a RedisLimiter. Keys are "<prefix>:<clientID>".
func NewRedis(rdb RedisCounter, cfg Config, prefix string) *RedisLimiter {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "payparse:ratelimit"
	}
	return &RedisLimiter{rdb: rdb, cfg: cfg.withDefaults(), prefix: prefix}
}

// Check increments the client's counter, starting the window on first hit.
func (l *RedisLimiter) Check(ctx context.Context, clientID string) (payment.RateDecision, error) {
	key := l.prefix + ":" + clientID

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return payment.RateDecision{}, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.rdb.PExpire(ctx, key, l.cfg.Window).Err(); err != nil {
			return payment.RateDecision{}, fmt.Errorf("pexpire %s: %w", key, err)
		}
	}

	decision := payment.RateDecision{
		Allowed:   count <= int64(l.cfg.MaxRequests),
		Limit:     l.cfg.MaxRequests,
		Remaining: max(l.cfg.MaxRequests-int(count), 0),
	}
	if decision.Allowed {
		return decision, nil
	}

	ttl, err := l.rdb.PTTL(ctx, key).Result()
	switch {
	case err != nil:
		return decision, fmt.Errorf("pttl %s: %w", key, err)
	case ttl < 0:
		// A key without expiry would never reset; restore it.
		if err := l.rdb.PExpire(ctx, key, l.cfg.Window).Err(); err != nil {
			return decision, fmt.Errorf("pexpire %s: %w", key, err)
		}
		decision.RetryAfter = l.cfg.Window
	default:
		decision.RetryAfter = ttl
	}
	return decision, nil
}
