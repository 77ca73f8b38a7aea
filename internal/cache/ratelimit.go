package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimiter implements sliding window rate limiting using Redis
type RateLimiter struct {
	redis  *Redis
	limit  int
	window time.Duration
	prefix string
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	Limit      int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// NewRateLimiter creates a limiter for one route class, e.g. "chat"
func NewRateLimiter(redis *Redis, route string, cfg *config.RateLimitConfig) *RateLimiter {
	windowSeconds := cfg.WindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	return &RateLimiter{
		redis:  redis,
		limit:  cfg.TurnsPerWindow,
		window: time.Duration(windowSeconds) * time.Second,
		prefix: "ratelimit:" + route,
	}
}

func (r *RateLimiter) key(userID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, userID)
}

// Allow records a request for userID if it fits in the window.
// Redis failures allow the request.
func (r *RateLimiter) Allow(ctx context.Context, userID string) *RateLimitResult {
	now := time.Now()
	windowStart := now.Add(-r.window)
	key := r.key(userID)

	// Score = timestamp, Member = unique request ID
	pipe := r.redis.Client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to check rate limit")
		return &RateLimitResult{
			Allowed:   true,
			Remaining: int64(r.limit),
			Limit:     r.limit,
		}
	}

	currentCount := countCmd.Val()
	result := &RateLimitResult{
		Limit:   r.limit,
		ResetAt: now.Add(r.window),
	}

	if currentCount >= int64(r.limit) {
		result.Allowed = false
		result.Remaining = 0

		oldest, err := r.redis.Client.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestTime := time.Unix(0, int64(oldest[0].Score))
			result.RetryAfter = oldestTime.Add(r.window).Sub(now)
			if result.RetryAfter < time.Second {
				result.RetryAfter = time.Second
			}
		} else {
			result.RetryAfter = r.window
		}
		return result
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), userID)
	if err := r.redis.Client.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to add rate limit entry")
	}
	r.redis.Client.Expire(ctx, key, r.window*2)

	result.Allowed = true
	result.Remaining = max(int64(r.limit)-currentCount-1, 0)
	return result
}

// Reset clears the window for a user
func (r *RateLimiter) Reset(ctx context.Context, userID string) error {
	return r.redis.Client.Del(ctx, r.key(userID)).Err()
}
