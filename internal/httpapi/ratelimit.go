package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/auth"
)

// rateLimitWindow is the sliding window over which requests are counted.
const rateLimitWindow = time.Minute

// RateLimiter enforces per-caller request limits using a Redis sliding
// window. API-key callers get their own limit, keyed by key ID so that
// rotating a key resets its budget.
type RateLimiter struct {
	redis       *redis.Client
	logger      *zap.Logger
	userLimit   int
	apiKeyLimit int
	now         func() time.Time
}

// NewRateLimiter creates a rate limiter with per-minute limits for
// interactive users and API keys. Non-positive limits fall back to
// defaults (60 user, 600 API key).
func NewRateLimiter(rdb *redis.Client, userLimit, apiKeyLimit int, logger *zap.Logger) *RateLimiter {
	if userLimit <= 0 {
		userLimit = 60
	}
	if apiKeyLimit <= 0 {
		apiKeyLimit = 600
	}
	return &RateLimiter{
		redis:       rdb,
		logger:      logger,
		userLimit:   userLimit,
		apiKeyLimit: apiKeyLimit,
		now:         time.Now,
	}
}

// Middleware returns the HTTP middleware function.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userCtx, err := auth.GetUserContext(ctx)
		if err != nil {
			// No user context: auth middleware handles unauthenticated
			// requests, nothing to key a limit on here.
			next.ServeHTTP(w, r)
			return
		}

		key, limit := rl.callerKey(userCtx)
		allowed, remaining, resetAt := rl.checkRateLimit(ctx, key, limit)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

		if !allowed {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("user_id", userCtx.UserID.String()),
				zap.String("tenant_id", userCtx.TenantID.String()),
				zap.Bool("api_key", userCtx.IsAPIKey),
				zap.String("path", r.URL.Path),
			)
			retryAfter := int64(resetAt.Sub(rl.now()).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			sendError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) callerKey(userCtx *auth.UserContext) (string, int) {
	if userCtx.IsAPIKey {
		return fmt.Sprintf("ratelimit:key:%s", userCtx.APIKeyID.String()), rl.apiKeyLimit
	}
	return fmt.Sprintf("ratelimit:user:%s", userCtx.UserID.String()), rl.userLimit
}

// checkRateLimit records the request in a per-caller sorted set scored by
// arrival time and counts entries inside the window. Unlike a fixed
// window it cannot be gamed by bursting at a boundary.
func (rl *RateLimiter) checkRateLimit(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt time.Time) {
	now := rl.now()
	windowStart := now.Add(-rateLimitWindow)

	pipe := rl.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixNano()))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, key, rateLimitWindow+time.Second)
	_, err := pipe.Exec(ctx)

	if err != nil {
		rl.logger.Error("Rate limit check failed", zap.Error(err))
		// On error, allow the request (fail open)
		return true, limit, now.Add(rateLimitWindow)
	}

	count := int(card.Val()) // prior requests in window, before this one
	remaining = limit - count - 1
	if remaining < 0 {
		remaining = 0
	}

	resetAt = now.Add(rateLimitWindow)
	allowed = count < limit

	return allowed, remaining, resetAt
}
