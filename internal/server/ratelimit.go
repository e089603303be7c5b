package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Limiter counts requests per key over a fixed one-minute window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (bool, error)
}

// RedisLimiter shares counters across instances via INCR on a
// minute-stamped key.
type RedisLimiter struct {
	rdb *redis.Client
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	bucket := "ratelimit:" + key + ":" + time.Now().UTC().Format("200601021504")
	n, err := l.rdb.Incr(ctx, bucket).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		// first hit in the window sets the TTL
		if err := l.rdb.Expire(ctx, bucket, 2*time.Minute).Err(); err != nil {
			return false, err
		}
	}
	return n <= int64(limit), nil
}

// MemoryLimiter is a single-process fallback used when Redis is not
// configured.
type MemoryLimiter struct {
	mu     sync.Mutex
	window time.Time
	counts map[string]int
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counts: make(map[string]int)}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	now := time.Now().Truncate(time.Minute)
	l.mu.Lock()
	defer l.mu.Unlock()
	if !now.Equal(l.window) {
		l.window = now
		l.counts = make(map[string]int)
	}
	l.counts[key]++
	return l.counts[key] <= limit, nil
}

// RateLimit enforces a per-client-IP request budget for a route group.
// A nil limiter or non-positive budget disables enforcement. Limiter
// failures let the request through.
func RateLimit(l Limiter, name string, perMin int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if l == nil || perMin <= 0 {
				return next(c)
			}
			ok, err := l.Allow(c.Request().Context(), name+":"+c.RealIP(), perMin)
			if err != nil {
				return next(c)
			}
			if !ok {
				return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded")
			}
			return next(c)
		}
	}
}
