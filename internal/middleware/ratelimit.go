package middleware

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func tooMany(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
}

// IPRateLimiter is an in-process token bucket per client IP.
type IPRateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	idle     time.Duration
	log      *zap.SugaredLogger
}

type visitor struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func (v *visitor) touch(now time.Time) {
	v.mu.Lock()
	v.lastSeen = now
	v.mu.Unlock()
}

func (v *visitor) seenBefore(t time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeen.Before(t)
}

// NewIPRateLimiter starts a sweeper that drops idle visitors until ctx ends.
func NewIPRateLimiter(ctx context.Context, perMinute, burst int, log *zap.SugaredLogger) *IPRateLimiter {
	if burst <= 0 {
		burst = 5
	}
	l := &IPRateLimiter{
		rps:   rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		idle:  5 * time.Minute,
		log:   log,
	}
	go l.sweep(ctx, time.Minute)
	return l
}

func (l *IPRateLimiter) limiter(ip string) *rate.Limiter {
	now := time.Now()
	v, loaded := l.visitors.LoadOrStore(ip, &visitor{limiter: rate.NewLimiter(l.rps, l.burst), lastSeen: now})
	vi := v.(*visitor)
	if loaded {
		vi.touch(now)
	}
	return vi.limiter
}

func (l *IPRateLimiter) sweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.evict(time.Now().Add(-l.idle))
		}
	}
}

func (l *IPRateLimiter) evict(cutoff time.Time) {
	l.visitors.Range(func(k, v any) bool {
		if v.(*visitor).seenBefore(cutoff) {
			l.visitors.Delete(k)
		}
		return true
	})
}

func (l *IPRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := clientIP(c)
		if !l.limiter(ip).Allow() {
			l.log.Warnw("rate limit exceeded", "ip", ip, "path", c.Path())
			return tooMany(c)
		}
		return c.Next()
	}
}

func clientIP(c *fiber.Ctx) string {
	ip := c.IP()
	if ip == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

// WindowLimiter is a fixed-window counter in Redis, shared by every node.
type WindowLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	log    *zap.SugaredLogger
}

func NewWindowLimiter(rdb redis.UniversalClient, prefix string, limit int, window time.Duration, log *zap.SugaredLogger) *WindowLimiter {
	return &WindowLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window, log: log}
}

// Allow counts one hit against key. Redis failures let the request through.
func (r *WindowLimiter) Allow(ctx context.Context, key string) bool {
	redisKey := fmt.Sprintf("%s:ratelimit:%s", r.prefix, key)
	count, err := r.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		r.log.Warnw("rate limiter unavailable, allowing", "key", key, "error", err)
		return true
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, redisKey, r.window).Err(); err != nil {
			r.log.Warnw("rate limiter expire failed", "key", key, "error", err)
		}
	}
	return count <= int64(r.limit)
}

func (r *WindowLimiter) MiddlewareByKey(keyFunc func(c *fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !r.Allow(c.UserContext(), keyFunc(c)) {
			return tooMany(c)
		}
		return c.Next()
	}
}

// SendKey scopes the send limit to one client in one chat.
func SendKey(c *fiber.Ctx) string {
	return "send:" + clientIP(c) + ":" + c.Params("chatId")
}
