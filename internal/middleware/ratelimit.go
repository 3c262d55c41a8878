package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/turbotransfer/host/internal/audit"
	apperrors "github.com/turbotransfer/host/internal/errors"
)

const (
	rateLimitKeyPrefix = "turbo:ratelimit:"
	rateLimitWindow    = time.Minute
	visitorTTL         = 5 * time.Minute
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is a per-key token bucket kept in process memory.
type MemoryLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryLimiter allows perMinute events per key, all of which may be
// spent at once.
func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &MemoryLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(rateLimitWindow / time.Duration(perMinute)),
		burst:    perMinute,
		ttl:      visitorTTL,
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) bool {
	if key == "" {
		key = "unknown"
	}

	now := l.now()

	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	for k, other := range l.visitors {
		if now.Sub(other.lastSeen) > l.ttl {
			delete(l.visitors, k)
		}
	}
	l.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) >= limit then
    return 0
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('PEXPIRE', key, window + 10000)
return 1
`)

// RedisLimiter is a sliding window shared by every process using the same
// Redis instance. Redis failures fail open.
type RedisLimiter struct {
	client    *redis.Client
	perMinute int
}

func NewRedisLimiter(client *redis.Client, perMinute int) *RedisLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RedisLimiter{client: client, perMinute: perMinute}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	now := time.Now().UnixMilli()
	allowed, err := rateLimitScript.Run(ctx, l.client,
		[]string{rateLimitKeyPrefix + key},
		now, rateLimitWindow.Milliseconds(), l.perMinute,
	).Int()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis rate limit check failed, allowing request")
		return true
	}
	return allowed == 1
}

// RateLimitMiddleware limits requests per client address. It guards PIN
// verification against brute force.
type RateLimitMiddleware struct {
	limiter Limiter
	prefix  string
}

func NewRateLimitMiddleware(limiter Limiter, prefix string) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, prefix: prefix}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !m.limiter.Allow(r.Context(), m.prefix+":"+ip) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"route": m.prefix},
			})
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
			writeError(w, apperrors.RateLimitExceeded())
			return
		}
		next.ServeHTTP(w, r)
	})
}
