// ratelimit.go provides windowed per-caller rate limiting: a RateLimiter value backed either by
// a bounded in-process LRU or by Redis, and the Gin middleware that turns a rejection into a
// 429 response.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/vehicle-valuation/valuation-backend/internal/telemetry"
)

// ErrRateLimitExceeded is returned by Check when the caller is over its limit.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Limiter defaults.
const (
	DefaultRateLimitInterval      = 60 * time.Second
	DefaultUniqueTokenPerInterval = 500
)

// anonymousIdentity is shared by every caller that carries no token and no forwarding headers.
const anonymousIdentity = "anonymous"

// RateLimiterOptions configures a RateLimiter. Zero values select the defaults.
type RateLimiterOptions struct {
	// Interval is how long an identity's counter lives after its last increment.
	Interval time.Duration
	// UniqueTokenPerInterval caps the number of identities tracked in memory; the least
	// recently used identity is evicted beyond it. Ignored by the Redis store.
	UniqueTokenPerInterval int
	// KeyPrefix namespaces Redis keys so several limiters can share one server.
	KeyPrefix string
}

func (o RateLimiterOptions) withDefaults() RateLimiterOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultRateLimitInterval
	}
	if o.UniqueTokenPerInterval <= 0 {
		o.UniqueTokenPerInterval = DefaultUniqueTokenPerInterval
	}
	return o
}

// counterStore records one hit for identity and reports whether it is within limit.
type counterStore interface {
	hit(ctx context.Context, identity string, limit int) (bool, error)
	close()
}

// RateLimiter admits at most limit calls per identity within one interval.
// Construct one per protected operation; instances never share counters.
type RateLimiter struct {
	opts  RateLimiterOptions
	store counterStore
}

// NewRateLimiter creates a limiter whose counters live in a bounded in-process LRU.
func NewRateLimiter(opts RateLimiterOptions) *RateLimiter {
	opts = opts.withDefaults()
	return &RateLimiter{
		opts: opts,
		store: &memoryStore{
			cache: expirable.NewLRU[string, int](opts.UniqueTokenPerInterval, nil, opts.Interval),
		},
	}
}

// NewRedisRateLimiter creates a limiter whose counters live in Redis, so every replica sees
// the same budget. Redis failures admit the request.
func NewRedisRateLimiter(client *redis.Client, opts RateLimiterOptions) *RateLimiter {
	opts = opts.withDefaults()
	return &RateLimiter{
		opts: opts,
		store: &redisStore{
			client:   client,
			prefix:   opts.KeyPrefix,
			interval: opts.Interval,
		},
	}
}

// Interval returns the configured window.
func (rl *RateLimiter) Interval() time.Duration {
	return rl.opts.Interval
}

// Check counts one call for the caller of r and returns ErrRateLimitExceeded once the
// caller has made more than limit calls in the current window. The caller is token when
// given, else the first X-Forwarded-For address, else X-Real-IP, else "anonymous".
func (rl *RateLimiter) Check(r *http.Request, limit int, token string) error {
	identity := requestIdentity(r, token)

	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}

	allowed, err := rl.store.hit(ctx, identity, limit)
	if err != nil {
		slog.Warn("rate limiter store failed, allowing request", "error", err)
		return nil
	}
	if !allowed {
		return ErrRateLimitExceeded
	}
	return nil
}

// Stop clears the limiter's in-memory counters. It does not stop the LRU's expiry
// goroutine, which golang-lru v2.0.7 offers no way to end; limiters are meant to live for
// the whole process.
func (rl *RateLimiter) Stop() {
	rl.store.close()
}

func requestIdentity(r *http.Request, token string) string {
	if token != "" {
		return token
	}
	if r == nil {
		return anonymousIdentity
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return anonymousIdentity
}

// memoryStore keeps one counter per identity. Re-adding an entry refreshes its expiry, so a
// counter resets only after a full idle interval.
type memoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, int]
}

func (s *memoryStore) hit(_ context.Context, identity string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, _ := s.cache.Get(identity)
	count++
	s.cache.Add(identity, count)
	return count <= limit, nil
}

func (s *memoryStore) close() {
	s.cache.Purge()
}

// redisStore keeps the same counter as memoryStore in Redis: INCR then PEXPIRE in one
// MULTI/EXEC, so every hit pushes the reset out to a full interval after the last call.
type redisStore struct {
	client   *redis.Client
	prefix   string
	interval time.Duration
}

func (s *redisStore) hit(ctx context.Context, identity string, limit int) (bool, error) {
	key := s.prefix + identity

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, s.interval)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}

func (s *redisStore) close() {}

// RateLimitMiddleware rejects requests over limit with 429. name labels the rejection metric.
//
// Authenticated callers are keyed by user ID. Proxied callers are keyed by their forwarding
// headers inside Check. Direct callers fall back to the connection address.
func RateLimitMiddleware(limiter *RateLimiter, name string, limit int) gin.HandlerFunc {
	retryAfter := int(limiter.Interval().Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	return func(c *gin.Context) {
		if err := limiter.Check(c.Request, limit, rateLimitToken(c)); err != nil {
			telemetry.RateLimitRejectionsTotal.WithLabelValues(name).Inc()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Next()
	}
}

// rateLimitToken picks the explicit identity for Check.
// Priority: user_id > forwarding headers (resolved by Check) > remote address
func rateLimitToken(c *gin.Context) string {
	if userID := c.GetString(UserIDKey); userID != "" {
		return "user:" + userID
	}
	if c.GetHeader("X-Forwarded-For") != "" || c.GetHeader("X-Real-IP") != "" {
		return ""
	}
	if ip := c.RemoteIP(); ip != "" {
		return "ip:" + ip
	}
	return ""
}
