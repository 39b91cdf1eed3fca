package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestLimiter(t *testing.T, interval time.Duration, unique int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimiterOptions{Interval: interval, UniqueTokenPerInterval: unique})
	t.Cleanup(rl.Stop)
	return rl
}

func requestWithHeaders(headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

func TestRateLimiterOptions_Defaults(t *testing.T) {
	opts := RateLimiterOptions{}.withDefaults()
	if opts.Interval != 60*time.Second {
		t.Errorf("Interval = %v, want 60s", opts.Interval)
	}
	if opts.UniqueTokenPerInterval != 500 {
		t.Errorf("UniqueTokenPerInterval = %d, want 500", opts.UniqueTokenPerInterval)
	}

	custom := RateLimiterOptions{Interval: time.Second, UniqueTokenPerInterval: 3}.withDefaults()
	if custom.Interval != time.Second || custom.UniqueTokenPerInterval != 3 {
		t.Errorf("custom options overridden: %+v", custom)
	}
}

// ---------------------------------------------------------------------------
// Identity derivation
// ---------------------------------------------------------------------------

func TestRequestIdentity(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		headers map[string]string
		want    string
	}{
		{"token wins", "user:1", map[string]string{"X-Forwarded-For": "1.1.1.1"}, "user:1"},
		{"forwarded for", "", map[string]string{"X-Forwarded-For": "1.1.1.1"}, "1.1.1.1"},
		{"forwarded for chain uses first hop", "", map[string]string{"X-Forwarded-For": " 1.1.1.1 , 10.0.0.1"}, "1.1.1.1"},
		{"forwarded for before real ip", "", map[string]string{"X-Forwarded-For": "1.1.1.1", "X-Real-IP": "2.2.2.2"}, "1.1.1.1"},
		{"real ip", "", map[string]string{"X-Real-IP": "2.2.2.2"}, "2.2.2.2"},
		{"nothing", "", nil, "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requestIdentity(requestWithHeaders(tt.headers), tt.token); got != tt.want {
				t.Errorf("requestIdentity() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := requestIdentity(nil, ""); got != "anonymous" {
		t.Errorf("requestIdentity(nil) = %q, want anonymous", got)
	}
}

// ---------------------------------------------------------------------------
// Check (memory store)
// ---------------------------------------------------------------------------

func TestCheck_AdmitsUpToLimitThenRejects(t *testing.T) {
	for _, limit := range []int{1, 3, 10} {
		rl := newTestLimiter(t, time.Minute, 100)
		req := requestWithHeaders(nil)

		for i := 1; i <= limit; i++ {
			if err := rl.Check(req, limit, "caller"); err != nil {
				t.Fatalf("limit %d: call %d rejected: %v", limit, i, err)
			}
		}
		if err := rl.Check(req, limit, "caller"); !errors.Is(err, ErrRateLimitExceeded) {
			t.Errorf("limit %d: call %d err = %v, want ErrRateLimitExceeded", limit, limit+1, err)
		}
	}
}

func TestCheck_IdentitiesAreIndependent(t *testing.T) {
	rl := newTestLimiter(t, time.Minute, 100)

	a := requestWithHeaders(map[string]string{"X-Forwarded-For": "1.1.1.1"})
	b := requestWithHeaders(map[string]string{"X-Forwarded-For": "2.2.2.2"})

	_ = rl.Check(a, 1, "")
	if err := rl.Check(a, 1, ""); err == nil {
		t.Fatal("expected caller a to be limited")
	}
	if err := rl.Check(b, 1, ""); err != nil {
		t.Errorf("caller b affected by caller a: %v", err)
	}
}

func TestCheck_ResetsAfterIdleInterval(t *testing.T) {
	rl := newTestLimiter(t, 50*time.Millisecond, 100)
	req := requestWithHeaders(nil)

	_ = rl.Check(req, 1, "idle")
	if err := rl.Check(req, 1, "idle"); err == nil {
		t.Fatal("expected second call to be limited")
	}

	time.Sleep(120 * time.Millisecond)

	if err := rl.Check(req, 1, "idle"); err != nil {
		t.Errorf("expected reset after idle interval, got %v", err)
	}
}

func TestCheck_IncrementRefreshesExpiry(t *testing.T) {
	rl := newTestLimiter(t, 300*time.Millisecond, 100)
	req := requestWithHeaders(nil)

	_ = rl.Check(req, 2, "busy")
	time.Sleep(180 * time.Millisecond)
	if err := rl.Check(req, 2, "busy"); err != nil {
		t.Fatalf("second call rejected: %v", err)
	}
	// 360ms after the first call but only 180ms after the last one.
	time.Sleep(180 * time.Millisecond)
	if err := rl.Check(req, 2, "busy"); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("expected counter to survive while active, got %v", err)
	}
}

func TestCheck_EvictsLeastRecentlyUsedIdentity(t *testing.T) {
	rl := newTestLimiter(t, time.Minute, 2)
	req := requestWithHeaders(nil)

	_ = rl.Check(req, 1, "a")
	_ = rl.Check(req, 1, "b")
	_ = rl.Check(req, 1, "c") // evicts a

	if err := rl.Check(req, 1, "a"); err != nil {
		t.Errorf("evicted identity should start fresh, got %v", err)
	}
	if err := rl.Check(req, 1, "c"); err == nil {
		t.Error("identity c should still be tracked and limited")
	}
}

func TestCheck_ConcurrentIncrementsAreNotLost(t *testing.T) {
	rl := newTestLimiter(t, time.Minute, 100)
	req := requestWithHeaders(nil)

	const limit, callers = 50, 200
	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Check(req, limit, "shared") == nil {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	if admitted != limit {
		t.Errorf("admitted = %d, want exactly %d", admitted, limit)
	}
}

func TestCheck_SeparateLimitersDoNotShareCounters(t *testing.T) {
	intake := newTestLimiter(t, time.Minute, 10)
	valuation := newTestLimiter(t, time.Minute, 10)
	req := requestWithHeaders(nil)

	_ = intake.Check(req, 1, "caller")
	if err := valuation.Check(req, 1, "caller"); err != nil {
		t.Errorf("valuation limiter saw intake traffic: %v", err)
	}
}

func TestStop_ClearsCounters(t *testing.T) {
	rl := NewRateLimiter(RateLimiterOptions{Interval: time.Minute})
	req := requestWithHeaders(nil)

	_ = rl.Check(req, 1, "caller")
	if err := rl.Check(req, 1, "caller"); err == nil {
		t.Fatal("expected second call to be limited")
	}

	rl.Stop()

	if err := rl.Check(req, 1, "caller"); err != nil {
		t.Errorf("expected counters cleared by Stop, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Redis store
// ---------------------------------------------------------------------------

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	rl := NewRedisRateLimiter(client, RateLimiterOptions{Interval: time.Minute, KeyPrefix: "test:"})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if err := rl.Check(requestWithHeaders(nil), 1, "caller"); err != nil {
			t.Fatalf("call %d: expected fail-open, got %v", i+1, err)
		}
	}
}

func newRedisTestLimiter(t *testing.T, interval time.Duration) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl := NewRedisRateLimiter(client, RateLimiterOptions{Interval: interval, KeyPrefix: "test:"})
	t.Cleanup(rl.Stop)
	return rl, mr
}

func TestRedisRateLimiter_StaysLimitedForWholeWindow(t *testing.T) {
	rl, mr := newRedisTestLimiter(t, 2*time.Second)
	req := requestWithHeaders(nil)

	for i := 1; i <= 4; i++ {
		if err := rl.Check(req, 4, "caller"); err != nil {
			t.Fatalf("call %d rejected: %v", i, err)
		}
	}
	if err := rl.Check(req, 4, "caller"); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("call 5 err = %v, want ErrRateLimitExceeded", err)
	}

	// Well inside the window no budget may come back.
	mr.FastForward(600 * time.Millisecond)
	if err := rl.Check(req, 4, "caller"); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("call 6 err = %v, want ErrRateLimitExceeded", err)
	}
}

func TestRedisRateLimiter_ResetsAfterIdleInterval(t *testing.T) {
	rl, mr := newRedisTestLimiter(t, 2*time.Second)
	req := requestWithHeaders(nil)

	_ = rl.Check(req, 1, "idle")
	if err := rl.Check(req, 1, "idle"); err == nil {
		t.Fatal("expected second call to be limited")
	}

	mr.FastForward(2*time.Second + time.Millisecond)

	if err := rl.Check(req, 1, "idle"); err != nil {
		t.Errorf("expected reset after idle interval, got %v", err)
	}
}

func TestRedisRateLimiter_IncrementRefreshesExpiry(t *testing.T) {
	rl, mr := newRedisTestLimiter(t, 2*time.Second)
	req := requestWithHeaders(nil)

	_ = rl.Check(req, 2, "busy")
	mr.FastForward(1500 * time.Millisecond)
	if err := rl.Check(req, 2, "busy"); err != nil {
		t.Fatalf("second call rejected: %v", err)
	}
	if ttl := mr.TTL("test:busy"); ttl != 2*time.Second {
		t.Errorf("TTL after hit = %v, want 2s", ttl)
	}

	// 3s after the first call but only 1.5s after the last one.
	mr.FastForward(1500 * time.Millisecond)
	if err := rl.Check(req, 2, "busy"); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("expected counter to survive while active, got %v", err)
	}
}

func TestRedisRateLimiter_IdentitiesAreIndependent(t *testing.T) {
	rl, mr := newRedisTestLimiter(t, time.Minute)

	a := requestWithHeaders(map[string]string{"X-Forwarded-For": "1.1.1.1"})
	b := requestWithHeaders(map[string]string{"X-Forwarded-For": "2.2.2.2"})

	_ = rl.Check(a, 1, "")
	if err := rl.Check(a, 1, ""); err == nil {
		t.Fatal("expected caller a to be limited")
	}
	if err := rl.Check(b, 1, ""); err != nil {
		t.Errorf("caller b affected by caller a: %v", err)
	}
	if !mr.Exists("test:1.1.1.1") || !mr.Exists("test:2.2.2.2") {
		t.Errorf("expected prefixed keys, got %v", mr.Keys())
	}
}

// ---------------------------------------------------------------------------
// RateLimitMiddleware
// ---------------------------------------------------------------------------

func newRateLimitRouter(rl *RateLimiter, limit int, userID string) *gin.Engine {
	r := gin.New()
	if userID != "" {
		r.Use(func(c *gin.Context) { c.Set(UserIDKey, userID) })
	}
	r.Use(RateLimitMiddleware(rl, "test", limit))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func serve(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := requestWithHeaders(headers)
	req.RemoteAddr = "192.0.2.10:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware_Returns429OverLimit(t *testing.T) {
	rl := newTestLimiter(t, 30*time.Second, 100)
	r := newRateLimitRouter(rl, 2, "")

	for i := 0; i < 2; i++ {
		if w := serve(r, nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := serve(r, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want 2", got)
	}
}

func TestRateLimitMiddleware_KeysByUser(t *testing.T) {
	rl := newTestLimiter(t, time.Minute, 100)
	alice := newRateLimitRouter(rl, 1, "alice")
	bob := newRateLimitRouter(rl, 1, "bob")

	// Same address, different users.
	if w := serve(alice, nil); w.Code != http.StatusOK {
		t.Fatalf("alice first: %d", w.Code)
	}
	if w := serve(bob, nil); w.Code != http.StatusOK {
		t.Errorf("bob limited by alice's traffic: %d", w.Code)
	}
	if w := serve(alice, nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("alice second: %d, want 429", w.Code)
	}
}

func TestRateLimitMiddleware_KeysByForwardedAddress(t *testing.T) {
	rl := newTestLimiter(t, time.Minute, 100)
	r := newRateLimitRouter(rl, 1, "")

	if w := serve(r, map[string]string{"X-Forwarded-For": "198.51.100.1"}); w.Code != http.StatusOK {
		t.Fatalf("first client: %d", w.Code)
	}
	if w := serve(r, map[string]string{"X-Forwarded-For": "198.51.100.2"}); w.Code != http.StatusOK {
		t.Errorf("second client limited by first: %d", w.Code)
	}
	if w := serve(r, map[string]string{"X-Forwarded-For": "198.51.100.1"}); w.Code != http.StatusTooManyRequests {
		t.Errorf("first client repeat: %d, want 429", w.Code)
	}
}

func TestRateLimitToken(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		headers map[string]string
		want    string
	}{
		{"user", "u1", map[string]string{"X-Forwarded-For": "1.1.1.1"}, "user:u1"},
		{"forwarded", "", map[string]string{"X-Forwarded-For": "1.1.1.1"}, ""},
		{"real ip", "", map[string]string{"X-Real-IP": "1.1.1.1"}, ""},
		{"direct", "", nil, "ip:192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = requestWithHeaders(tt.headers)
			c.Request.RemoteAddr = "192.0.2.10:5555"
			if tt.userID != "" {
				c.Set(UserIDKey, tt.userID)
			}
			if got := rateLimitToken(c); got != tt.want {
				t.Errorf("rateLimitToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
