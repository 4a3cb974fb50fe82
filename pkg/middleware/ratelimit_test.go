package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func TestRateLimiter_Allow(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	limiter := NewRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
	}, "test:ratelimit")

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "user:alice@example.com")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, err := limiter.Allow(ctx, "user:alice@example.com")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Keys are independent
	allowed, err = limiter.Allow(ctx, "user:bob@example.com")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_Remaining(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	limiter := NewRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Minute,
	}, "test:ratelimit")

	remaining, err := limiter.Remaining(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	_, err = limiter.Allow(ctx, "fresh")
	require.NoError(t, err)

	remaining, err = limiter.Remaining(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
}

func TestRateLimiter_Reset(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	limiter := NewRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "test:ratelimit")

	_, err := limiter.Allow(ctx, "key")
	require.NoError(t, err)
	allowed, err := limiter.Allow(ctx, "key")
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "key"))

	allowed, err = limiter.Allow(ctx, "key")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	mr, client := setupRedis(t)
	mr.Close()

	allowed, err := NewRateLimiter(client, nil, "").Allow(context.Background(), "key")
	assert.Error(t, err)
	assert.True(t, allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	_, client := setupRedis(t)

	m := &RateLimitMiddleware{
		userLimiter:      NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "test:user"),
		anonymousLimiter: NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, "test:anon"),
	}

	identity := NewIdentityMiddleware(false)
	handler := identity.Handler(m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	do := func(email string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if email != "" {
			req.Header.Set(IdentityHeader, email)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("identified callers use the per-user limit", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do("alice@example.com").Code)
		w := do("alice@example.com")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

		w = do("alice@example.com")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
	})

	t.Run("anonymous callers use the stricter limit", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do("").Code)
		assert.Equal(t, http.StatusTooManyRequests, do("").Code)
	})
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", getClientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", getClientIP(req))
}
