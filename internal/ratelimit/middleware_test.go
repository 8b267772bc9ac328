package ratelimit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRejectsSixthStrictCall(t *testing.T) {
	l, _ := newMockLimiter(t, Config{Name: Strict, Interval: time.Minute})
	var rejected []string
	handler := Middleware(MiddlewareConfig{
		Name:     Strict,
		Checker:  l,
		Limit:    5,
		OnReject: func(name string) { rejected = append(rejected, name) },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:51234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 5; i++ {
		rr := call()
		require.Equal(t, http.StatusNoContent, rr.Code, "call %d", i+1)
		assert.Equal(t, "5", rr.Header().Get("X-RateLimit-Limit"))
	}
	rr := call()
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, []string{Strict}, rejected)
}

func TestMiddlewareKeyErrorIsBadRequest(t *testing.T) {
	l, _ := newMockLimiter(t, Config{})
	handler := Middleware(MiddlewareConfig{
		Checker: l,
		Limit:   1,
		Key:     func(*http.Request) (string, error) { return "", errors.New("no key") },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next must not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewRedis(client, Strict, 25*time.Millisecond)

	first := limiter.Check("actor:u1", 2)
	require.True(t, first.Allowed)
	assert.Equal(t, 1, first.Count)
	assert.Equal(t, 1, first.Remaining)

	second := limiter.Check("actor:u1", 2)
	require.True(t, second.Allowed)
	third := limiter.Check("actor:u1", 2)
	assert.False(t, third.Allowed)
	assert.Equal(t, 3, third.Count)
	assert.True(t, mr.Exists("ratelimit:strict:actor:u1"))

	mr.FastForward(30 * time.Millisecond)
	reset := limiter.Check("actor:u1", 2)
	assert.True(t, reset.Allowed)
	assert.Equal(t, 1, reset.Count)
}

func TestRedisLimiterFallsBackWhenUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:1",
		DialTimeout:  5 * time.Millisecond,
		ReadTimeout:  5 * time.Millisecond,
		WriteTimeout: 5 * time.Millisecond,
		MaxRetries:   -1,
	})
	limiter := NewRedis(client, Standard, time.Minute)

	require.True(t, limiter.Check("actor:u1", 1).Allowed)
	assert.False(t, limiter.Check("actor:u1", 1).Allowed, "fallback keeps counting")
}

func TestRedisLimiterStampsResetAtWithFallbackClock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	fallback, mock := newMockLimiter(t, Config{Name: Standard, Interval: time.Minute})
	limiter := NewRedis(client, Standard, time.Minute)
	limiter.Fallback = fallback

	d := limiter.Check("actor:u1", 5)

	require.True(t, d.Allowed)
	assert.Equal(t, time.Minute, d.ResetIn)
	assert.Equal(t, mock.Now().Add(time.Minute), d.ResetAt)

	mr.Close()
	local := limiter.Check("actor:u1", 5)
	assert.Equal(t, mock.Now().Add(time.Minute), local.ResetAt, "both backends share one clock")
}

func TestRedisLimiterLiteralSharesOneFallback(t *testing.T) {
	limiter := &RedisLimiter{Window: time.Minute}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limiter.Check("actor:u1", 100)
		}()
	}
	wg.Wait()

	assert.Equal(t, 51, limiter.Check("actor:u1", 100).Count)
}
