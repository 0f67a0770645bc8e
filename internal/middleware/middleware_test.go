package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Njanja2025/control-plane/internal/config"
	"github.com/Njanja2025/control-plane/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	})
	require.NoError(t, err)
	return log
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterAllowsWithinBudget(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         5,
	}, testLogger(t))
	handler := rl.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/services", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiterRejectsBeyondBurst(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{
		RequestsPerSecond: 0.001,
		BurstSize:         2,
	}, testLogger(t))
	handler := rl.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/services", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")

	// A different client has its own bucket.
	other := httptest.NewRequest(http.MethodGet, "/v1/services", nil)
	other.RemoteAddr = "10.0.0.2:54321"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.RemoteAddr = "10.0.0.1"
	assert.Equal(t, "10.0.0.1", clientIP(req))
}

func TestLoggingMiddlewareSetsRequestID(t *testing.T) {
	handler := LoggingMiddleware(testLogger(t))(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	// A caller-supplied request ID is preserved.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(testLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(fmt.Errorf("boom"))
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := SecurityHeadersMiddleware()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestJWTAuthDisabled(t *testing.T) {
	auth, err := NewJWTAuth(config.AuthConfig{Enabled: false}, testLogger(t))
	require.NoError(t, err)
	assert.Nil(t, auth)
}

func TestJWTAuthConfigValidation(t *testing.T) {
	_, err := NewJWTAuth(config.AuthConfig{Enabled: true, Algorithm: "HS256"}, testLogger(t))
	assert.Error(t, err)

	_, err = NewJWTAuth(config.AuthConfig{Enabled: true, Algorithm: "none"}, testLogger(t))
	assert.Error(t, err)
}
