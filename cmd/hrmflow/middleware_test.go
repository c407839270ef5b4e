package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/config"
	"github.com/BaSui01/hrmflow/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sub, ok := types.Subject(r.Context()); ok {
			w.Header().Set("X-Subject", sub)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}), SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), seen)

	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	r.Header.Set("X-Request-ID", "client-id")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, "client-id", w.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrInternalError))
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/api/v1/query":              "/api/v1/query",
		"/api/v1/knowledge/some-key": "/api/v1/knowledge/:key",
		"/api/v1/runs/12345":         "/api/v1/runs/:id",
		"/api/v1/runs/3f2a9c1e-aaaa": "/api/v1/runs/:id",
		"/unknown/path":              "/unknown/path",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	r.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	jwtCfg := config.JWTConfig{Secret: "s3cret", Issuer: "hrmflow"}
	handler := Auth([]string{"key-1"}, jwtCfg, []string{"/health"}, zap.NewNop())(okHandler())

	valid := signToken(t, "s3cret", jwt.MapClaims{
		"sub": "alice", "iss": "hrmflow", "exp": time.Now().Add(time.Hour).Unix(),
	})
	expired := signToken(t, "s3cret", jwt.MapClaims{
		"sub": "alice", "iss": "hrmflow", "exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongIssuer := signToken(t, "s3cret", jwt.MapClaims{
		"sub": "alice", "iss": "other", "exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		status  int
		subject string
	}{
		{"skip path", "/health", nil, http.StatusOK, ""},
		{"missing credentials", "/api/v1/status", nil, http.StatusUnauthorized, ""},
		{"valid api key", "/api/v1/status", map[string]string{"X-API-Key": "key-1"}, http.StatusOK, "api-key"},
		{"invalid api key", "/api/v1/status", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized, ""},
		{"valid jwt", "/api/v1/status", map[string]string{"Authorization": "Bearer " + valid}, http.StatusOK, "alice"},
		{"expired jwt", "/api/v1/status", map[string]string{"Authorization": "Bearer " + expired}, http.StatusUnauthorized, ""},
		{"wrong issuer", "/api/v1/status", map[string]string{"Authorization": "Bearer " + wrongIssuer}, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.subject, w.Header().Get("X-Subject"))
		})
	}
}

func TestAuth_DisabledWithoutCredentials(t *testing.T) {
	handler := Auth(nil, config.JWTConfig{}, nil, zap.NewNop())(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(1, 2, zap.NewNop())
	handler := limiter.Middleware()(okHandler())

	do := func() int {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())

	// 提高限额后已有访客立即生效
	limiter.SetLimit(1000, 100)
	assert.Eventually(t, func() bool { return do() == http.StatusOK }, time.Second, 5*time.Millisecond)

	limiter.SetLimit(0, 0)
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, do())
	}
}
