package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthHandler_HandleHealth(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewCheck("db", func(context.Context) error { return errors.New("down") }))

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	// 存活探针不依赖外部检查
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantCode   int
		wantStatus string
	}{
		{"no checks", nil, http.StatusOK, "healthy"},
		{"all pass", []HealthCheck{
			NewCheck("database", func(context.Context) error { return nil }),
			NewCheck("redis", func(context.Context) error { return nil }),
		}, http.StatusOK, "healthy"},
		{"one fails", []HealthCheck{
			NewCheck("database", func(context.Context) error { return nil }),
			NewCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
		}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zap.NewNop())
			for _, c := range tt.checks {
				h.RegisterCheck(c)
			}

			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.wantCode, w.Code)

			var status HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
			if tt.wantStatus == "unhealthy" {
				assert.Equal(t, "fail", status.Checks["redis"].Status)
				assert.Equal(t, "connection refused", status.Checks["redis"].Message)
			}
		})
	}
}

func TestHealthHandler_ChecksRunInParallel(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	for _, name := range []string{"a", "b", "c"} {
		h.RegisterCheck(NewCheck(name, func(context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		}))
	}

	start := time.Now()
	status := h.Run(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestHealthHandler_CheckTimeout(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.timeout = 20 * time.Millisecond
	h.RegisterCheck(NewCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	status := h.Run(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	info := BuildInfo{Version: "1.0.0", BuildTime: "2026-01-01T00:00:00Z", GitCommit: "abc123"}

	w := httptest.NewRecorder()
	h.HandleVersion(info)(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, "abc123", data["git_commit"])
}

func TestHealthHandler_ConcurrentReady(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.RegisterCheck(NewCheck("c", func(context.Context) error { return nil }))
		}()
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()
}
