package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Zero(t, cfg.MaxConnections)
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := NewManager("api", okHandler(), testConfig(), zap.NewNop())
	assert.False(t, m.IsRunning())

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.Error(t, m.Start(), "second start")

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	assert.NoError(t, m.Shutdown(context.Background()))
	assert.Error(t, m.Start())
}

func TestManager_LimitListener(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 2
	m := NewManager("api", okHandler(), cfg, zap.NewNop())
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m := NewManager("metrics", okHandler(), testConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, m.IsRunning, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManager_ListenError(t *testing.T) {
	cfg := testConfig()
	cfg.Addr = "256.0.0.1:99999"
	m := NewManager("api", okHandler(), cfg, zap.NewNop())
	assert.Error(t, m.Start())
}

func TestManager_OnShutdown(t *testing.T) {
	m := NewManager("api", okHandler(), testConfig(), nil)
	called := make(chan struct{})
	m.OnShutdown(func() { close(called) })

	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("shutdown hook not called")
	}
}

func TestManager_TLSMissingCertificate(t *testing.T) {
	cfg := testConfig()
	cfg.TLSCertFile = "testdata/missing.crt"
	cfg.TLSKeyFile = "testdata/missing.key"
	assert.True(t, cfg.TLSEnabled())

	m := NewManager("api", okHandler(), cfg, zap.NewNop())
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	select {
	case err := <-m.Errors():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected serve error for missing certificate")
	}
}
