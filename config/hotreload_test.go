package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDiff_DetectsLeafChanges(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	b.Log.Level = "debug"
	b.Server.HTTPPort = 9090
	b.Tools.Aliases = map[string]string{"search": "web_search"}

	changes := Diff(a, b)
	byPath := make(map[string]ConfigChange, len(changes))
	for _, c := range changes {
		byPath[c.Path] = c
	}

	require.Len(t, changes, 3)
	assert.Equal(t, "debug", byPath["log.level"].NewValue)
	assert.True(t, byPath["log.level"].HotReload)
	assert.Equal(t, 9090, byPath["server.http_port"].NewValue)
	assert.False(t, byPath["server.http_port"].HotReload)
	assert.Contains(t, byPath, "tools.aliases")
}

func TestDiff_NoChanges(t *testing.T) {
	assert.Empty(t, Diff(DefaultConfig(), DefaultConfig()))
}

func TestIsHotReloadable(t *testing.T) {
	assert.True(t, IsHotReloadable("log.level"))
	assert.True(t, IsHotReloadable("server.rate_limit_rps"))
	assert.False(t, IsHotReloadable("database.driver"))
}

func TestHotReloadManager_ApplyConfig(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), "", WithHotReloadLogger(zap.NewNop()))
	assert.Equal(t, 1, m.Version())

	var got []ConfigChange
	m.OnReload(func(_, _ *Config, changes []ConfigChange) { got = changes })

	next := DefaultConfig()
	next.Log.Level = "warn"
	require.NoError(t, m.ApplyConfig(next, "test"))

	assert.Equal(t, 2, m.Version())
	assert.Equal(t, "warn", m.Config().Log.Level)
	require.Len(t, got, 1)
	assert.Equal(t, "test", got[0].Source)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestHotReloadManager_RejectsInvalidConfig(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), "")
	called := false
	m.OnReload(func(_, _ *Config, _ []ConfigChange) { called = true })

	bad := DefaultConfig()
	bad.Engine.MaxIterations = 0
	assert.Error(t, m.ApplyConfig(bad, "test"))

	assert.False(t, called)
	assert.Equal(t, 1, m.Version())
	assert.Equal(t, 3, m.Config().Engine.MaxIterations)
}

func TestHotReloadManager_CallbackPanicRecovered(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), "")
	second := false
	m.OnReload(func(_, _ *Config, _ []ConfigChange) { panic("boom") })
	m.OnReload(func(_, _ *Config, _ []ConfigChange) { second = true })

	require.NoError(t, m.ApplyConfig(DefaultConfig(), "test"))
	assert.True(t, second)
}

func TestHotReloadManager_StartWithoutPath(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), "")
	assert.Error(t, m.Start(context.Background()))
	assert.NoError(t, m.Stop())
}

func TestHotReloadManager_ReloadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hrm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n"), 0644))

	m := NewHotReloadManager(DefaultConfig(), path, WithReloadEnvPrefix("HRM_RELOAD_TEST"))
	require.NoError(t, m.ReloadFromFile())
	assert.Equal(t, "error", m.Config().Log.Level)
}

// =============================================================================
// 🧪 文件监听集成测试
// =============================================================================

func TestHotReloadManager_WatchesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hrm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0644))

	m := NewHotReloadManager(DefaultConfig(), path,
		WithReloadEnvPrefix("HRM_RELOAD_TEST"),
		WithReloadDebounce(20*time.Millisecond))

	var mu sync.Mutex
	var level string
	m.OnReload(func(_, cfg *Config, _ []ConfigChange) {
		mu.Lock()
		level = cfg.Log.Level
		mu.Unlock()
	})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return level == "debug"
	}, 3*time.Second, 20*time.Millisecond)
}
