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

func TestNewFileWatcher_Defaults(t *testing.T) {
	f := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0644))

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)

	assert.Equal(t, []string{f}, w.Paths())
	assert.False(t, w.IsRunning())
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
}

func TestNewFileWatcher_WithOptions(t *testing.T) {
	w, err := NewFileWatcher([]string{filepath.Join(t.TempDir(), "missing.yaml")},
		WithDebounceDelay(500*time.Millisecond),
		WithWatcherLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, w.debounceDelay)
}

func TestFileWatcher_StartTwiceFails(t *testing.T) {
	f := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(f, []byte("a"), 0644))

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()))
}

func TestFileWatcher_StopIdempotent(t *testing.T) {
	w, err := NewFileWatcher([]string{filepath.Join(t.TempDir(), "x.yaml")})
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
}

func TestFileWatcher_DispatchesDebouncedWrite(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "patterns.yaml")
	other := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(f, []byte("v1"), 0644))

	w, err := NewFileWatcher([]string{f}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		events []FileEvent
	)
	w.OnChange(func(e FileEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(f, []byte("v2"), 0644))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, e := range events {
		assert.Equal(t, f, e.Path)
	}
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "RENAME", FileOpRename.String())
	assert.Equal(t, "CHMOD", FileOpChmod.String())
	assert.Equal(t, "UNKNOWN", FileOp(99).String())
}
