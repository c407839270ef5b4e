package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/hrmflow/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestNewLogger_FileSinkAndAtomicLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hrm.log")
	cfg := config.DefaultLogConfig()
	cfg.Level = "warn"
	cfg.Format = "json"
	cfg.OutputPaths = []string{path}

	logger, level, err := newLogger(cfg)
	require.NoError(t, err)

	logger.Info("hidden")
	level.SetLevel(zapcore.InfoLevel)
	logger.Info("visible")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}

func TestNewLogger_RejectsEmptyPath(t *testing.T) {
	cfg := config.DefaultLogConfig()
	cfg.OutputPaths = []string{""}
	_, _, err := newLogger(cfg)
	assert.Error(t, err)
}
