// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/hrmflow/mcp"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hrmflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Knowledge.Backend)
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine, cfg.Engine)
}

func TestLoader_LoadFromFile(t *testing.T) {
	path := writeYAML(t, `
server:
  http_port: 9000
engine:
  max_iterations: 5
  max_context_tokens: 2048
convergence:
  threshold: 0.8
tools:
  max_attempts: 2
  aliases:
    web_search: "search:web_search"
  mcp_servers:
    - name: brain
      transport: stdio
      command: brain-mcp
      args: ["--quiet"]
    - name: search
      transport: websocket
      url: ws://localhost:7000/mcp
knowledge:
  backend: gorm
database:
  driver: sqlite
  name: hrm.db
`)
	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 5, cfg.Engine.MaxIterations)
	assert.Equal(t, 2048, cfg.Engine.MaxContextTokens)
	assert.Equal(t, 0.8, cfg.Convergence.Threshold)
	assert.Equal(t, 2, cfg.Tools.MaxAttempts)
	assert.Equal(t, "search:web_search", cfg.Tools.Aliases["web_search"])
	require.Len(t, cfg.Tools.MCPServers, 2)
	assert.Equal(t, []string{"--quiet"}, cfg.Tools.MCPServers[0].Args)
	assert.Equal(t, "websocket", cfg.Tools.MCPServers[1].Transport)
	// 未在文件中出现的字段保留默认值
	assert.Equal(t, "regex", cfg.Engine.Assessor)
	assert.True(t, cfg.UsesDatabase())
	require.NoError(t, cfg.Validate())
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeYAML(t, "server: [unclosed")
	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeYAML(t, "server:\n  http_port: 9000\n")
	t.Setenv("HRM_SERVER_HTTP_PORT", "7070")
	t.Setenv("HRM_SERVER_API_KEYS", "k1, k2,")
	t.Setenv("HRM_ENGINE_SLOW_EXECUTION", "3s")
	t.Setenv("HRM_CONVERGENCE_THRESHOLD", "0.9")
	t.Setenv("HRM_CACHE_ENABLED", "true")
	t.Setenv("HRM_LOG_ROTATION_MAX_BACKUPS", "9")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, 3*time.Second, cfg.Engine.SlowExecution)
	assert.Equal(t, 0.9, cfg.Convergence.Threshold)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, 9, cfg.Log.Rotation.MaxBackups)
}

func TestLoader_CustomPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6060")
	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.HTTPPort)
}

func TestLoader_BadEnvValue(t *testing.T) {
	t.Setenv("HRM_SERVER_HTTP_PORT", "eighty")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HRM_SERVER_HTTP_PORT")
}

func TestLoader_Validators(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	require.NoError(t, err)

	t.Setenv("HRM_ENGINE_MAX_ITERATIONS", "0")
	_, err = NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_iterations")
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 70000 }, "http_port"},
		{"tls pair", func(c *Config) { c.Server.TLSCertFile = "server.crt" }, "tls_key_file"},
		{"threshold", func(c *Config) { c.Convergence.Threshold = 0 }, "threshold"},
		{"knowledge backend", func(c *Config) { c.Knowledge.Backend = "s3" }, "knowledge.backend"},
		{"history backend", func(c *Config) { c.History.Backend = "redis" }, "history.backend"},
		{"mongo uri", func(c *Config) { c.Knowledge.Backend = "mongo" }, "mongo.uri"},
		{"mcp server", func(c *Config) {
			c.Tools.MCPServers = []mcp.ServerConfig{{Name: "x", Transport: "sse"}}
		}, "url is required"},
		{"duplicate mcp server", func(c *Config) {
			s := mcp.ServerConfig{Name: "brain", Command: "brain"}
			c.Tools.MCPServers = []mcp.ServerConfig{s, s}
		}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DefaultDatabaseConfig()
	assert.Contains(t, d.DSN(), "dbname=hrmflow")

	d.Driver = "mysql"
	d.Port = 3306
	assert.Equal(t, "hrmflow:@tcp(localhost:3306)/hrmflow?parseTime=true", d.DSN())

	d.Driver = "sqlite"
	d.Name = "file::memory:"
	assert.Equal(t, "file::memory:", d.DSN())

	d.Driver = "oracle"
	assert.Empty(t, d.DSN())
}
