// 配置热重载管理器实现。
//
// 文件变更时重新加载并校验配置，计算字段级差异后通知回调；
// 非热重载字段的变更只记录告警，需要重启才能生效。
package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConfigChange 代表单个字段的变更
type ConfigChange struct {
	Path      string    `json:"path"`
	OldValue  any       `json:"old_value"`
	NewValue  any       `json:"new_value"`
	HotReload bool      `json:"hot_reload"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// ReloadCallback 在新配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config, changes []ConfigChange)

// hotReloadable 列出运行时即可生效的字段路径（yaml 键）
var hotReloadable = map[string]bool{
	"log.level":               true,
	"server.rate_limit_rps":   true,
	"server.rate_limit_burst": true,
	"engine.slow_execution":   true,
	"patterns.file":           true,
}

// IsHotReloadable reports whether a change to path applies without restart.
func IsHotReloadable(path string) bool {
	return hotReloadable[path]
}

// sensitive 字段在日志中脱敏
var sensitive = []string{"password", "secret", "api_keys", "uri"}

// HotReloadManager 管理配置热重载
type HotReloadManager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
	envPrefix  string
	version    int
	callbacks  []ReloadCallback
	watcher    *FileWatcher
	debounce   time.Duration
	logger     *zap.Logger
}

// HotReloadOption 配置 HotReloadManager
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger 设置记录器
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithReloadEnvPrefix sets the env prefix used when reloading.
func WithReloadEnvPrefix(prefix string) HotReloadOption {
	return func(m *HotReloadManager) { m.envPrefix = prefix }
}

// WithReloadDebounce sets the file watcher debounce delay.
func WithReloadDebounce(d time.Duration) HotReloadOption {
	return func(m *HotReloadManager) { m.debounce = d }
}

// NewHotReloadManager 创建热重载管理器，path 为空时仅支持 ApplyConfig
func NewHotReloadManager(cfg *Config, path string, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:     cfg,
		configPath: path,
		envPrefix:  DefaultEnvPrefix,
		version:    1,
		debounce:   500 * time.Millisecond,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "config_reload"))
	return m
}

// Config returns the active configuration. Callers must not modify it.
func (m *HotReloadManager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Version is incremented on every applied configuration.
func (m *HotReloadManager) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// OnReload 注册重新加载回调
func (m *HotReloadManager) OnReload(cb ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Start watches the config file until ctx is done or Stop is called.
func (m *HotReloadManager) Start(ctx context.Context) error {
	if m.configPath == "" {
		return fmt.Errorf("no config path set")
	}
	w, err := NewFileWatcher([]string{m.configPath},
		WithWatcherLogger(m.logger),
		WithDebounceDelay(m.debounce))
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.OnChange(func(ev FileEvent) {
		if ev.Op != FileOpWrite && ev.Op != FileOpCreate {
			return
		}
		if err := m.ReloadFromFile(); err != nil {
			m.logger.Error("config reload failed, keeping current config", zap.Error(err))
		}
	})
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	m.mu.Lock()
	m.watcher = w
	m.mu.Unlock()
	m.logger.Info("config hot reload started", zap.String("path", m.configPath))
	return nil
}

// Stop 停止文件监听
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

// ReloadFromFile 从文件重新加载配置
func (m *HotReloadManager) ReloadFromFile() error {
	cfg, err := NewLoader().WithConfigPath(m.configPath).WithEnvPrefix(m.envPrefix).Load()
	if err != nil {
		return err
	}
	return m.ApplyConfig(cfg, "file")
}

// ApplyConfig validates cfg and makes it active. Invalid configs are rejected.
func (m *HotReloadManager) ApplyConfig(cfg *Config, source string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	old := m.config
	changes := Diff(old, cfg)
	now := time.Now()
	for i := range changes {
		changes[i].Source = source
		changes[i].Timestamp = now
	}
	m.config = cfg
	m.version++
	version := m.version
	callbacks := append([]ReloadCallback(nil), m.callbacks...)
	m.mu.Unlock()

	for _, c := range changes {
		fields := []zap.Field{zap.String("path", c.Path), zap.Bool("hot_reload", c.HotReload)}
		if !isSensitive(c.Path) {
			fields = append(fields, zap.Any("old", c.OldValue), zap.Any("new", c.NewValue))
		}
		if c.HotReload {
			m.logger.Info("config changed", fields...)
		} else {
			m.logger.Warn("config changed, restart required", fields...)
		}
	}
	m.logger.Info("config applied",
		zap.String("source", source),
		zap.Int("version", version),
		zap.Int("changes", len(changes)))

	for _, cb := range callbacks {
		m.notify(cb, old, cfg, changes)
	}
	return nil
}

func (m *HotReloadManager) notify(cb ReloadCallback, old, cfg *Config, changes []ConfigChange) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("reload callback panicked", zap.Any("recover", r))
		}
	}()
	cb(old, cfg, changes)
}

// Diff lists leaf fields that differ between a and b, keyed by yaml path.
func Diff(a, b *Config) []ConfigChange {
	var changes []ConfigChange
	diffValues("", reflect.ValueOf(a).Elem(), reflect.ValueOf(b).Elem(), &changes)
	return changes
}

func diffValues(prefix string, a, b reflect.Value, out *[]ConfigChange) {
	t := a.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("yaml"), ",")[0]
		if name == "" || name == "-" {
			name = strings.ToLower(f.Name)
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		av, bv := a.Field(i), b.Field(i)
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			diffValues(path, av, bv, out)
			continue
		}
		if !reflect.DeepEqual(av.Interface(), bv.Interface()) {
			*out = append(*out, ConfigChange{
				Path:      path,
				OldValue:  av.Interface(),
				NewValue:  bv.Interface(),
				HotReload: IsHotReloadable(path),
			})
		}
	}
}

func isSensitive(path string) bool {
	for _, s := range sensitive {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}
