// =============================================================================
// 📦 hrmflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("hrmflow.yaml").
//	    WithEnvPrefix("HRM").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/hrmflow/mcp"
)

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "HRM"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 hrmflow 的完整配置结构
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server" env:"SERVER"`
	Log         LogConfig         `yaml:"log" json:"log" env:"LOG"`
	Engine      EngineConfig      `yaml:"engine" json:"engine" env:"ENGINE"`
	Convergence ConvergenceConfig `yaml:"convergence" json:"convergence" env:"CONVERGENCE"`
	Patterns    PatternsConfig    `yaml:"patterns" json:"patterns" env:"PATTERNS"`
	Tools       ToolsConfig       `yaml:"tools" json:"tools" env:"TOOLS"`
	Knowledge   KnowledgeConfig   `yaml:"knowledge" json:"knowledge" env:"KNOWLEDGE"`
	History     HistoryConfig     `yaml:"history" json:"history" env:"HISTORY"`
	Database    DatabaseConfig    `yaml:"database" json:"database" env:"DATABASE"`
	Redis       RedisConfig       `yaml:"redis" json:"redis" env:"REDIS"`
	Mongo       MongoConfig       `yaml:"mongo" json:"mongo" env:"MONGO"`
	Cache       CacheConfig       `yaml:"cache" json:"cache" env:"CACHE"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry" env:"TELEMETRY"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics" env:"METRICS"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" json:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" json:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 最大并发连接数，0 不限制
	MaxConnections int      `yaml:"max_connections" json:"max_connections" env:"MAX_CONNECTIONS"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	CORSOrigins    []string `yaml:"cors_origins" json:"cors_origins" env:"CORS_ORIGINS"`
	// APIKeys 为空且未配置 JWT 时不启用鉴权
	APIKeys []string  `yaml:"api_keys" json:"-" env:"API_KEYS"`
	JWT     JWTConfig `yaml:"jwt" json:"jwt" env:"JWT"`
	// API 端口 TLS，证书与私钥需同时设置
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file" env:"TLS_KEY_FILE"`
}

// JWTConfig JWT 鉴权配置
type JWTConfig struct {
	Secret   string `yaml:"secret" json:"-" env:"SECRET"`
	Issuer   string `yaml:"issuer" json:"issuer" env:"ISSUER"`
	Audience string `yaml:"audience" json:"audience" env:"AUDIENCE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" json:"format" env:"FORMAT"`
	// 输出路径：stdout、stderr 或文件路径（文件按 Rotation 轮转）
	OutputPaths      []string       `yaml:"output_paths" json:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool           `yaml:"enable_caller" json:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool           `yaml:"enable_stacktrace" json:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
	Rotation         RotationConfig `yaml:"rotation" json:"rotation" env:"ROTATION"`
}

// RotationConfig 日志文件轮转
type RotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" json:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int  `yaml:"max_backups" json:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int  `yaml:"max_age_days" json:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool `yaml:"compress" json:"compress" env:"COMPRESS"`
}

// EngineConfig 引擎配置
type EngineConfig struct {
	MaxQueryLength      int           `yaml:"max_query_length" json:"max_query_length" env:"MAX_QUERY_LENGTH"`
	MaxIterations       int           `yaml:"max_iterations" json:"max_iterations" env:"MAX_ITERATIONS"`
	AdvancedConvergence bool          `yaml:"advanced_convergence" json:"advanced_convergence" env:"ADVANCED_CONVERGENCE"`
	MaxContextTokens    int           `yaml:"max_context_tokens" json:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	Tokenizer           string        `yaml:"tokenizer" json:"tokenizer" env:"TOKENIZER"` // tiktoken | estimator
	TokenEncoding       string        `yaml:"token_encoding" json:"token_encoding" env:"TOKEN_ENCODING"`
	Assessor            string        `yaml:"assessor" json:"assessor" env:"ASSESSOR"` // regex | keyword | hybrid
	AssessorCacheSize   int           `yaml:"assessor_cache_size" json:"assessor_cache_size" env:"ASSESSOR_CACHE_SIZE"`
	MaxConcurrent       int64         `yaml:"max_concurrent" json:"max_concurrent" env:"MAX_CONCURRENT"`
	BatchParallelism    int           `yaml:"batch_parallelism" json:"batch_parallelism" env:"BATCH_PARALLELISM"`
	MaxBatchSize        int           `yaml:"max_batch_size" json:"max_batch_size" env:"MAX_BATCH_SIZE"`
	SlowExecution       time.Duration `yaml:"slow_execution" json:"slow_execution" env:"SLOW_EXECUTION"`
	EventBuffer         int           `yaml:"event_buffer" json:"event_buffer" env:"EVENT_BUFFER"`
}

// ConvergenceConfig 收敛配置
type ConvergenceConfig struct {
	Threshold float64 `yaml:"threshold" json:"threshold" env:"THRESHOLD"`
	// PerformanceStore: memory | redis
	PerformanceStore string `yaml:"performance_store" json:"performance_store" env:"PERFORMANCE_STORE"`
	RedisKey         string `yaml:"redis_key" json:"redis_key" env:"REDIS_KEY"`
}

// PatternsConfig 模式目录配置
type PatternsConfig struct {
	// File 为空时使用内置模式
	File  string `yaml:"file" json:"file" env:"FILE"`
	Watch bool   `yaml:"watch" json:"watch" env:"WATCH"`
}

// ToolsConfig 工具调用配置
type ToolsConfig struct {
	MaxAttempts         int                `yaml:"max_attempts" json:"max_attempts" env:"MAX_ATTEMPTS"`
	RetryBaseDelay      time.Duration      `yaml:"retry_base_delay" json:"retry_base_delay" env:"RETRY_BASE_DELAY"`
	CallTimeout         time.Duration      `yaml:"call_timeout" json:"call_timeout" env:"CALL_TIMEOUT"`
	RateLimit           float64            `yaml:"rate_limit" json:"rate_limit" env:"RATE_LIMIT"`
	RateBurst           int                `yaml:"rate_burst" json:"rate_burst" env:"RATE_BURST"`
	BreakerThreshold    int                `yaml:"breaker_threshold" json:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerResetTimeout time.Duration      `yaml:"breaker_reset_timeout" json:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
	Aliases             map[string]string  `yaml:"aliases" json:"aliases"`
	MCPServers          []mcp.ServerConfig `yaml:"mcp_servers" json:"mcp_servers"`
}

// KnowledgeConfig 知识存储配置
type KnowledgeConfig struct {
	// Backend: memory | gorm | redis | mongo
	Backend     string        `yaml:"backend" json:"backend" env:"BACKEND"`
	RedisPrefix string        `yaml:"redis_prefix" json:"redis_prefix" env:"REDIS_PREFIX"`
	RedisTTL    time.Duration `yaml:"redis_ttl" json:"redis_ttl" env:"REDIS_TTL"`
}

// HistoryConfig 执行历史配置
type HistoryConfig struct {
	// Backend: memory | gorm
	Backend  string `yaml:"backend" json:"backend" env:"BACKEND"`
	Capacity int    `yaml:"capacity" json:"capacity" env:"CAPACITY"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver          string        `yaml:"driver" json:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" json:"host" env:"HOST"`
	Port            int           `yaml:"port" json:"port" env:"PORT"`
	User            string        `yaml:"user" json:"user" env:"USER"`
	Password        string        `yaml:"password" json:"-" env:"PASSWORD"`
	Name            string        `yaml:"name" json:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" json:"auto_migrate" env:"AUTO_MIGRATE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string `yaml:"addr" json:"addr" env:"ADDR"`
	Password     string `yaml:"password" json:"-" env:"PASSWORD"`
	DB           int    `yaml:"db" json:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	TLSEnabled   bool   `yaml:"tls_enabled" json:"tls_enabled" env:"TLS_ENABLED"`
	CAFile       string `yaml:"ca_file" json:"ca_file" env:"CA_FILE"`
	KeyPrefix    string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI        string        `yaml:"uri" json:"-" env:"URI"`
	Database   string        `yaml:"database" json:"database" env:"DATABASE"`
	Collection string        `yaml:"collection" json:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// CacheConfig 结果缓存配置（依赖 Redis）
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled" env:"ENABLED"`
	TTL     time.Duration `yaml:"ttl" json:"ttl" env:"TTL"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
	// Insecure 为 false 时 OTLP 走 TLS，CAFile 可选
	Insecure       bool          `yaml:"insecure" json:"insecure" env:"INSECURE"`
	CAFile         string        `yaml:"ca_file" json:"ca_file" env:"CA_FILE"`
	ExportInterval time.Duration `yaml:"export_interval" json:"export_interval" env:"EXPORT_INTERVAL"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" json:"namespace" env:"NAMESPACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，键名为 PREFIX_SECTION_FIELD
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
	return nil
}

// =============================================================================
// 🔍 校验与辅助函数
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid http_port %d", c.Server.HTTPPort))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid metrics_port %d", c.Server.MetricsPort))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together"))
	}
	if c.Engine.MaxIterations <= 0 {
		errs = append(errs, errors.New("engine.max_iterations must be positive"))
	}
	if c.Engine.MaxQueryLength <= 0 {
		errs = append(errs, errors.New("engine.max_query_length must be positive"))
	}
	if c.Convergence.Threshold <= 0 || c.Convergence.Threshold > 1 {
		errs = append(errs, fmt.Errorf("convergence.threshold must be in (0, 1], got %v", c.Convergence.Threshold))
	}
	if c.Tools.MaxAttempts <= 0 {
		errs = append(errs, errors.New("tools.max_attempts must be positive"))
	}
	if !oneOf(c.Knowledge.Backend, "memory", "gorm", "redis", "mongo") {
		errs = append(errs, fmt.Errorf("unknown knowledge.backend %q", c.Knowledge.Backend))
	}
	if !oneOf(c.History.Backend, "memory", "gorm") {
		errs = append(errs, fmt.Errorf("unknown history.backend %q", c.History.Backend))
	}
	if !oneOf(c.Convergence.PerformanceStore, "memory", "redis") {
		errs = append(errs, fmt.Errorf("unknown convergence.performance_store %q", c.Convergence.PerformanceStore))
	}
	if !oneOf(c.Database.Driver, "postgres", "mysql", "sqlite") {
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Knowledge.Backend == "mongo" && c.Mongo.URI == "" {
		errs = append(errs, errors.New("mongo.uri is required for the mongo knowledge backend"))
	}
	seen := make(map[string]bool, len(c.Tools.MCPServers))
	for _, s := range c.Tools.MCPServers {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate mcp server %q", s.Name))
		}
		seen[s.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// UsesRedis reports whether any enabled component needs the Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Cache.Enabled || c.Knowledge.Backend == "redis" || c.Convergence.PerformanceStore == "redis"
}

// UsesDatabase reports whether any enabled component needs the SQL database.
func (c *Config) UsesDatabase() bool {
	return c.Knowledge.Backend == "gorm" || c.History.Backend == "gorm"
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
