// =============================================================================
// 📦 hrmflow 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置：内存存储、无外部依赖
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Log:         DefaultLogConfig(),
		Engine:      DefaultEngineConfig(),
		Convergence: DefaultConvergenceConfig(),
		Patterns:    PatternsConfig{},
		Tools:       DefaultToolsConfig(),
		Knowledge:   DefaultKnowledgeConfig(),
		History:     HistoryConfig{Backend: "memory", Capacity: 1000},
		Database:    DefaultDatabaseConfig(),
		Redis:       DefaultRedisConfig(),
		Mongo:       DefaultMongoConfig(),
		Cache:       CacheConfig{Enabled: false, TTL: 10 * time.Minute},
		Telemetry:   DefaultTelemetryConfig(),
		Metrics:     MetricsConfig{Enabled: true, Namespace: "hrm"},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    2 * time.Minute,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		MaxConnections:  1024,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
		Rotation: RotationConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxQueryLength:      4000,
		MaxIterations:       3,
		AdvancedConvergence: true,
		Tokenizer:           "tiktoken",
		TokenEncoding:       "cl100k_base",
		Assessor:            "regex",
		AssessorCacheSize:   1024,
		MaxConcurrent:       16,
		BatchParallelism:    4,
		MaxBatchSize:        50,
		SlowExecution:       10 * time.Second,
		EventBuffer:         256,
	}
}

// DefaultConvergenceConfig 返回默认收敛配置
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Threshold:        0.75,
		PerformanceStore: "memory",
		RedisKey:         "hrm:pattern_performance",
	}
}

// DefaultToolsConfig 返回默认工具配置
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		MaxAttempts:         3,
		RetryBaseDelay:      500 * time.Millisecond,
		CallTimeout:         30 * time.Second,
		RateBurst:           5,
		BreakerThreshold:    5,
		BreakerResetTimeout: 60 * time.Second,
	}
}

// DefaultKnowledgeConfig 返回默认知识存储配置
func DefaultKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{
		Backend:     "memory",
		RedisPrefix: "hrm:knowledge:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "hrmflow",
		Name:            "hrmflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     false,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "hrm:",
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database:   "hrmflow",
		Collection: "knowledge",
		Timeout:    10 * time.Second,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:        false,
		OTLPEndpoint:   "localhost:4317",
		ServiceName:    "hrmflow",
		SampleRate:     0.1,
		Insecure:       true,
		ExportInterval: 30 * time.Second,
	}
}
