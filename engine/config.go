package engine

import (
	"fmt"
	"time"
)

// Config 引擎配置
type Config struct {
	// MaxQueryLength is measured in runes.
	MaxQueryLength       int           `yaml:"max_query_length" json:"max_query_length"`
	MaxIterations        int           `yaml:"max_iterations" json:"max_iterations"`
	ConvergenceThreshold float64       `yaml:"convergence_threshold" json:"convergence_threshold"`
	AdvancedConvergence  bool          `yaml:"advanced_convergence" json:"advanced_convergence"`
	MaxContextTokens     int           `yaml:"max_context_tokens" json:"max_context_tokens"` // 0 不限制
	MaxConcurrent        int64         `yaml:"max_concurrent" json:"max_concurrent"`
	BatchParallelism     int           `yaml:"batch_parallelism" json:"batch_parallelism"`
	MaxBatchSize         int           `yaml:"max_batch_size" json:"max_batch_size"`
	CacheTTL             time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	// SlowExecution marks executions long enough to earn a performance insight.
	SlowExecution time.Duration `yaml:"slow_execution" json:"slow_execution"`
}

// DefaultConfig 返回默认引擎配置
func DefaultConfig() Config {
	return Config{
		MaxQueryLength:       4000,
		MaxIterations:        3,
		ConvergenceThreshold: 0.75,
		AdvancedConvergence:  true,
		MaxConcurrent:        16,
		BatchParallelism:     4,
		MaxBatchSize:         50,
		CacheTTL:             10 * time.Minute,
		SlowExecution:        10 * time.Second,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.MaxQueryLength <= 0 {
		return fmt.Errorf("max_query_length must be positive")
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive")
	}
	if c.ConvergenceThreshold <= 0 || c.ConvergenceThreshold > 1 {
		return fmt.Errorf("convergence_threshold must be in (0, 1], got %v", c.ConvergenceThreshold)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if c.BatchParallelism <= 0 {
		return fmt.Errorf("batch_parallelism must be positive")
	}
	if c.MaxContextTokens < 0 {
		return fmt.Errorf("max_context_tokens must not be negative")
	}
	return nil
}
