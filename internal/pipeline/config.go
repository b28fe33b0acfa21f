// Package pipeline 串联导入、关联、富化、打标与报告各阶段
package pipeline

import (
	"time"
)

// Config 管线配置
type Config struct {
	WorkerCount int           `yaml:"worker_count" mapstructure:"worker_count"`
	BatchSize   int           `yaml:"batch_size" mapstructure:"batch_size"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"` // 整次运行的超时，0 表示不限制
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		WorkerCount: 4,
		BatchSize:   500,
		Timeout:     30 * time.Minute,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.WorkerCount <= 0 {
		return &ConfigError{Field: "pipeline.worker_count", Message: "worker_count must be positive"}
	}
	if c.BatchSize <= 0 {
		return &ConfigError{Field: "pipeline.batch_size", Message: "batch_size must be positive"}
	}
	if c.Timeout < 0 {
		return &ConfigError{Field: "pipeline.timeout", Message: "timeout cannot be negative"}
	}
	return nil
}

// ConfigError 配置错误
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}
