package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Loader 配置加载器
type Loader struct {
	v      *viper.Viper
	config *Config
	mu     sync.RWMutex
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{
		v:      viper.New(),
		config: Default(),
	}
}

// Viper 返回底层 viper 实例，用于绑定命令行参数
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load 从指定路径加载配置
// 支持多个路径，后面的配置会覆盖前面的；不存在的文件被忽略
func (l *Loader) Load(paths ...string) (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 设置配置类型
	l.v.SetConfigType("yaml")

	// 设置环境变量前缀和自动读取
	l.v.SetEnvPrefix("EDR")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// 设置默认值
	l.setDefaults()

	// 加载配置文件
	for _, path := range paths {
		if path == "" {
			continue
		}
		l.v.SetConfigFile(path)
		if err := l.v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// 解析到结构体
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	l.config = cfg
	return cfg, nil
}

// setDefaults 设置默认值，同时让环境变量覆盖对所有键生效
func (l *Loader) setDefaults() {
	def := Default()

	l.v.SetDefault("input.path", def.Input.Path)
	l.v.SetDefault("input.kafka.enabled", def.Input.Kafka.Enabled)
	l.v.SetDefault("input.kafka.brokers", def.Input.Kafka.Brokers)
	l.v.SetDefault("input.kafka.topic", def.Input.Kafka.Topic)
	l.v.SetDefault("input.kafka.group_id", def.Input.Kafka.GroupID)
	l.v.SetDefault("input.kafka.min_bytes", def.Input.Kafka.MinBytes)
	l.v.SetDefault("input.kafka.max_bytes", def.Input.Kafka.MaxBytes)
	l.v.SetDefault("input.kafka.max_wait", def.Input.Kafka.MaxWait)
	l.v.SetDefault("input.kafka.idle_timeout", def.Input.Kafka.IdleTimeout)
	l.v.SetDefault("input.kafka.max_messages", def.Input.Kafka.MaxMessages)

	l.v.SetDefault("database.driver", def.Database.Driver)
	l.v.SetDefault("database.path", def.Database.Path)
	l.v.SetDefault("database.host", def.Database.Host)
	l.v.SetDefault("database.port", def.Database.Port)
	l.v.SetDefault("database.database", def.Database.Database)
	l.v.SetDefault("database.username", def.Database.Username)
	l.v.SetDefault("database.password", def.Database.Password)
	l.v.SetDefault("database.ssl_mode", def.Database.SSLMode)
	l.v.SetDefault("database.max_open_conns", def.Database.MaxOpenConns)
	l.v.SetDefault("database.max_idle_conns", def.Database.MaxIdleConns)
	l.v.SetDefault("database.conn_max_lifetime", def.Database.ConnMaxLifetime)
	l.v.SetDefault("database.conn_max_idle_time", def.Database.ConnMaxIdleTime)
	l.v.SetDefault("database.slow_threshold", def.Database.SlowThreshold)

	l.v.SetDefault("rules.path", def.Rules.Path)

	l.v.SetDefault("report.output_path", def.Report.OutputPath)
	l.v.SetDefault("report.top_processes", def.Report.TopProcesses)
	l.v.SetDefault("report.top_connections", def.Report.TopConnections)
	l.v.SetDefault("report.max_chain_depth", def.Report.MaxChainDepth)
	l.v.SetDefault("report.geoip.enabled", def.Report.GeoIP.Enabled)
	l.v.SetDefault("report.geoip.database_path", def.Report.GeoIP.DatabasePath)
	l.v.SetDefault("report.kafka.enabled", def.Report.Kafka.Enabled)
	l.v.SetDefault("report.kafka.brokers", def.Report.Kafka.Brokers)
	l.v.SetDefault("report.kafka.topic", def.Report.Kafka.Topic)
	l.v.SetDefault("report.kafka.key", def.Report.Kafka.Key)
	l.v.SetDefault("report.kafka.batch_size", def.Report.Kafka.BatchSize)
	l.v.SetDefault("report.kafka.batch_timeout", def.Report.Kafka.BatchTimeout)
	l.v.SetDefault("report.kafka.required_acks", def.Report.Kafka.RequiredAcks)
	l.v.SetDefault("report.kafka.compression", def.Report.Kafka.Compression)
	l.v.SetDefault("report.kafka.max_retries", def.Report.Kafka.MaxRetries)

	l.v.SetDefault("pipeline.worker_count", def.Pipeline.WorkerCount)
	l.v.SetDefault("pipeline.batch_size", def.Pipeline.BatchSize)
	l.v.SetDefault("pipeline.timeout", def.Pipeline.Timeout)

	l.v.SetDefault("metrics.namespace", def.Metrics.Namespace)
	l.v.SetDefault("metrics.textfile_path", def.Metrics.TextfilePath)

	l.v.SetDefault("log.level", def.Log.Level)
	l.v.SetDefault("log.output", def.Log.Output)
	l.v.SetDefault("log.file_path", def.Log.FilePath)
	l.v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	l.v.SetDefault("log.max_backups", def.Log.MaxBackups)
	l.v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)
}

// Get 获取当前配置（线程安全）
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// LoadAndValidate 加载并验证配置
func LoadAndValidate(paths ...string) (*Config, error) {
	loader := NewLoader()
	cfg, err := loader.Load(paths...)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}
