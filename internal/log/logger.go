// Package log 提供分析器的日志系统封装
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 输出方式
const (
	OutputConsole = "console"
	OutputFile    = "file"
	OutputBoth    = "both"
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别: debug, info, warn, error
	Output     string `yaml:"output" mapstructure:"output"`           // 输出方式: console, file, both
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"` // 单文件最大大小(MB)
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 最大保留文件数
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// DefaultConfig 返回默认日志配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Output:     OutputConsole,
		FilePath:   "logs/analyzer.log",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

// Validate 验证日志配置
func (c *Config) Validate() error {
	var level zapcore.Level
	if c.Level != "" {
		if err := level.UnmarshalText([]byte(c.Level)); err != nil {
			return fmt.Errorf("log.level must be one of: debug, info, warn, error")
		}
	}
	switch c.Output {
	case "", OutputConsole:
	case OutputFile, OutputBoth:
		if c.FilePath == "" {
			return fmt.Errorf("log.file_path is required for output %q", c.Output)
		}
	default:
		return fmt.Errorf("log.output must be one of: console, file, both")
	}
	return nil
}

// Logger 封装 zap.Logger 提供统一日志接口
type Logger struct {
	zap    *zap.Logger
	level  zap.AtomicLevel
	config Config
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// NewLogger 根据配置创建 Logger
func NewLogger(cfg Config) (*Logger, error) {
	// 解析日志级别
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		// 默认 info 级别
		level.SetLevel(zapcore.InfoLevel)
	}

	// 配置编码器
	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// 控制台日志写 stderr，stdout 留给命令输出
	var writeSyncer zapcore.WriteSyncer
	switch cfg.Output {
	case OutputFile:
		writeSyncer = createFileWriter(cfg)
	case OutputBoth:
		writeSyncer = zapcore.NewMultiWriteSyncer(
			zapcore.Lock(os.Stderr),
			createFileWriter(cfg),
		)
	default:
		writeSyncer = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		writeSyncer,
		level,
	)

	return &Logger{
		zap:    zap.New(core, zap.AddCaller()),
		level:  level,
		config: cfg,
	}, nil
}

// createFileWriter 创建文件输出器（支持日志轮转）
func createFileWriter(cfg Config) zapcore.WriteSyncer {
	// 确保日志目录存在
	if dir := filepath.Dir(cfg.FilePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			// lumberjack 会在写入时再次尝试
			_, _ = os.Stderr.WriteString("Warning: failed to create log directory: " + err.Error() + "\n")
		}
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	})
}

// Zap 返回底层 zap.Logger，供各组件注入
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// SetLevel 动态调整日志级别
func (l *Logger) SetLevel(level string) error {
	return l.level.UnmarshalText([]byte(level))
}

// GetLevel 获取当前日志级别
func (l *Logger) GetLevel() string {
	return l.level.Level().String()
}

// WithModule 创建带模块名的子 Logger
func (l *Logger) WithModule(module string) *Logger {
	return &Logger{
		zap:    l.zap.With(zap.String("module", module)),
		level:  l.level,
		config: l.config,
	}
}

// Sync 刷新日志缓冲区
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// ============================================================
// 全局 Logger 接口
// ============================================================

// Init 初始化全局 Logger
func Init(cfg Config) (*Logger, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
	return logger, nil
}

// Global 获取全局 Logger
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()

	if globalLogger == nil {
		// 返回默认 Logger
		logger, _ := NewLogger(Config{
			Level:  "info",
			Output: OutputConsole,
		})
		return logger
	}
	return globalLogger
}

// SetGlobalLevel 设置全局日志级别
func SetGlobalLevel(level string) error {
	globalMu.RLock()
	defer globalMu.RUnlock()

	if globalLogger == nil {
		return nil
	}
	return globalLogger.SetLevel(level)
}

// WithModule 从全局 Logger 派生带模块名的 zap.Logger
func WithModule(module string) *zap.Logger {
	return Global().WithModule(module).Zap()
}
