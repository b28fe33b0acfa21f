// Package writer 提供分析结果输出能力，支持文件与 Kafka
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrClosed 写入器已关闭
var ErrClosed = errors.New("writer is closed")

// Writer 输出接口
type Writer interface {
	// Write 写入单条消息
	Write(ctx context.Context, data []byte) error
	// WriteBatch 批量写入消息
	WriteBatch(ctx context.Context, items [][]byte) error
	// Close 关闭写入器
	Close() error
}

// KafkaWriterConfig Kafka写入配置
type KafkaWriterConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Brokers Kafka broker地址列表
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	// Topic 目标主题
	Topic string `yaml:"topic" mapstructure:"topic"`
	// Key 消息键，同一分析任务的报告落在同一分区
	Key string `yaml:"key" mapstructure:"key"`
	// BatchSize 批量写入大小
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// BatchTimeout 批量写入超时
	BatchTimeout time.Duration `yaml:"batch_timeout" mapstructure:"batch_timeout"`
	// RequiredAcks 确认级别: 0=不等待, 1=Leader确认, -1=所有副本确认
	RequiredAcks int `yaml:"required_acks" mapstructure:"required_acks"`
	// Compression 压缩方式: none, gzip, snappy, lz4, zstd
	Compression string `yaml:"compression" mapstructure:"compression"`
	// MaxRetries 最大重试次数
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
}

// DefaultKafkaWriterConfig 返回默认配置
func DefaultKafkaWriterConfig() KafkaWriterConfig {
	return KafkaWriterConfig{
		Brokers:      []string{"localhost:19092"},
		Topic:        "edr.lineage.reports",
		Key:          "lineage-analyzer",
		BatchSize:    100,
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: 1,
		MaxRetries:   3,
	}
}

// Validate 验证配置
func (c *KafkaWriterConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers is empty")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka topic is empty")
	}
	if _, err := parseCompression(c.Compression); err != nil {
		return err
	}
	return nil
}

// KafkaWriter Kafka输出实现
type KafkaWriter struct {
	writer *kafka.Writer
	config *KafkaWriterConfig
	mu     sync.Mutex
	closed bool
}

// NewKafkaWriter 创建Kafka写入器
func NewKafkaWriter(cfg *KafkaWriterConfig) (*KafkaWriter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kafka writer config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 设置默认值
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	compression, _ := parseCompression(cfg.Compression)

	// 解析确认级别
	var requiredAcks kafka.RequiredAcks
	switch cfg.RequiredAcks {
	case 0:
		requiredAcks = kafka.RequireNone
	case -1:
		requiredAcks = kafka.RequireAll
	default:
		requiredAcks = kafka.RequireOne
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: requiredAcks,
		Compression:  compression,
		MaxAttempts:  cfg.MaxRetries,
	}

	return &KafkaWriter{
		writer: writer,
		config: cfg,
	}, nil
}

func parseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("unsupported kafka compression: %q", name)
}

// Write 写入单条消息
func (w *KafkaWriter) Write(ctx context.Context, data []byte) error {
	return w.WriteBatch(ctx, [][]byte{data})
}

// WriteBatch 批量写入消息
func (w *KafkaWriter) WriteBatch(ctx context.Context, items [][]byte) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("kafka %s: %w", w.config.Topic, ErrClosed)
	}
	w.mu.Unlock()

	if len(items) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(items))
	now := time.Now()
	for i, data := range items {
		messages[i] = kafka.Message{
			Key:   []byte(w.config.Key),
			Value: data,
			Time:  now,
		}
	}

	return w.writer.WriteMessages(ctx, messages...)
}

// Close 关闭写入器
func (w *KafkaWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	return w.writer.Close()
}

// MultiWriter 多目标写入器
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter 创建多目标写入器
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{
		writers: writers,
	}
}

// Write 写入到所有目标
func (m *MultiWriter) Write(ctx context.Context, data []byte) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Write(ctx, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteBatch 批量写入到所有目标
func (m *MultiWriter) WriteBatch(ctx context.Context, items [][]byte) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.WriteBatch(ctx, items); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 关闭所有写入器
func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len 返回目标数量
func (m *MultiWriter) Len() int {
	return len(m.writers)
}
