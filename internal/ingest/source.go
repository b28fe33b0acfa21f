package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// maxLineBytes 单行事件上限
const maxLineBytes = 4 * 1024 * 1024

// Record 输入源中的一行原始数据
type Record struct {
	Line int
	Data []byte
}

// Source 事件输入源，读完后 Next 返回 io.EOF
type Source interface {
	Name() string
	Next(ctx context.Context) (*Record, error)
	Close() error
}

// FileSource JSONL 文件输入源，首次读取时打开文件
type FileSource struct {
	path   string
	file   *os.File
	reader *bufio.Reader
	line   int
}

// NewFileSource 创建文件输入源
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name 返回输入源名称
func (s *FileSource) Name() string { return "file:" + s.path }

// Next 读取下一行非空记录
//
// 超过 maxLineBytes 的行被整行丢弃，返回 *MalformedError，之后可以继续读取。
func (s *FileSource) Next(ctx context.Context) (*Record, error) {
	if s.reader == nil {
		if err := s.open(); err != nil {
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, tooLong, err := s.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", s.path, err)
		}
		if errors.Is(err, io.EOF) && len(data) == 0 && !tooLong {
			return nil, io.EOF
		}

		s.line++
		if tooLong {
			return nil, &MalformedError{Line: s.line, Err: ErrLineTooLong}
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		return &Record{Line: s.line, Data: data}, nil
	}
}

// readLine 读取一行，不含换行符；行过长时丢弃到下一个换行符为止
func (s *FileSource) readLine() ([]byte, bool, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if !tooLong {
			n := len(buf) + len(chunk)
			if len(chunk) > 0 && chunk[len(chunk)-1] == '\n' {
				n--
			}
			if n > maxLineBytes {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, tooLong, err
	}
}

func (s *FileSource) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, s.path)
		}
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	s.file = f
	s.reader = bufio.NewReaderSize(f, 64*1024)
	return nil
}

// Close 关闭文件
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// KafkaSourceConfig Kafka 输入源配置
type KafkaSourceConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Brokers     []string      `yaml:"brokers" mapstructure:"brokers"`
	Topic       string        `yaml:"topic" mapstructure:"topic"`
	GroupID     string        `yaml:"group_id" mapstructure:"group_id"`
	MinBytes    int           `yaml:"min_bytes" mapstructure:"min_bytes"`
	MaxBytes    int           `yaml:"max_bytes" mapstructure:"max_bytes"`
	MaxWait     time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"` // 超过该时长无新消息视为读完
	MaxMessages int           `yaml:"max_messages" mapstructure:"max_messages"` // 0 表示不限制
}

// DefaultKafkaSourceConfig 返回默认配置
func DefaultKafkaSourceConfig() KafkaSourceConfig {
	return KafkaSourceConfig{
		Brokers:     []string{"localhost:19092"},
		Topic:       "edr.events.raw",
		GroupID:     "lineage-analyzer",
		MinBytes:    1024,
		MaxBytes:    10 * 1024 * 1024,
		MaxWait:     500 * time.Millisecond,
		IdleTimeout: 10 * time.Second,
	}
}

// Validate 验证配置
func (c *KafkaSourceConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers list cannot be empty")
	}
	if c.Topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if c.GroupID == "" {
		return fmt.Errorf("group_id cannot be empty")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	return nil
}

// KafkaSource 从 Kafka topic 批量读取事件，空闲超时后结束
type KafkaSource struct {
	reader *kafka.Reader
	config KafkaSourceConfig
	logger *zap.Logger
	count  int
}

// NewKafkaSource 创建 Kafka 输入源
func NewKafkaSource(cfg KafkaSourceConfig, logger *zap.Logger) (*KafkaSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka source config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kafka_source")

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	})

	return &KafkaSource{reader: reader, config: cfg, logger: logger}, nil
}

// Name 返回输入源名称
func (s *KafkaSource) Name() string { return "kafka:" + s.config.Topic }

// Next 读取下一条消息，空闲超时或达到消息上限时返回 io.EOF
func (s *KafkaSource) Next(ctx context.Context) (*Record, error) {
	for {
		if s.config.MaxMessages > 0 && s.count >= s.config.MaxMessages {
			return nil, io.EOF
		}

		readCtx, cancel := context.WithTimeout(ctx, s.config.IdleTimeout)
		msg, err := s.reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				s.logger.Info("Kafka source idle, finishing",
					zap.Int("messages", s.count),
					zap.Duration("idle_timeout", s.config.IdleTimeout),
				)
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read kafka message: %w", err)
		}

		s.count++
		data := bytes.TrimSpace(msg.Value)
		if len(data) == 0 {
			continue
		}
		return &Record{Line: s.count, Data: data}, nil
	}
}

// Close 关闭 reader
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

// SliceSource 内存输入源
type SliceSource struct {
	lines [][]byte
	pos   int
}

// NewSliceSource 创建内存输入源，每个元素为一行
func NewSliceSource(lines ...string) *SliceSource {
	s := &SliceSource{lines: make([][]byte, 0, len(lines))}
	for _, l := range lines {
		s.lines = append(s.lines, []byte(l))
	}
	return s
}

// Name 返回输入源名称
func (s *SliceSource) Name() string { return "memory" }

// Next 返回下一行非空记录
func (s *SliceSource) Next(ctx context.Context) (*Record, error) {
	for s.pos < len(s.lines) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.pos++
		data := bytes.TrimSpace(s.lines[s.pos-1])
		if len(data) == 0 {
			continue
		}
		return &Record{Line: s.pos, Data: data}, nil
	}
	return nil, io.EOF
}

// Close 无操作
func (s *SliceSource) Close() error { return nil }
