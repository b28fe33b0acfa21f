package writer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestKafkaWriterConfig_Defaults(t *testing.T) {
	cfg := &KafkaWriterConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "test-topic",
	}

	writer, err := NewKafkaWriter(cfg)
	if err != nil {
		t.Fatalf("NewKafkaWriter() error = %v", err)
	}
	defer writer.Close()

	if cfg.BatchSize != 100 {
		t.Errorf("BatchSize = %d, want 100", cfg.BatchSize)
	}
	if cfg.BatchTimeout != 100*time.Millisecond {
		t.Errorf("BatchTimeout = %v, want 100ms", cfg.BatchTimeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
}

func TestKafkaWriter_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *KafkaWriterConfig
		wantErr bool
	}{
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: true,
		},
		{
			name:    "empty brokers",
			cfg:     &KafkaWriterConfig{Topic: "test"},
			wantErr: true,
		},
		{
			name:    "empty topic",
			cfg:     &KafkaWriterConfig{Brokers: []string{"localhost:9092"}},
			wantErr: true,
		},
		{
			name: "unknown compression",
			cfg: &KafkaWriterConfig{
				Brokers:     []string{"localhost:9092"},
				Topic:       "test",
				Compression: "brotli",
			},
			wantErr: true,
		},
		{
			name: "valid config",
			cfg: &KafkaWriterConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "test",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer, err := NewKafkaWriter(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewKafkaWriter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if writer != nil {
				writer.Close()
			}
		})
	}
}

func TestKafkaWriter_Compression(t *testing.T) {
	for _, name := range []string{"", "none", "gzip", "snappy", "lz4", "zstd"} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultKafkaWriterConfig()
			cfg.Compression = name
			writer, err := NewKafkaWriter(&cfg)
			if err != nil {
				t.Fatalf("NewKafkaWriter() error = %v", err)
			}
			defer writer.Close()
		})
	}
}

func TestKafkaWriter_ClosedWriter(t *testing.T) {
	cfg := DefaultKafkaWriterConfig()
	writer, err := NewKafkaWriter(&cfg)
	if err != nil {
		t.Fatalf("NewKafkaWriter() error = %v", err)
	}
	writer.Close()

	err = writer.Write(context.Background(), []byte("test"))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Write() error = %v, want ErrClosed", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestFileWriter_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.json")
	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	ctx := context.Background()
	if err := w.Write(ctx, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write(ctx, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != `{"v":2}` {
		t.Errorf("content = %q, want second write only", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1 (no temp files left)", len(entries))
	}
}

func TestFileWriter_WriteBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "findings.jsonl")
	w, _ := NewFileWriter(path)

	err := w.WriteBatch(context.Background(), [][]byte{[]byte(`{"a":1}`), []byte("{\"b\":2}\n")})
	if err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "{\"a\":1}\n{\"b\":2}\n" {
		t.Errorf("content = %q", data)
	}
}

func TestFileWriter_Errors(t *testing.T) {
	if _, err := NewFileWriter(""); err == nil {
		t.Error("NewFileWriter() should reject empty path")
	}

	w, _ := NewFileWriter(filepath.Join(t.TempDir(), "r.json"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Write(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Write() error = %v, want context.Canceled", err)
	}

	w.Close()
	if err := w.Write(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() error = %v, want ErrClosed", err)
	}
}

func TestMultiWriter(t *testing.T) {
	var writes1, writes2 int

	mock1 := &mockWriter{
		writeFn: func(ctx context.Context, data []byte) error {
			writes1++
			return nil
		},
	}
	mock2 := &mockWriter{
		writeFn: func(ctx context.Context, data []byte) error {
			writes2++
			return errors.New("broker down")
		},
	}

	multi := NewMultiWriter(mock1, mock2)
	if multi.Len() != 2 {
		t.Errorf("Len() = %d, want 2", multi.Len())
	}

	err := multi.Write(context.Background(), []byte("test"))
	if err == nil {
		t.Fatal("Write() should report the failing writer")
	}
	if writes1 != 1 || writes2 != 1 {
		t.Errorf("writes1=%d, writes2=%d, want 1, 1", writes1, writes2)
	}

	if err := NewMultiWriter(mock1).WriteBatch(context.Background(), nil); err != nil {
		t.Errorf("WriteBatch() error = %v", err)
	}
	multi.Close()
}

type mockWriter struct {
	writeFn      func(ctx context.Context, data []byte) error
	writeBatchFn func(ctx context.Context, items [][]byte) error
}

func (m *mockWriter) Write(ctx context.Context, data []byte) error {
	if m.writeFn != nil {
		return m.writeFn(ctx, data)
	}
	return nil
}

func (m *mockWriter) WriteBatch(ctx context.Context, items [][]byte) error {
	if m.writeBatchFn != nil {
		return m.writeBatchFn(ctx, items)
	}
	return nil
}

func (m *mockWriter) Close() error {
	return nil
}
