package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileWriter 文件输出，每次写入整体替换目标文件
type FileWriter struct {
	path   string
	mu     sync.Mutex
	closed bool
}

// NewFileWriter 创建文件写入器
func NewFileWriter(path string) (*FileWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("output path is empty")
	}
	return &FileWriter{path: path}, nil
}

// Path 返回目标路径
func (w *FileWriter) Path() string {
	return w.path
}

// Write 写入文件，先写临时文件再重命名
func (w *FileWriter) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("file %s: %w", w.path, ErrClosed)
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("rename to %s: %w", w.path, err)
	}
	return nil
}

// WriteBatch 以 JSON Lines 形式写入
func (w *FileWriter) WriteBatch(ctx context.Context, items [][]byte) error {
	var buf bytes.Buffer
	for _, item := range items {
		buf.Write(bytes.TrimRight(item, "\n"))
		buf.WriteByte('\n')
	}
	return w.Write(ctx, buf.Bytes())
}

// Close 关闭写入器
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}
