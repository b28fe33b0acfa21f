package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound 输入源不存在
	ErrSourceNotFound = errors.New("input source not found")
	// ErrLineTooLong 单行超过长度上限
	ErrLineTooLong = errors.New("line exceeds maximum length")
)

// MalformedError 单行事件无法解析或校验失败，该行被跳过
type MalformedError struct {
	Line int
	Err  error
}

// Error 实现 error 接口
func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed event at line %d: %v", e.Line, e.Err)
}

// Unwrap 返回原始错误
func (e *MalformedError) Unwrap() error {
	return e.Err
}

// IsMalformed 检查是否为 MalformedError
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}
