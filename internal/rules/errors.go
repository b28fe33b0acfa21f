package rules

import "fmt"

// SpecError 规则文档结构错误，Path 指向出错位置（如 rules[2].if.cmd_contains）
type SpecError struct {
	Path    string
	Line    int
	Message string
}

// Error 实现 error 接口
func (e *SpecError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("rule spec error at %s (line %d): %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("rule spec error at %s: %s", e.Path, e.Message)
}

func specErrorf(path string, line int, format string, args ...interface{}) *SpecError {
	return &SpecError{Path: path, Line: line, Message: fmt.Sprintf(format, args...)}
}
