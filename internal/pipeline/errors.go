package pipeline

import (
	"errors"
	"fmt"
)

// 管线阶段
const (
	StageIngest    = "ingest"
	StageCorrelate = "correlate"
	StageEnrich    = "enrich"
	StageTag       = "tag"
	StageReport    = "report"
	StageWrite     = "write"
)

// ErrPipelineRunning 管线已在运行
var ErrPipelineRunning = errors.New("pipeline is already running")

// StageError 管线阶段错误
type StageError struct {
	Stage string
	Err   error
}

// Error 实现 error 接口
func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline error at %s: %v", e.Stage, e.Err)
}

// Unwrap 返回原始错误
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError 创建阶段错误，err 为 nil 时返回 nil
func NewStageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// FailedStage 返回出错的阶段，不是 StageError 时返回空串
func FailedStage(err error) string {
	var sErr *StageError
	if errors.As(err, &sErr) {
		return sErr.Stage
	}
	return ""
}
