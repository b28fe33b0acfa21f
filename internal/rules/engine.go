package rules

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/houzhh15/EDR-POC/analyzer/internal/lineage"
	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
	"github.com/houzhh15/EDR-POC/analyzer/pkg/workerpool"
)

// TagRecorder 命中记录的持久化接口，写入标签并原子累加分数
type TagRecorder interface {
	RecordMatches(ctx context.Context, processKey string, tags []*models.Tag, delta int64) (int64, error)
}

// ApplyResult 一次打标的统计
type ApplyResult struct {
	Evaluated int // 评估的进程数
	Matched   int // 至少命中一条规则的进程数
	Tags      int // 写入的标签数
}

// Engine 规则引擎
type Engine struct {
	rules    []*Rule
	recorder TagRecorder
	workers  int
	logger   *zap.Logger
}

// NewEngine 创建规则引擎，规则按传入顺序评估
func NewEngine(rules []*Rule, recorder TagRecorder, workers int, logger *zap.Logger) (*Engine, error) {
	if err := Validate(rules); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		rules:    rules,
		recorder: recorder,
		workers:  workers,
		logger:   logger.Named("rule_engine"),
	}, nil
}

// Rules 返回规则列表
func (e *Engine) Rules() []*Rule {
	return e.rules
}

// Evaluate 返回命中进程的规则，保持规则顺序
func (e *Engine) Evaluate(p, parent *models.Process) []*Rule {
	var matched []*Rule
	for _, r := range e.rules {
		if r.Matches(p, parent) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Apply 对全部进程评估规则，写入标签并累加分数
//
// 父进程查询使用本次运行构建一次的只读索引。进程之间并行，
// 同一进程的规则按顺序评估，标签顺序与规则顺序一致。
func (e *Engine) Apply(ctx context.Context, procs []*models.Process) (*ApplyResult, error) {
	index := lineage.NewIndex(procs)

	var matched, tagCount atomic.Int64
	err := workerpool.Run(ctx, e.workers, procs, func(ctx context.Context, p *models.Process) error {
		hits := e.Evaluate(p, index.Parent(p))
		if len(hits) == 0 {
			return nil
		}

		tags := make([]*models.Tag, 0, len(hits))
		var delta int64
		for _, r := range hits {
			tags = append(tags, r.Tag(p))
			delta += r.Severity
		}

		if _, err := e.recorder.RecordMatches(ctx, p.ProcessKey, tags, delta); err != nil {
			return fmt.Errorf("record matches for %s: %w", p.ProcessKey, err)
		}
		matched.Add(1)
		tagCount.Add(int64(len(tags)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{
		Evaluated: len(procs),
		Matched:   int(matched.Load()),
		Tags:      int(tagCount.Load()),
	}
	e.logger.Info("Rule tagging completed",
		zap.Int("rules", len(e.rules)),
		zap.Int("processes", result.Evaluated),
		zap.Int("matched", result.Matched),
		zap.Int("tags", result.Tags),
	)
	return result, nil
}
