package lineage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
	"github.com/houzhh15/EDR-POC/analyzer/pkg/workerpool"
)

// ProcessStore 关联引擎依赖的进程存储
type ProcessStore interface {
	FindUnresolved(ctx context.Context) ([]*models.Process, error)
	FindParentCandidates(ctx context.Context, pid int64, host string, notAfter time.Time) ([]*models.Process, error)
	SetParent(ctx context.Context, childKey, parentKey string) (bool, error)
}

// CorrelationResult 一次关联的统计
type CorrelationResult struct {
	Pending    int // 待关联进程数
	Resolved   int // 本次写入父进程的数量
	Unresolved int // 无候选父进程的数量
}

// Correlator 父子进程关联引擎
type Correlator struct {
	store   ProcessStore
	workers int
	logger  *zap.Logger
}

// NewCorrelator 创建关联引擎
func NewCorrelator(store ProcessStore, workers int, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Correlator{
		store:   store,
		workers: workers,
		logger:  logger.Named("correlator"),
	}
}

// Correlate 为所有未解析父进程的进程查找并写入父进程
//
// 候选集只取决于 pid/host/first_seen，不受其他进程的 parent_guid 影响，
// 因此单次遍历即达到不动点。已解析的进程不会被重写。
func (c *Correlator) Correlate(ctx context.Context) (*CorrelationResult, error) {
	pending, err := c.store.FindUnresolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("load unresolved processes: %w", err)
	}

	var resolved, unresolved atomic.Int64
	err = workerpool.Run(ctx, c.workers, pending, func(ctx context.Context, child *models.Process) error {
		ok, err := c.ResolveOne(ctx, child)
		if err != nil {
			return err
		}
		if ok {
			resolved.Add(1)
		} else {
			unresolved.Add(1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &CorrelationResult{
		Pending:    len(pending),
		Resolved:   int(resolved.Load()),
		Unresolved: int(unresolved.Load()),
	}
	c.logger.Info("Correlation completed",
		zap.Int("pending", result.Pending),
		zap.Int("resolved", result.Resolved),
		zap.Int("unresolved", result.Unresolved),
	)
	return result, nil
}

// ResolveOne 为单个进程解析父进程，返回是否写入
func (c *Correlator) ResolveOne(ctx context.Context, child *models.Process) (bool, error) {
	if child.HasParent() || child.PPID == nil {
		return false, nil
	}

	candidates, err := c.store.FindParentCandidates(ctx, *child.PPID, child.Host, child.FirstSeen)
	if err != nil {
		return false, fmt.Errorf("find parent candidates for %s: %w", child.ProcessKey, err)
	}

	parent := SelectParent(child, candidates)
	if parent == nil {
		c.logger.Debug("No parent candidate",
			zap.String("process_guid", child.ProcessKey),
			zap.Int64("ppid", *child.PPID),
		)
		return false, nil
	}

	ok, err := c.store.SetParent(ctx, child.ProcessKey, parent.ProcessKey)
	if err != nil {
		return false, fmt.Errorf("set parent for %s: %w", child.ProcessKey, err)
	}
	if ok {
		child.ParentKey = &parent.ProcessKey
	}
	return ok, nil
}
