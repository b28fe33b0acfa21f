package repository

import (
	"context"
	"time"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// ProcessRepository 进程仓储接口
type ProcessRepository interface {
	// Upsert 按 process_guid 写入进程：创建时字段首次写入为准，last_seen 以最后写入为准
	Upsert(ctx context.Context, p *models.Process) error
	// MarkEnded 标记进程结束，进程不存在时返回 false
	MarkEnded(ctx context.Context, key string, ts time.Time) (bool, error)
	FindByKey(ctx context.Context, key string) (*models.Process, error)
	FindAll(ctx context.Context) ([]*models.Process, error)
	FindUnresolved(ctx context.Context) ([]*models.Process, error)
	// FindParentCandidates 查询 pid 相同、主机兼容且启动时间不晚于 notAfter 的进程
	FindParentCandidates(ctx context.Context, pid int64, host string, notAfter time.Time) ([]*models.Process, error)
	// SetParent 仅在 parent_guid 为空时写入，返回是否写入
	SetParent(ctx context.Context, childKey, parentKey string) (bool, error)
	// ApplyEnrichment 覆盖富化字段并累加分数，返回累加后的分数
	ApplyEnrichment(ctx context.Context, key string, e models.Enrichment, delta int64) (int64, error)
	// AddScore 原子累加分数，返回累加后的分数
	AddScore(ctx context.Context, key string, delta int64) (int64, error)
	Count(ctx context.Context) (int64, error)
	CountUnresolved(ctx context.Context) (int64, error)
}
