package repository

import (
	"context"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// TagRepository 规则命中标签仓储接口
type TagRepository interface {
	CreateBatch(ctx context.Context, tags []*models.Tag) error
	// RecordMatches 在同一事务中写入标签并累加进程分数，返回累加后的分数
	RecordMatches(ctx context.Context, processKey string, tags []*models.Tag, delta int64) (int64, error)
	// FindByProcess 查询进程的标签，按 severity 降序
	FindByProcess(ctx context.Context, processKey string) ([]*models.Tag, error)
	FindByProcesses(ctx context.Context, processKeys []string) (map[string][]*models.Tag, error)
	Count(ctx context.Context) (int64, error)
}
