package repository

import (
	"context"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// NetFlowRepository 网络连接仓储接口
type NetFlowRepository interface {
	CreateBatch(ctx context.Context, flows []*models.NetFlow) error
	// GroupByDestination 按 (process_guid, dst_ip, dst_port) 聚合计数
	GroupByDestination(ctx context.Context) ([]*models.ConnectionGroup, error)
	Count(ctx context.Context) (int64, error)
}

// EventRepository 原始事件仓储接口
type EventRepository interface {
	CreateBatch(ctx context.Context, events []*models.Event) error
	Count(ctx context.Context) (int64, error)
	CountByRun(ctx context.Context, runID string) (int64, error)
}
