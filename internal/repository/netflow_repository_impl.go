package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// netFlowRepositoryImpl NetFlowRepository 实现
type netFlowRepositoryImpl struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewNetFlowRepository 创建 NetFlowRepository 实例
func NewNetFlowRepository(db *gorm.DB, logger *zap.Logger) NetFlowRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &netFlowRepositoryImpl{
		db:     db,
		logger: logger.Named("netflow_repository"),
	}
}

// CreateBatch 批量写入网络连接
func (r *netFlowRepositoryImpl) CreateBatch(ctx context.Context, flows []*models.NetFlow) error {
	if len(flows) == 0 {
		return nil
	}
	for _, f := range flows {
		f.Timestamp = f.Timestamp.UTC()
	}
	if err := r.db.WithContext(ctx).Create(&flows).Error; err != nil {
		return WrapError(err, "create netflows")
	}
	return nil
}

// GroupByDestination 聚合连接
func (r *netFlowRepositoryImpl) GroupByDestination(ctx context.Context) ([]*models.ConnectionGroup, error) {
	var groups []*models.ConnectionGroup
	result := r.db.WithContext(ctx).
		Model(&models.NetFlow{}).
		Select("process_guid, dst_ip, dst_port, COUNT(*) AS cnt").
		Group("process_guid, dst_ip, dst_port").
		Scan(&groups)
	if result.Error != nil {
		return nil, fmt.Errorf("group netflows: %w", result.Error)
	}
	return groups, nil
}

// Count 统计连接数量
func (r *netFlowRepositoryImpl) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.NetFlow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count netflows: %w", err)
	}
	return n, nil
}

// eventRepositoryImpl EventRepository 实现
type eventRepositoryImpl struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewEventRepository 创建 EventRepository 实例
func NewEventRepository(db *gorm.DB, logger *zap.Logger) EventRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &eventRepositoryImpl{
		db:     db,
		logger: logger.Named("event_repository"),
	}
}

// CreateBatch 批量写入原始事件
func (r *eventRepositoryImpl) CreateBatch(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		e.Timestamp = e.Timestamp.UTC()
	}
	if err := r.db.WithContext(ctx).Create(&events).Error; err != nil {
		return WrapError(err, "create events")
	}
	return nil
}

func (r *eventRepositoryImpl) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Event{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (r *eventRepositoryImpl) CountByRun(ctx context.Context, runID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Event{}).Where("run_id = ?", runID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count events by run: %w", err)
	}
	return n, nil
}
