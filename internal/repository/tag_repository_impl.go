package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// tagRepositoryImpl TagRepository 实现
type tagRepositoryImpl struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTagRepository 创建 TagRepository 实例
func NewTagRepository(db *gorm.DB, logger *zap.Logger) TagRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &tagRepositoryImpl{
		db:     db,
		logger: logger.Named("tag_repository"),
	}
}

// CreateBatch 批量写入标签
func (r *tagRepositoryImpl) CreateBatch(ctx context.Context, tags []*models.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&tags).Error; err != nil {
		return WrapError(err, "create tags")
	}
	return nil
}

// RecordMatches 写入命中标签并累加分数
func (r *tagRepositoryImpl) RecordMatches(ctx context.Context, processKey string, tags []*models.Tag, delta int64) (int64, error) {
	if delta < 0 {
		return 0, ErrNegativeScoreDelta
	}

	var score int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(tags) > 0 {
			for _, t := range tags {
				t.ProcessKey = processKey
				t.Timestamp = t.Timestamp.UTC()
			}
			if err := tx.Create(&tags).Error; err != nil {
				return WrapError(err, "create tags")
			}
		}

		var err error
		score, err = addScore(tx, processKey, delta)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to record rule matches",
			zap.String("process_guid", processKey),
			zap.Int("tags", len(tags)),
			zap.Error(err),
		)
		return 0, err
	}
	return score, nil
}

// FindByProcess 查询进程的全部标签
func (r *tagRepositoryImpl) FindByProcess(ctx context.Context, processKey string) ([]*models.Tag, error) {
	var tags []*models.Tag
	result := r.db.WithContext(ctx).
		Where("process_guid = ?", processKey).
		Order("severity DESC").
		Order("id ASC").
		Find(&tags)
	if result.Error != nil {
		return nil, fmt.Errorf("find tags by process: %w", result.Error)
	}
	return tags, nil
}

// FindByProcesses 批量查询标签，按进程分组
func (r *tagRepositoryImpl) FindByProcesses(ctx context.Context, processKeys []string) (map[string][]*models.Tag, error) {
	out := make(map[string][]*models.Tag, len(processKeys))
	if len(processKeys) == 0 {
		return out, nil
	}

	var tags []*models.Tag
	result := r.db.WithContext(ctx).
		Where("process_guid IN ?", processKeys).
		Order("severity DESC").
		Order("id ASC").
		Find(&tags)
	if result.Error != nil {
		return nil, fmt.Errorf("find tags by processes: %w", result.Error)
	}
	for _, t := range tags {
		out[t.ProcessKey] = append(out[t.ProcessKey], t)
	}
	return out, nil
}

// Count 统计标签数量
func (r *tagRepositoryImpl) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Tag{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count tags: %w", err)
	}
	return n, nil
}
