package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// processRepositoryImpl ProcessRepository 实现
type processRepositoryImpl struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewProcessRepository 创建 ProcessRepository 实例
func NewProcessRepository(db *gorm.DB, logger *zap.Logger) ProcessRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &processRepositoryImpl{
		db:     db,
		logger: logger.Named("process_repository"),
	}
}

// Upsert 写入或合并进程记录
func (r *processRepositoryImpl) Upsert(ctx context.Context, p *models.Process) error {
	p.FirstSeen = p.FirstSeen.UTC()
	p.LastSeen = p.LastSeen.UTC()

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "process_guid"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"host":      gorm.Expr("COALESCE(NULLIF(processes.host, ''), excluded.host)"),
			"pid":       gorm.Expr("COALESCE(processes.pid, excluded.pid)"),
			"ppid":      gorm.Expr("COALESCE(processes.ppid, excluded.ppid)"),
			"image":     gorm.Expr("COALESCE(NULLIF(processes.image, ''), excluded.image)"),
			"cmdline":   gorm.Expr("COALESCE(NULLIF(processes.cmdline, ''), excluded.cmdline)"),
			"last_seen": gorm.Expr("excluded.last_seen"),
		}),
	}).Create(p)
	if result.Error != nil {
		r.logger.Error("Failed to upsert process",
			zap.String("process_guid", p.ProcessKey),
			zap.Error(result.Error),
		)
		return WrapError(result.Error, "upsert process")
	}
	return nil
}

// MarkEnded 标记进程结束
func (r *processRepositoryImpl) MarkEnded(ctx context.Context, key string, ts time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Process{}).
		Where("process_guid = ?", key).
		Updates(map[string]interface{}{
			"last_seen": ts.UTC(),
			"ended":     true,
		})
	if result.Error != nil {
		return false, WrapError(result.Error, "mark process ended")
	}
	return result.RowsAffected > 0, nil
}

// FindByKey 根据 process_guid 查询进程
func (r *processRepositoryImpl) FindByKey(ctx context.Context, key string) (*models.Process, error) {
	var p models.Process
	result := r.db.WithContext(ctx).First(&p, "process_guid = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil // 未找到返回 nil，不返回错误
		}
		return nil, fmt.Errorf("find process by key: %w", result.Error)
	}
	return &p, nil
}

// FindAll 查询全部进程
func (r *processRepositoryImpl) FindAll(ctx context.Context) ([]*models.Process, error) {
	var procs []*models.Process
	result := r.db.WithContext(ctx).Scopes(StableOrderScope()).Find(&procs)
	if result.Error != nil {
		return nil, fmt.Errorf("find processes: %w", result.Error)
	}
	return procs, nil
}

// FindUnresolved 查询待关联父进程的进程
func (r *processRepositoryImpl) FindUnresolved(ctx context.Context) ([]*models.Process, error) {
	var procs []*models.Process
	result := r.db.WithContext(ctx).
		Scopes(UnresolvedScope(), StableOrderScope()).
		Find(&procs)
	if result.Error != nil {
		return nil, fmt.Errorf("find unresolved processes: %w", result.Error)
	}
	return procs, nil
}

// FindParentCandidates 查询候选父进程
func (r *processRepositoryImpl) FindParentCandidates(ctx context.Context, pid int64, host string, notAfter time.Time) ([]*models.Process, error) {
	var procs []*models.Process
	result := r.db.WithContext(ctx).
		Where("pid = ?", pid).
		Scopes(HostScope(host), StartedNotAfterScope(notAfter)).
		Order("first_seen DESC").
		Order("process_guid DESC").
		Find(&procs)
	if result.Error != nil {
		return nil, fmt.Errorf("find parent candidates: %w", result.Error)
	}
	return procs, nil
}

// SetParent 写入已解析的父进程
func (r *processRepositoryImpl) SetParent(ctx context.Context, childKey, parentKey string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Process{}).
		Where("process_guid = ? AND parent_guid IS NULL", childKey).
		Update("parent_guid", parentKey)
	if result.Error != nil {
		return false, WrapError(result.Error, "set parent")
	}
	return result.RowsAffected > 0, nil
}

// ApplyEnrichment 在同一事务中写入富化字段并累加分数
func (r *processRepositoryImpl) ApplyEnrichment(ctx context.Context, key string, e models.Enrichment, delta int64) (int64, error) {
	if delta < 0 {
		return 0, ErrNegativeScoreDelta
	}

	var score int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Process{}).
			Where("process_guid = ?", key).
			Updates(map[string]interface{}{
				"risk_path_tier": e.RiskPathTier,
				"cmd_flags":      e.CmdFlags,
				"base64_sus":     e.Base64Sus,
			})
		if result.Error != nil {
			return WrapError(result.Error, "update enrichment")
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("update enrichment %s: %w", key, ErrNotFound)
		}

		var err error
		score, err = addScore(tx, key, delta)
		return err
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

// AddScore 原子累加分数
func (r *processRepositoryImpl) AddScore(ctx context.Context, key string, delta int64) (int64, error) {
	return addScore(r.db.WithContext(ctx), key, delta)
}

// Count 统计进程数量
func (r *processRepositoryImpl) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Process{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count processes: %w", err)
	}
	return n, nil
}

// CountUnresolved 统计未解析父进程的数量
func (r *processRepositoryImpl) CountUnresolved(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Process{}).
		Scopes(UnresolvedScope()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count unresolved processes: %w", err)
	}
	return n, nil
}

// addScore 以 UPDATE ... RETURNING 实现原子的 add-and-fetch
func addScore(db *gorm.DB, key string, delta int64) (int64, error) {
	if delta < 0 {
		return 0, ErrNegativeScoreDelta
	}

	var score int64
	result := db.Raw(
		"UPDATE processes SET score = score + ? WHERE process_guid = ? RETURNING score",
		delta, key,
	).Scan(&score)
	if result.Error != nil {
		return 0, WrapError(result.Error, "add score")
	}
	if result.RowsAffected == 0 {
		return 0, fmt.Errorf("add score %s: %w", key, ErrNotFound)
	}
	return score, nil
}
