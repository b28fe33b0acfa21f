package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
	"github.com/houzhh15/EDR-POC/analyzer/pkg/database"
)

// Store 聚合分析库的全部仓储
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	Processes ProcessRepository
	Events    EventRepository
	NetFlows  NetFlowRepository
	Tags      TagRepository
}

// NewStore 基于同一个 gorm.DB 创建全部仓储
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:        db,
		logger:    logger,
		Processes: NewProcessRepository(db, logger),
		Events:    NewEventRepository(db, logger),
		NetFlows:  NewNetFlowRepository(db, logger),
		Tags:      NewTagRepository(db, logger),
	}
}

// DB 返回底层连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction 在事务中执行 fn，fn 收到绑定到事务的 Store
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return database.WithTransactionCtx(ctx, s.db, func(tx *gorm.DB) error {
		return fn(NewStore(tx, s.logger))
	})
}

// Models 返回需要迁移的全部模型
func Models() []interface{} {
	return []interface{}{
		&models.Event{},
		&models.Process{},
		&models.NetFlow{},
		&models.Tag{},
	}
}

// AutoMigrate 创建或升级表结构，已存在的表保持不变
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
