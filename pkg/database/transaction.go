package database

import (
	"context"

	"gorm.io/gorm"
)

// TxFunc 事务函数类型
type TxFunc func(tx *gorm.DB) error

// WithTransactionCtx 带上下文的事务执行
//
// ctx 已取消时不开启事务；fn 返回 error 或 panic 时回滚，否则提交。
// 分析库以批次为单位写入，一个批次对应一次调用。
func WithTransactionCtx(ctx context.Context, db *gorm.DB, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.WithContext(ctx).Transaction(fn)
}
