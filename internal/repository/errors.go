package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// 预定义错误
var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicate          = errors.New("duplicate entry")
	ErrNegativeScoreDelta = errors.New("score delta must not be negative")
)

// IsDuplicateError 检查是否为唯一约束冲突
func IsDuplicateError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// WrapError 包装数据库错误
func WrapError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", operation, ErrNotFound)
	}
	if IsDuplicateError(err) {
		return fmt.Errorf("%s: %w", operation, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
