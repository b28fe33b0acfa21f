package repository

import (
	"time"

	"gorm.io/gorm"
)

// HostScope 主机过滤，host 为空时不过滤；未记录主机的进程视为可匹配
func HostScope(host string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if host == "" {
			return db
		}
		return db.Where("(host = ? OR host = '' OR host IS NULL)", host)
	}
}

// StartedNotAfterScope 启动时间上界过滤
func StartedNotAfterScope(t time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("first_seen <= ?", t.UTC())
	}
}

// UnresolvedScope 未解析父进程且带有 ppid 的进程
func UnresolvedScope() func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("parent_guid IS NULL AND ppid IS NOT NULL")
	}
}

// StableOrderScope 按启动时间、进程标识稳定排序
func StableOrderScope() func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order("first_seen ASC").Order("process_guid ASC")
	}
}
