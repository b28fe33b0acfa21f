package models

import "time"

// Tag 检测规则命中记录
//
// 每个 (进程, 命中规则) 一条，只追加，不去重。
type Tag struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp  time.Time `gorm:"column:ts" json:"ts"`
	ProcessKey string    `gorm:"column:process_guid;type:varchar(128);not null;index" json:"process_guid"`
	RuleID     string    `gorm:"type:text;not null;index" json:"rule_id"`
	Technique  string    `gorm:"type:text" json:"technique"`
	Severity   int64     `gorm:"not null;default:0" json:"severity"`
	Evidence   string    `gorm:"type:text" json:"evidence"`
}

// TableName 指定表名
func (Tag) TableName() string {
	return "tags"
}
