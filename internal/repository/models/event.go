package models

import "time"

// EventType 遥测事件类型
type EventType string

const (
	EventTypeProcStart  EventType = "proc_start"
	EventTypeProcEnd    EventType = "proc_end"
	EventTypeNetConnect EventType = "net_connect"
)

// Event 原始事件记录，写入后不可变
type Event struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID      string    `gorm:"type:varchar(36);index" json:"run_id"`
	Timestamp  time.Time `gorm:"column:ts;index" json:"ts"`
	EventType  EventType `gorm:"type:varchar(32);not null;index" json:"event_type"`
	PID        *int64    `gorm:"column:pid" json:"pid"`
	PPID       *int64    `gorm:"column:ppid" json:"ppid"`
	ProcessKey *string   `gorm:"column:process_guid;type:varchar(128);index" json:"process_guid"`
	RawJSON    string    `gorm:"column:raw_json;type:text" json:"raw_json"`
}

// TableName 指定表名
func (Event) TableName() string {
	return "events"
}

// NetFlow 网络连接记录，只追加
type NetFlow struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp  time.Time `gorm:"column:ts" json:"ts"`
	ProcessKey *string   `gorm:"column:process_guid;type:varchar(128);index:idx_netflows_group,priority:1" json:"process_guid"`
	PID        *int64    `gorm:"column:pid" json:"pid"`
	SrcIP      string    `gorm:"type:varchar(64)" json:"src_ip"`
	SrcPort    *int      `json:"src_port"`
	DstIP      string    `gorm:"type:varchar(64);index:idx_netflows_group,priority:2" json:"dst_ip"`
	DstPort    *int      `gorm:"index:idx_netflows_group,priority:3" json:"dst_port"`
}

// TableName 指定表名
func (NetFlow) TableName() string {
	return "netflows"
}

// ConnectionGroup 按 (process_guid, dst_ip, dst_port) 聚合的连接计数
type ConnectionGroup struct {
	ProcessKey *string `gorm:"column:process_guid"`
	DstIP      string  `gorm:"column:dst_ip"`
	DstPort    *int    `gorm:"column:dst_port"`
	Count      int64   `gorm:"column:cnt"`
}
