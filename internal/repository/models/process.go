package models

import "time"

// RiskTier 可执行文件路径风险等级
type RiskTier int

const (
	RiskTierLow     RiskTier = 0 // 系统目录
	RiskTierUnknown RiskTier = 1 // 未知路径或空路径
	RiskTierHigh    RiskTier = 2 // 用户可写目录
)

// Process 进程模型
//
// 创建时字段（host/pid/ppid/image/cmdline/first_seen）以首次写入为准，
// last_seen/ended 以最后一次写入为准。parent_guid 由关联引擎写入，至多设置一次。
// score 只增不减，通过 ProcessRepository.AddScore 累加。
type Process struct {
	ProcessKey   string    `gorm:"column:process_guid;type:varchar(128);primaryKey" json:"process_guid"`
	Host         string    `gorm:"type:text;index:idx_processes_pid_host,priority:2" json:"host"`
	PID          *int64    `gorm:"column:pid;index:idx_processes_pid_host,priority:1" json:"pid"`
	PPID         *int64    `gorm:"column:ppid" json:"ppid"`
	Image        string    `gorm:"type:text" json:"image"`
	CommandLine  string    `gorm:"column:cmdline;type:text" json:"cmdline"`
	FirstSeen    time.Time `gorm:"not null;index" json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	Ended        bool      `gorm:"not null;default:false" json:"ended"`
	ParentKey    *string   `gorm:"column:parent_guid;type:varchar(128);index" json:"parent_guid"`
	RiskPathTier RiskTier  `gorm:"not null;default:0" json:"risk_path_tier"`
	CmdFlags     FlagList  `gorm:"column:cmd_flags;type:text" json:"cmd_flags"`
	Base64Sus    bool      `gorm:"column:base64_sus;not null;default:false" json:"base64_sus"`
	Score        int64     `gorm:"not null;default:0;index" json:"score"`
}

// TableName 指定表名
func (Process) TableName() string {
	return "processes"
}

// HasParent 是否已解析父进程
func (p *Process) HasParent() bool {
	return p.ParentKey != nil && *p.ParentKey != ""
}

// Enrichment 进程富化结果
type Enrichment struct {
	RiskPathTier RiskTier
	CmdFlags     FlagList
	Base64Sus    bool
}
