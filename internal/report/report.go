// Package report 从分析库生成威胁狩猎报告
package report

import (
	"time"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// GeneratedAtLayout generated_at 字段格式
const GeneratedAtLayout = "2006-01-02 15:04:05"

// Report 分析报告
type Report struct {
	GeneratedAt    string            `json:"generated_at"`
	TopProcesses   []ProcessEntry    `json:"top_processes"`
	TopChains      []ChainEntry      `json:"top_chains"`
	TopConnections []ConnectionEntry `json:"top_connections"`
}

// ProcessEntry 高分进程
type ProcessEntry struct {
	ProcessKey string     `json:"process_guid"`
	Score      int64      `json:"score"`
	Image      string     `json:"image"`
	Cmdline    string     `json:"cmdline"`
	FirstSeen  time.Time  `json:"first_seen"`
	ParentKey  *string    `json:"parent_guid"`
	Enrich     EnrichInfo `json:"enrich"`
	Tags       []TagEntry `json:"tags"`
}

// EnrichInfo 富化字段，cmd_flags 以逗号拼接
type EnrichInfo struct {
	RiskPathTier models.RiskTier `json:"risk_path_tier"`
	CmdFlags     string          `json:"cmd_flags"`
	Base64Sus    bool            `json:"base64_sus"`
}

// TagEntry 规则命中
type TagEntry struct {
	RuleID    string `json:"rule_id"`
	Technique string `json:"technique"`
	Severity  int64  `json:"severity"`
	Evidence  string `json:"evidence"`
}

// ChainEntry 以高分进程为叶子的祖先链
type ChainEntry struct {
	LeafKey   string      `json:"leaf_guid"`
	LeafScore int64       `json:"leaf_score"`
	Chain     []ChainNode `json:"chain"`
}

// ChainNode 链上的一个进程，按根到叶排列
type ChainNode struct {
	ProcessKey string    `json:"process_guid"`
	Image      string    `json:"image"`
	Cmdline    string    `json:"cmdline"`
	Score      int64     `json:"score"`
	FirstSeen  time.Time `json:"first_seen"`
}

// ConnectionEntry 按 (进程, 目的地址, 目的端口) 聚合的连接
//
// 归属进程未知时 process_guid 为 null，image 为空，score 为 0。
type ConnectionEntry struct {
	ProcessKey *string         `json:"process_guid"`
	Image      string          `json:"image"`
	Score      int64           `json:"score"`
	DstIP      string          `json:"dst_ip"`
	DstPort    *int            `json:"dst_port"`
	Count      int64           `json:"cnt"`
	Geo        *models.GeoInfo `json:"geo,omitempty"`
}

func newProcessEntry(p *models.Process, tags []*models.Tag) ProcessEntry {
	entry := ProcessEntry{
		ProcessKey: p.ProcessKey,
		Score:      p.Score,
		Image:      p.Image,
		Cmdline:    p.CommandLine,
		FirstSeen:  p.FirstSeen.UTC(),
		ParentKey:  p.ParentKey,
		Enrich: EnrichInfo{
			RiskPathTier: p.RiskPathTier,
			CmdFlags:     p.CmdFlags.String(),
			Base64Sus:    p.Base64Sus,
		},
		Tags: make([]TagEntry, 0, len(tags)),
	}
	for _, t := range tags {
		entry.Tags = append(entry.Tags, TagEntry{
			RuleID:    t.RuleID,
			Technique: t.Technique,
			Severity:  t.Severity,
			Evidence:  t.Evidence,
		})
	}
	return entry
}

func newChainNode(p *models.Process) ChainNode {
	return ChainNode{
		ProcessKey: p.ProcessKey,
		Image:      p.Image,
		Cmdline:    p.CommandLine,
		Score:      p.Score,
		FirstSeen:  p.FirstSeen.UTC(),
	}
}
