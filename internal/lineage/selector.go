// Package lineage 实现父子进程关联与祖先链重建
package lineage

import (
	"time"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// HostCompatible 主机匹配，任一侧未记录主机时视为匹配
func HostCompatible(a, b string) bool {
	return a == "" || b == "" || a == b
}

// Eligible 判断 candidate 能否作为 child 的父进程
//
// 条件依次为：child 带有 ppid、candidate.pid == child.ppid、主机兼容、
// candidate 启动不晚于 child，且不是 child 本身。
func Eligible(child, candidate *models.Process) bool {
	if child == nil || candidate == nil || child.PPID == nil || candidate.PID == nil {
		return false
	}
	if candidate.ProcessKey == child.ProcessKey {
		return false
	}
	if *candidate.PID != *child.PPID {
		return false
	}
	if !HostCompatible(child.Host, candidate.Host) {
		return false
	}
	return !candidate.FirstSeen.After(child.FirstSeen)
}

// SelectParent 从候选集中选出 child 的父进程
//
// 在满足 Eligible 的候选中取 first_seen 最大者；first_seen 完全相同时取
// process_guid 最大者，保证结果与候选顺序无关。没有候选时返回 nil。
func SelectParent(child *models.Process, candidates []*models.Process) *models.Process {
	var best *models.Process
	for _, c := range candidates {
		if !Eligible(child, c) {
			continue
		}
		if best == nil || later(c, best) {
			best = c
		}
	}
	return best
}

// LatestStarted 返回 notAfter 之前最近启动的进程
func LatestStarted(candidates []*models.Process, notAfter time.Time) *models.Process {
	var best *models.Process
	for _, c := range candidates {
		if c == nil || c.FirstSeen.After(notAfter) {
			continue
		}
		if best == nil || later(c, best) {
			best = c
		}
	}
	return best
}

// later a 是否排在 b 之后（first_seen 优先，process_guid 次之）
func later(a, b *models.Process) bool {
	if !a.FirstSeen.Equal(b.FirstSeen) {
		return a.FirstSeen.After(b.FirstSeen)
	}
	return a.ProcessKey > b.ProcessKey
}
