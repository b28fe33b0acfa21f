package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/houzhh15/EDR-POC/analyzer/internal/lineage"
	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// Options 报告参数
type Options struct {
	TopProcesses   int `yaml:"top_processes" mapstructure:"top_processes"`
	TopConnections int `yaml:"top_connections" mapstructure:"top_connections"`
	MaxChainDepth  int `yaml:"max_chain_depth" mapstructure:"max_chain_depth"`
}

// DefaultOptions 返回默认报告参数
func DefaultOptions() Options {
	return Options{
		TopProcesses:   20,
		TopConnections: 50,
		MaxChainDepth:  lineage.DefaultMaxDepth,
	}
}

// Validate 验证报告参数
func (o Options) Validate() error {
	if o.TopProcesses < 0 {
		return fmt.Errorf("top_processes must be non-negative, got %d", o.TopProcesses)
	}
	if o.TopConnections < 0 {
		return fmt.Errorf("top_connections must be non-negative, got %d", o.TopConnections)
	}
	if o.MaxChainDepth < 1 {
		return fmt.Errorf("max_chain_depth must be at least 1, got %d", o.MaxChainDepth)
	}
	return nil
}

// ProcessReader 读取全部进程
type ProcessReader interface {
	FindAll(ctx context.Context) ([]*models.Process, error)
}

// TagReader 批量读取标签，每个进程的标签按 severity 降序
type TagReader interface {
	FindByProcesses(ctx context.Context, processKeys []string) (map[string][]*models.Tag, error)
}

// FlowReader 读取连接聚合
type FlowReader interface {
	GroupByDestination(ctx context.Context) ([]*models.ConnectionGroup, error)
}

// Locator 目的地址地理位置查询，私有地址或未启用时返回 nil
type Locator interface {
	Locate(ip string) *models.GeoInfo
}

// Builder 报告生成器，只读访问分析库
type Builder struct {
	processes ProcessReader
	tags      TagReader
	flows     FlowReader
	geo       Locator
	opts      Options
	now       func() time.Time
	logger    *zap.Logger
}

// NewBuilder 创建报告生成器，geo 可为 nil
func NewBuilder(processes ProcessReader, tags TagReader, flows FlowReader, geo Locator, opts Options, logger *zap.Logger) (*Builder, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report options: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		processes: processes,
		tags:      tags,
		flows:     flows,
		geo:       geo,
		opts:      opts,
		now:       time.Now,
		logger:    logger.Named("report"),
	}, nil
}

// Build 生成报告
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	procs, err := b.processes.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load processes: %w", err)
	}

	top := rankProcesses(procs, b.opts.TopProcesses)
	keys := make([]string, 0, len(top))
	for _, p := range top {
		keys = append(keys, p.ProcessKey)
	}
	tags, err := b.tags.FindByProcesses(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}

	groups, err := b.flows.GroupByDestination(ctx)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}

	index := lineage.NewIndex(procs)
	report := &Report{
		GeneratedAt:    b.now().UTC().Format(GeneratedAtLayout),
		TopProcesses:   make([]ProcessEntry, 0, len(top)),
		TopChains:      make([]ChainEntry, 0, len(top)),
		TopConnections: b.connections(index, groups),
	}
	for _, p := range top {
		report.TopProcesses = append(report.TopProcesses, newProcessEntry(p, tags[p.ProcessKey]))

		chain := index.Chain(p.ProcessKey, b.opts.MaxChainDepth)
		entry := ChainEntry{
			LeafKey:   p.ProcessKey,
			LeafScore: p.Score,
			Chain:     make([]ChainNode, 0, len(chain)),
		}
		for _, node := range chain {
			entry.Chain = append(entry.Chain, newChainNode(node))
		}
		report.TopChains = append(report.TopChains, entry)
	}

	b.logger.Info("Report built",
		zap.Int("processes", len(procs)),
		zap.Int("top_processes", len(report.TopProcesses)),
		zap.Int("top_connections", len(report.TopConnections)),
	)
	return report, nil
}

// rankProcesses 按 score 降序、first_seen 降序排列并截取前 n 个
func rankProcesses(procs []*models.Process, n int) []*models.Process {
	ranked := make([]*models.Process, len(procs))
	copy(ranked, procs)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.FirstSeen.Equal(b.FirstSeen) {
			return a.FirstSeen.After(b.FirstSeen)
		}
		return a.ProcessKey < b.ProcessKey
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

type rankedGroup struct {
	group *models.ConnectionGroup
	owner *models.Process
}

// connections 按归属进程 score 降序、连接数降序排列，归属未知的排在最后
func (b *Builder) connections(index *lineage.Index, groups []*models.ConnectionGroup) []ConnectionEntry {
	ranked := make([]rankedGroup, 0, len(groups))
	for _, g := range groups {
		rg := rankedGroup{group: g}
		if g.ProcessKey != nil {
			if p, ok := index.Get(*g.ProcessKey); ok {
				rg.owner = p
			}
		}
		ranked = append(ranked, rg)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		x, y := ranked[i], ranked[j]
		if (x.owner == nil) != (y.owner == nil) {
			return x.owner != nil
		}
		if x.owner != nil && x.owner.Score != y.owner.Score {
			return x.owner.Score > y.owner.Score
		}
		if x.group.Count != y.group.Count {
			return x.group.Count > y.group.Count
		}
		if kx, ky := deref(x.group.ProcessKey), deref(y.group.ProcessKey); kx != ky {
			return kx < ky
		}
		if x.group.DstIP != y.group.DstIP {
			return x.group.DstIP < y.group.DstIP
		}
		return port(x.group.DstPort) < port(y.group.DstPort)
	})
	if len(ranked) > b.opts.TopConnections {
		ranked = ranked[:b.opts.TopConnections]
	}

	out := make([]ConnectionEntry, 0, len(ranked))
	for _, rg := range ranked {
		entry := ConnectionEntry{
			ProcessKey: rg.group.ProcessKey,
			DstIP:      rg.group.DstIP,
			DstPort:    rg.group.DstPort,
			Count:      rg.group.Count,
		}
		if rg.owner != nil {
			entry.Image = rg.owner.Image
			entry.Score = rg.owner.Score
		}
		if b.geo != nil && entry.DstIP != "" {
			entry.Geo = b.geo.Locate(entry.DstIP)
		}
		out = append(out, entry)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func port(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
