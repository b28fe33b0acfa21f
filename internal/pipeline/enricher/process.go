package enricher

import (
	"context"

	"go.uber.org/zap"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// EnrichmentStore 富化结果的持久化接口
type EnrichmentStore interface {
	ApplyEnrichment(ctx context.Context, key string, e models.Enrichment, delta int64) (int64, error)
}

// ProcessEnricher 路径风险、命令行关键字与 base64 载荷评分
//
// 富化字段覆盖写入，分数按增量累加；同一进程重复执行会重复加分。
type ProcessEnricher struct {
	store  EnrichmentStore
	logger *zap.Logger
}

// NewProcessEnricher 创建进程富化器
func NewProcessEnricher(store EnrichmentStore, logger *zap.Logger) *ProcessEnricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessEnricher{
		store:  store,
		logger: logger.Named("process_enricher"),
	}
}

// Name 返回富化器名称
func (e *ProcessEnricher) Name() string { return "process" }

// Enabled 返回是否启用
func (e *ProcessEnricher) Enabled() bool { return true }

// Enrich 计算并写入富化结果，同步更新 p
func (e *ProcessEnricher) Enrich(ctx context.Context, p *models.Process) error {
	enrichment, delta := Compute(p.Image, p.CommandLine)

	score, err := e.store.ApplyEnrichment(ctx, p.ProcessKey, enrichment, delta)
	if err != nil {
		return err
	}

	p.RiskPathTier = enrichment.RiskPathTier
	p.CmdFlags = enrichment.CmdFlags
	p.Base64Sus = enrichment.Base64Sus
	p.Score = score

	if delta > 0 {
		e.logger.Debug("Process enriched",
			zap.String("process_guid", p.ProcessKey),
			zap.Int("risk_path_tier", int(enrichment.RiskPathTier)),
			zap.Strings("cmd_flags", enrichment.CmdFlags),
			zap.Bool("base64_sus", enrichment.Base64Sus),
			zap.Int64("delta", delta),
		)
	}
	return nil
}

// Close 关闭富化器
func (e *ProcessEnricher) Close() error { return nil }
