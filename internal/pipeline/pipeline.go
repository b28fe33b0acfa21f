package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/houzhh15/EDR-POC/analyzer/internal/ingest"
	"github.com/houzhh15/EDR-POC/analyzer/internal/lineage"
	"github.com/houzhh15/EDR-POC/analyzer/internal/pipeline/enricher"
	"github.com/houzhh15/EDR-POC/analyzer/internal/pipeline/writer"
	"github.com/houzhh15/EDR-POC/analyzer/internal/report"
	"github.com/houzhh15/EDR-POC/analyzer/internal/repository"
	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
	"github.com/houzhh15/EDR-POC/analyzer/internal/rules"
	"github.com/houzhh15/EDR-POC/analyzer/pkg/workerpool"
)

// Options 管线组件参数
type Options struct {
	Config  Config
	Rules   []*rules.Rule
	Report  report.Options
	Geo     report.Locator // 可为 nil
	Output  writer.Writer  // 可为 nil，此时只生成报告不输出
	Metrics *Metrics       // 可为 nil
}

// Summary 一次运行的结果
type Summary struct {
	Ingest      *ingest.Result
	Correlation *lineage.CorrelationResult
	Unresolved  int64
	Enriched    int
	Tagging     *rules.ApplyResult
	Report      *report.Report
	Duration    time.Duration
}

// Pipeline 分析管线
//
// 各阶段依次执行，前一阶段对全部数据完成后才进入下一阶段。
type Pipeline struct {
	config     Config
	store      *repository.Store
	ingestor   *ingest.Ingestor
	correlator *lineage.Correlator
	enrichers  *enricher.EnricherChain
	engine     *rules.Engine
	builder    *report.Builder
	output     writer.Writer
	metrics    *Metrics
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewPipeline 创建分析管线
//
// 规则在此处校验，规则错误会在任何写入发生前返回。
func NewPipeline(store *repository.Store, opts Options, logger *zap.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("pipeline store is nil")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	workers := opts.Config.WorkerCount
	engine, err := rules.NewEngine(opts.Rules, store.Tags, workers, logger)
	if err != nil {
		return nil, err
	}
	builder, err := report.NewBuilder(store.Processes, store.Tags, store.NetFlows, opts.Geo, opts.Report, logger)
	if err != nil {
		return nil, err
	}

	enrichers := enricher.NewEnricherChain(enricher.NewProcessEnricher(store.Processes, logger))
	logger.Named("pipeline").Debug("Pipeline configured",
		zap.Int("workers", workers),
		zap.Int("rules", len(opts.Rules)),
		zap.Strings("enrichers", enrichers.Names()),
		zap.Bool("output", opts.Output != nil),
	)

	return &Pipeline{
		config:     opts.Config,
		store:      store,
		ingestor:   ingest.NewIngestor(store, opts.Config.BatchSize, logger),
		correlator: lineage.NewCorrelator(store.Processes, workers, logger),
		enrichers:  enrichers,
		engine:     engine,
		builder:    builder,
		output:     opts.Output,
		metrics:    opts.Metrics,
		logger:     logger.Named("pipeline"),
	}, nil
}

// Run 对输入源执行完整分析：导入、关联、富化、打标、生成报告
func (p *Pipeline) Run(ctx context.Context, src ingest.Source) (*Summary, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, ErrPipelineRunning
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	summary := &Summary{}

	err := p.stage(StageIngest, func() error {
		res, err := p.ingestor.Ingest(ctx, src)
		if err != nil {
			return err
		}
		summary.Ingest = res
		if p.metrics != nil {
			p.metrics.RecordIngest(res.Events, res.Malformed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(StageCorrelate, func() error {
		res, err := p.correlator.Correlate(ctx)
		if err != nil {
			return err
		}
		summary.Correlation = res
		if summary.Unresolved, err = p.store.Processes.CountUnresolved(ctx); err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.RecordCorrelation(res.Resolved, summary.Unresolved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var procs []*models.Process
	err = p.stage(StageEnrich, func() error {
		var err error
		if procs, err = p.store.Processes.FindAll(ctx); err != nil {
			return err
		}
		if err := workerpool.Run(ctx, p.config.WorkerCount, procs, p.enrichers.Enrich); err != nil {
			return err
		}
		summary.Enriched = len(procs)
		if p.metrics != nil {
			p.metrics.RecordEnriched(len(procs))
			p.metrics.SetProcesses(len(procs))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(StageTag, func() error {
		res, err := p.engine.Apply(ctx, procs)
		if err != nil {
			return err
		}
		summary.Tagging = res
		if p.metrics != nil {
			p.metrics.RecordTags(res.Tags)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(StageReport, func() error {
		r, err := p.builder.Build(ctx)
		if err != nil {
			return err
		}
		summary.Report = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.output != nil {
		err = p.stage(StageWrite, func() error {
			data, err := report.Marshal(summary.Report)
			if err != nil {
				return err
			}
			return p.output.Write(ctx, data)
		})
		if err != nil {
			return nil, err
		}
	}

	summary.Duration = time.Since(start)
	if p.metrics != nil {
		p.metrics.MarkCompleted(float64(time.Now().Unix()))
	}
	p.logger.Info("Pipeline completed",
		zap.String("run_id", summary.Ingest.RunID),
		zap.Int("events", summary.Ingest.Events),
		zap.Int("malformed", summary.Ingest.Malformed),
		zap.Int("parents_resolved", summary.Correlation.Resolved),
		zap.Int64("unresolved", summary.Unresolved),
		zap.Int("enriched", summary.Enriched),
		zap.Int("tags", summary.Tagging.Tags),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// stage 执行一个阶段并记录耗时，错误包装为 StageError
func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	if p.metrics != nil {
		p.metrics.RecordStageDuration(name, elapsed.Seconds())
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordError(name)
		}
		p.logger.Error("Pipeline stage failed",
			zap.String("stage", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return NewStageError(name, err)
	}

	p.logger.Debug("Pipeline stage completed",
		zap.String("stage", name),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

// IsRunning 返回管线是否正在运行
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Rules 返回已加载的规则
func (p *Pipeline) Rules() []*rules.Rule {
	return p.engine.Rules()
}

// Close 关闭富化器与输出
func (p *Pipeline) Close() error {
	if err := p.enrichers.Close(); err != nil {
		return fmt.Errorf("close enrichers: %w", err)
	}
	if p.output != nil {
		if err := p.output.Close(); err != nil {
			return fmt.Errorf("close output: %w", err)
		}
	}
	return nil
}
