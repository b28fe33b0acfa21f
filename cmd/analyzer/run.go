package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/houzhh15/EDR-POC/analyzer/internal/config"
	"github.com/houzhh15/EDR-POC/analyzer/internal/ingest"
	"github.com/houzhh15/EDR-POC/analyzer/internal/log"
	"github.com/houzhh15/EDR-POC/analyzer/internal/pipeline"
	"github.com/houzhh15/EDR-POC/analyzer/internal/pipeline/enricher"
	"github.com/houzhh15/EDR-POC/analyzer/internal/pipeline/writer"
	"github.com/houzhh15/EDR-POC/analyzer/internal/repository"
	"github.com/houzhh15/EDR-POC/analyzer/internal/rules"
	"github.com/houzhh15/EDR-POC/analyzer/pkg/database"
)

// flagKeys 命令行参数与配置键的对应关系
var flagKeys = map[string]string{
	"input": "input.path",
	"db":    "database.path",
	"rules": "rules.path",
	"out":   "report.output_path",
}

func newRunCmd() *cobra.Command {
	var configPaths []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest events, correlate lineage, score and write the hunt report",
		Long: `Run the full analysis pipeline once.

Examples:
  # Analyze a JSONL export with the default rule set
  analyzer run --input events.jsonl --rules rules.yaml --out report.json

  # Use a config file, overriding the database location
  analyzer run --config analyzer.yaml --db /var/lib/edr/analysis.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			for flag, key := range flagKeys {
				if err := loader.Viper().BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}

			cfg, err := loader.Load(configPaths...)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runAnalysis(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVar(&configPaths, "config", nil, "Config file path(s), later files override earlier ones")
	cmd.Flags().String("input", "", "JSONL event file (overrides input.path)")
	cmd.Flags().String("db", "", "SQLite analysis database (overrides database.path)")
	cmd.Flags().String("rules", "", "Rule YAML file (overrides rules.path)")
	cmd.Flags().String("out", "", "Report output path (overrides report.output_path)")

	return cmd
}

// runAnalysis 按配置组装并执行一次分析
func runAnalysis(ctx context.Context, cfg *config.Config, out io.Writer) error {
	l, err := log.Init(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer l.Sync()
	logger := l.Zap()

	logger.Info("Analyzer starting",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
	)

	// 规则错误必须在写入分析库之前返回
	ruleList, err := rules.LoadFile(cfg.Rules.Path)
	if err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer database.CloseDB(db, logger)

	if err := repository.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate analysis schema: %w", err)
	}
	store := repository.NewStore(db, logger)

	geo := enricher.NewGeoIPResolver(&cfg.Report.GeoIP, logger)
	defer geo.Close()

	output, err := newOutput(cfg)
	if err != nil {
		return err
	}

	src, err := newSource(cfg, logger)
	if err != nil {
		output.Close()
		return err
	}
	defer src.Close()

	metrics := pipeline.NewMetrics(cfg.Metrics.Namespace)
	p, err := pipeline.NewPipeline(store, pipeline.Options{
		Config:  cfg.Pipeline,
		Rules:   ruleList,
		Report:  cfg.Report.Options(),
		Geo:     geo,
		Output:  output,
		Metrics: metrics,
	}, logger)
	if err != nil {
		output.Close()
		return err
	}
	defer p.Close()

	summary, err := p.Run(ctx, src)
	if err != nil {
		return err
	}

	if cfg.Metrics.TextfilePath != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			logger.Warn("Failed to export metrics", zap.String("path", cfg.Metrics.TextfilePath), zap.Error(err))
		}
	}

	fmt.Fprintf(out, "events=%d malformed=%d parents_resolved=%d tags=%d report=%s\n",
		summary.Ingest.Events,
		summary.Ingest.Malformed,
		summary.Correlation.Resolved,
		summary.Tagging.Tags,
		cfg.Report.OutputPath,
	)
	return nil
}

// newOutput 报告输出：文件必选，Kafka 可选
func newOutput(cfg *config.Config) (writer.Writer, error) {
	file, err := writer.NewFileWriter(cfg.Report.OutputPath)
	if err != nil {
		return nil, err
	}
	if !cfg.Report.Kafka.Enabled {
		return file, nil
	}

	kw, err := writer.NewKafkaWriter(&cfg.Report.Kafka)
	if err != nil {
		file.Close()
		return nil, err
	}
	return writer.NewMultiWriter(file, kw), nil
}

// newSource 按配置选择事件输入源
func newSource(cfg *config.Config, logger *zap.Logger) (ingest.Source, error) {
	if cfg.Input.Kafka.Enabled {
		return ingest.NewKafkaSource(cfg.Input.Kafka, logger)
	}
	return ingest.NewFileSource(cfg.Input.Path), nil
}
