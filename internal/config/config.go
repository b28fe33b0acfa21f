// Package config 提供分析器的配置管理功能
package config

import (
	"errors"
	"fmt"

	"github.com/houzhh15/EDR-POC/analyzer/internal/ingest"
	"github.com/houzhh15/EDR-POC/analyzer/internal/log"
	"github.com/houzhh15/EDR-POC/analyzer/internal/pipeline"
	"github.com/houzhh15/EDR-POC/analyzer/internal/pipeline/enricher"
	"github.com/houzhh15/EDR-POC/analyzer/internal/pipeline/writer"
	"github.com/houzhh15/EDR-POC/analyzer/internal/report"
	"github.com/houzhh15/EDR-POC/analyzer/pkg/database"
)

// Config 定义分析器的完整配置结构
type Config struct {
	Input    InputConfig       `mapstructure:"input"`
	Database database.DBConfig `mapstructure:"database"`
	Rules    RulesConfig       `mapstructure:"rules"`
	Report   ReportConfig      `mapstructure:"report"`
	Pipeline pipeline.Config   `mapstructure:"pipeline"`
	Metrics  MetricsConfig     `mapstructure:"metrics"`
	Log      log.Config        `mapstructure:"log"`
}

// InputConfig 事件输入配置，启用 Kafka 时忽略 Path
type InputConfig struct {
	Path  string                   `mapstructure:"path"` // JSONL 事件文件
	Kafka ingest.KafkaSourceConfig `mapstructure:"kafka"`
}

// RulesConfig 检测规则配置
type RulesConfig struct {
	Path string `mapstructure:"path"` // 规则 YAML 文件
}

// ReportConfig 报告配置
type ReportConfig struct {
	OutputPath     string                   `mapstructure:"output_path"`
	TopProcesses   int                      `mapstructure:"top_processes"`
	TopConnections int                      `mapstructure:"top_connections"`
	MaxChainDepth  int                      `mapstructure:"max_chain_depth"`
	GeoIP          enricher.GeoIPConfig     `mapstructure:"geoip"`
	Kafka          writer.KafkaWriterConfig `mapstructure:"kafka"` // 报告同时发布到 Kafka
}

// Options 转换为报告参数
func (c ReportConfig) Options() report.Options {
	return report.Options{
		TopProcesses:   c.TopProcesses,
		TopConnections: c.TopConnections,
		MaxChainDepth:  c.MaxChainDepth,
	}
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Namespace    string `mapstructure:"namespace"`
	TextfilePath string `mapstructure:"textfile_path"` // 为空时不导出
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.Input.Kafka.Enabled {
		if err := c.Input.Kafka.Validate(); err != nil {
			return fmt.Errorf("input.kafka: %w", err)
		}
	} else if c.Input.Path == "" {
		return errors.New("input.path is required")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Rules.Path == "" {
		return errors.New("rules.path is required")
	}

	if c.Report.OutputPath == "" {
		return errors.New("report.output_path is required")
	}
	if err := c.Report.Options().Validate(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if c.Report.GeoIP.Enabled && c.Report.GeoIP.DatabasePath == "" {
		return errors.New("report.geoip.database_path is required when geoip is enabled")
	}
	if c.Report.Kafka.Enabled {
		if err := c.Report.Kafka.Validate(); err != nil {
			return fmt.Errorf("report.kafka: %w", err)
		}
	}

	if err := c.Pipeline.Validate(); err != nil {
		return err
	}

	if err := c.Log.Validate(); err != nil {
		return err
	}

	return nil
}

// Default 返回默认配置
func Default() *Config {
	reportOpts := report.DefaultOptions()
	return &Config{
		Input: InputConfig{
			Path:  "events.jsonl",
			Kafka: ingest.DefaultKafkaSourceConfig(),
		},
		Database: *database.DefaultDBConfig(),
		Rules: RulesConfig{
			Path: "rules.yaml",
		},
		Report: ReportConfig{
			OutputPath:     "report.json",
			TopProcesses:   reportOpts.TopProcesses,
			TopConnections: reportOpts.TopConnections,
			MaxChainDepth:  reportOpts.MaxChainDepth,
			GeoIP: enricher.GeoIPConfig{
				Enabled:      false,
				DatabasePath: "/data/GeoLite2-City.mmdb",
			},
			Kafka: writer.DefaultKafkaWriterConfig(),
		},
		Pipeline: pipeline.DefaultConfig(),
		Metrics: MetricsConfig{
			Namespace: "edr",
		},
		Log: log.DefaultConfig(),
	}
}
