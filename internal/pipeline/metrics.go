package pipeline

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 管线指标，使用独立的 Registry 以便导出为 textfile
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested  *prometheus.CounterVec
	processes       prometheus.Gauge
	parentsResolved prometheus.Counter
	unresolved      prometheus.Gauge
	processesScored prometheus.Counter
	tagsEmitted     prometheus.Counter
	stageDuration   *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
	lastRun         prometheus.Gauge
}

// NewMetrics 创建并注册管线指标
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "edr"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lineage",
				Name:      "events_ingested_total",
				Help:      "Total input lines by outcome",
			},
			[]string{"status"},
		),
		processes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lineage",
			Name:      "processes",
			Help:      "Processes in the analysis store",
		}),
		parentsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lineage",
			Name:      "parents_resolved_total",
			Help:      "Parent links written by correlation",
		}),
		unresolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lineage",
			Name:      "processes_unresolved",
			Help:      "Processes with a ppid but no resolved parent",
		}),
		processesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lineage",
			Name:      "processes_enriched_total",
			Help:      "Processes enriched and scored",
		}),
		tagsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lineage",
			Name:      "tags_emitted_total",
			Help:      "Rule tags written",
		}),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lineage",
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage",
				Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 30, 120},
			},
			[]string{"stage"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lineage",
				Name:      "errors_total",
				Help:      "Pipeline failures by stage",
			},
			[]string{"stage"},
		),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lineage",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run",
		}),
	}

	m.registry.MustRegister(
		m.eventsIngested,
		m.processes,
		m.parentsResolved,
		m.unresolved,
		m.processesScored,
		m.tagsEmitted,
		m.stageDuration,
		m.errorsTotal,
		m.lastRun,
	)
	return m
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordIngest 记录导入结果
func (m *Metrics) RecordIngest(ok, malformed int) {
	m.eventsIngested.WithLabelValues("ok").Add(float64(ok))
	m.eventsIngested.WithLabelValues("malformed").Add(float64(malformed))
}

// RecordCorrelation 记录关联结果
func (m *Metrics) RecordCorrelation(resolved int, unresolved int64) {
	m.parentsResolved.Add(float64(resolved))
	m.unresolved.Set(float64(unresolved))
}

// RecordEnriched 记录富化进程数
func (m *Metrics) RecordEnriched(n int) {
	m.processesScored.Add(float64(n))
}

// RecordTags 记录写入的标签数
func (m *Metrics) RecordTags(n int) {
	m.tagsEmitted.Add(float64(n))
}

// SetProcesses 设置进程总数
func (m *Metrics) SetProcesses(n int) {
	m.processes.Set(float64(n))
}

// RecordStageDuration 记录阶段耗时
func (m *Metrics) RecordStageDuration(stage string, seconds float64) {
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordError 记录阶段失败
func (m *Metrics) RecordError(stage string) {
	m.errorsTotal.WithLabelValues(stage).Inc()
}

// MarkCompleted 记录运行完成时间
func (m *Metrics) MarkCompleted(unixSeconds float64) {
	m.lastRun.Set(unixSeconds)
}

// WriteTextfile 以 Prometheus 文本格式写出全部指标，供 node_exporter textfile collector 读取
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
