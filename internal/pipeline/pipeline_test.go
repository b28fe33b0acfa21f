package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/houzhh15/EDR-POC/analyzer/internal/ingest"
	"github.com/houzhh15/EDR-POC/analyzer/internal/pipeline/writer"
	"github.com/houzhh15/EDR-POC/analyzer/internal/report"
	"github.com/houzhh15/EDR-POC/analyzer/internal/repository"
	"github.com/houzhh15/EDR-POC/analyzer/internal/rules"
	"github.com/houzhh15/EDR-POC/analyzer/pkg/database"
)

const testRules = `
rules:
  - id: office.spawn.powershell
    technique: T1059.001
    severity: 30
    evidence: Office application spawned PowerShell
    if:
      image_endswith: ["powershell.exe"]
      parent_image_endswith: ["winword.exe"]
  - id: cmd.encoded
    technique: T1027
    severity: 25
    if:
      cmd_contains: ["-enc"]
`

var testEvents = []string{
	`{"event_type":"proc_start","pid":10,"process_guid":"g1","image":"C:\\Windows\\System32\\cmd.exe","cmdline":"cmd /c dir","ts":"2024-01-01T00:00:00"}`,
	`{"event_type":"proc_start","pid":20,"ppid":10,"process_guid":"g2","image":"C:\\Users\\bob\\Downloads\\evil.exe","cmdline":"evil.exe -enc ` + strings.Repeat("A", 140) + `","ts":"2024-01-01T00:00:05"}`,
	`{"event_type":"net_connect","pid":20,"process_guid":"g2","dst_ip":"93.184.216.34","dst_port":443,"ts":"2024-01-01T00:00:06"}`,
	`{"event_type":"net_connect","pid":20,"dst_ip":"93.184.216.34","dst_port":443,"ts":"2024-01-01T00:00:07"}`,
	`{"event_type":"proc_start","pid":30,"process_guid":"w1","image":"C:\\Program Files\\Microsoft Office\\root\\Office16\\WINWORD.EXE","cmdline":"WINWORD.EXE /n invoice.docm","ts":"2024-01-01T00:01:00"}`,
	`{"event_type":"proc_start","pid":31,"ppid":30,"process_guid":"ps1","image":"C:\\Windows\\System32\\WindowsPowerShell\\v1.0\\powershell.exe","cmdline":"powershell -w hidden -nop","ts":"2024-01-01T00:01:05"}`,
	`{"event_type":"net_connect","pid":31,"process_guid":"ps1","dst_ip":"10.0.0.8","dst_port":445,"ts":"2024-01-01T00:01:06"}`,
	`{"event_type":"proc_start","pid":41,"ppid":999,"process_guid":"ps2","image":"C:\\Windows\\System32\\WindowsPowerShell\\v1.0\\powershell.exe","cmdline":"powershell -nop","ts":"2024-01-01T00:02:00"}`,
	`{"event_type":"proc_start","pid":`,
}

func setupStore(t *testing.T) *repository.Store {
	t.Helper()
	cfg := database.DefaultDBConfig()
	cfg.Path = database.MemoryPath

	db, err := database.Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db, zap.NewNop()) })

	require.NoError(t, repository.AutoMigrate(db))
	return repository.NewStore(db, zap.NewNop())
}

func testOptions(t *testing.T) Options {
	t.Helper()
	ruleSet, err := rules.Parse([]byte(testRules))
	require.NoError(t, err)
	return Options{
		Config: DefaultConfig(),
		Rules:  ruleSet,
		Report: report.DefaultOptions(),
	}
}

func TestPipeline_Run(t *testing.T) {
	store := setupStore(t)
	opts := testOptions(t)
	opts.Metrics = NewMetrics("test")

	out := filepath.Join(t.TempDir(), "report.json")
	fw, err := writer.NewFileWriter(out)
	require.NoError(t, err)
	opts.Output = fw

	p, err := NewPipeline(store, opts, nil)
	require.NoError(t, err)
	defer p.Close()

	summary, err := p.Run(context.Background(), ingest.NewSliceSource(testEvents...))
	require.NoError(t, err)
	assert.False(t, p.IsRunning())

	assert.Equal(t, 8, summary.Ingest.Events)
	assert.Equal(t, 1, summary.Ingest.Malformed)
	assert.Equal(t, 2, summary.Correlation.Resolved)
	assert.Equal(t, int64(1), summary.Unresolved)
	assert.Equal(t, 5, summary.Enriched)
	assert.Equal(t, 2, summary.Tagging.Tags)

	r := summary.Report
	var keys []string
	var scores []int64
	for _, e := range r.TopProcesses {
		keys = append(keys, e.ProcessKey)
		scores = append(scores, e.Score)
	}
	assert.Equal(t, []string{"g2", "ps1", "ps2", "w1", "g1"}, keys)
	assert.Equal(t, []int64{63, 46, 8, 0, 0}, scores)

	g2 := r.TopProcesses[0]
	assert.Equal(t, "g1", *g2.ParentKey)
	assert.Equal(t, 2, int(g2.Enrich.RiskPathTier))
	assert.Equal(t, "-enc", g2.Enrich.CmdFlags)
	assert.True(t, g2.Enrich.Base64Sus)
	require.Len(t, g2.Tags, 1)
	assert.Equal(t, "cmd.encoded", g2.Tags[0].RuleID)

	ps1 := r.TopProcesses[1]
	require.Len(t, ps1.Tags, 1)
	assert.Equal(t, "office.spawn.powershell", ps1.Tags[0].RuleID)
	assert.Equal(t, "hidden,nop", ps1.Enrich.CmdFlags)
	assert.Empty(t, r.TopProcesses[2].Tags)

	chainKeys := func(i int) []string {
		var out []string
		for _, n := range r.TopChains[i].Chain {
			out = append(out, n.ProcessKey)
		}
		return out
	}
	assert.Equal(t, []string{"g1", "g2"}, chainKeys(0))
	assert.Equal(t, []string{"w1", "ps1"}, chainKeys(1))
	assert.Equal(t, []string{"ps2"}, chainKeys(2))

	require.Len(t, r.TopConnections, 2)
	assert.Equal(t, "g2", *r.TopConnections[0].ProcessKey)
	assert.Equal(t, int64(2), r.TopConnections[0].Count)
	assert.Equal(t, int64(63), r.TopConnections[0].Score)
	assert.Equal(t, "ps1", *r.TopConnections[1].ProcessKey)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var written report.Report
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, r.GeneratedAt, written.GeneratedAt)
	assert.Len(t, written.TopProcesses, 5)

	m := opts.Metrics
	assert.Equal(t, float64(8), testutil.ToFloat64(m.eventsIngested.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.eventsIngested.WithLabelValues("malformed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.parentsResolved))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.unresolved))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.tagsEmitted))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.processes))
	assert.Equal(t, 6, testutil.CollectAndCount(m.stageDuration))
}

func TestPipeline_RerunAccumulatesScores(t *testing.T) {
	store := setupStore(t)
	p, err := NewPipeline(store, testOptions(t), nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), ingest.NewSliceSource(testEvents[:2]...))
	require.NoError(t, err)
	summary, err := p.Run(context.Background(), ingest.NewSliceSource())
	require.NoError(t, err)

	// 重复运行会再次累加富化与规则分数
	assert.Equal(t, "g2", summary.Report.TopProcesses[0].ProcessKey)
	assert.Equal(t, int64(126), summary.Report.TopProcesses[0].Score)
	assert.Len(t, summary.Report.TopProcesses[0].Tags, 2)
}

func TestPipeline_InvalidRulesFailBeforeIngest(t *testing.T) {
	store := setupStore(t)
	opts := testOptions(t)
	opts.Rules = append(opts.Rules, &rules.Rule{ID: "bad", Severity: -1})

	_, err := NewPipeline(store, opts, nil)
	require.Error(t, err)
	var specErr *rules.SpecError
	assert.ErrorAs(t, err, &specErr)

	n, err := store.Events.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipeline_MissingInput(t *testing.T) {
	store := setupStore(t)
	p, err := NewPipeline(store, testOptions(t), nil)
	require.NoError(t, err)

	src := ingest.NewFileSource(filepath.Join(t.TempDir(), "none.jsonl"))
	summary, err := p.Run(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, summary.Ingest.SourceMissing)
	assert.Empty(t, summary.Report.TopProcesses)
	assert.NotNil(t, summary.Report.TopConnections)
}

func TestPipeline_CanceledContext(t *testing.T) {
	store := setupStore(t)
	opts := testOptions(t)
	opts.Metrics = NewMetrics("")
	p, err := NewPipeline(store, opts, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx, ingest.NewSliceSource(testEvents...))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StageIngest, FailedStage(err))
	assert.Equal(t, float64(1), testutil.ToFloat64(opts.Metrics.errorsTotal.WithLabelValues(StageIngest)))
}

func TestPipeline_OutputFailure(t *testing.T) {
	store := setupStore(t)
	opts := testOptions(t)
	fw, err := writer.NewFileWriter(filepath.Join(t.TempDir(), "r.json"))
	require.NoError(t, err)
	fw.Close()
	opts.Output = fw

	p, err := NewPipeline(store, opts, nil)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), ingest.NewSliceSource(testEvents[0]))
	assert.ErrorIs(t, err, writer.ErrClosed)
	assert.Equal(t, StageWrite, FailedStage(err))
}

func TestNewPipeline_Validation(t *testing.T) {
	_, err := NewPipeline(nil, Options{Config: DefaultConfig(), Report: report.DefaultOptions()}, nil)
	assert.Error(t, err)

	store := setupStore(t)
	_, err = NewPipeline(store, Options{Config: Config{}, Report: report.DefaultOptions()}, nil)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = NewPipeline(store, Options{Config: DefaultConfig()}, nil)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "no workers", mutate: func(c *Config) { c.WorkerCount = 0 }, wantErr: "pipeline.worker_count"},
		{name: "no batch", mutate: func(c *Config) { c.BatchSize = -1 }, wantErr: "pipeline.batch_size"},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, wantErr: "pipeline.timeout"},
		{name: "no timeout", mutate: func(c *Config) { c.Timeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStageError(t *testing.T) {
	assert.Nil(t, NewStageError(StageTag, nil))

	base := errors.New("disk full")
	err := NewStageError(StageTag, base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "pipeline error at tag: disk full", err.Error())
	assert.Equal(t, StageTag, FailedStage(err))
	assert.Equal(t, "", FailedStage(base))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics("edr")
	m.RecordIngest(3, 1)
	m.RecordTags(2)

	path := filepath.Join(t.TempDir(), "analyzer.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `edr_lineage_events_ingested_total{status="ok"} 3`)
	assert.Contains(t, text, `edr_lineage_tags_emitted_total 2`)
}
