package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/houzhh15/EDR-POC/analyzer/internal/lineage"
	"github.com/houzhh15/EDR-POC/analyzer/internal/repository"
	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// DefaultBatchSize 默认每批写入的事件数
const DefaultBatchSize = 500

// Result 一次导入的统计
type Result struct {
	RunID         string
	Source        string
	SourceMissing bool
	Events        int // 成功写入的事件数
	Malformed     int // 跳过的行数
	ProcStarts    int
	ProcEnds      int
	NetConnects   int
	OrphanEnds    int // 找不到对应进程的 proc_end
	Duration      time.Duration
}

// Ingestor 事件导入器
type Ingestor struct {
	store     *repository.Store
	batchSize int
	logger    *zap.Logger
}

// NewIngestor 创建事件导入器
func NewIngestor(store *repository.Store, batchSize int, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Ingestor{
		store:     store,
		batchSize: batchSize,
		logger:    logger.Named("ingestor"),
	}
}

// Ingest 读取输入源并写入分析库
//
// 无法解析的行被跳过并计数；输入源不存在时记录警告并返回空结果。
// 每个批次在一个事务中写入，存储错误直接返回。
func (i *Ingestor) Ingest(ctx context.Context, src Source) (*Result, error) {
	start := time.Now()
	result := &Result{RunID: uuid.NewString(), Source: src.Name()}
	collector := NewBatchCollector(i.batchSize)

	for {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrSourceNotFound) {
			i.logger.Warn("Input source not found, skipping ingest",
				zap.String("source", src.Name()),
				zap.Error(err),
			)
			result.SourceMissing = true
			result.Duration = time.Since(start)
			return result, nil
		}
		if IsMalformed(err) {
			result.Malformed++
			i.logger.Warn("Skipping unreadable event", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src.Name(), err)
		}

		evt, err := ParseLine(rec.Line, rec.Data)
		if err != nil {
			result.Malformed++
			i.logger.Warn("Skipping malformed event", zap.Int("line", rec.Line), zap.Error(err))
			continue
		}

		if batch := collector.Add(evt); batch != nil {
			if err := i.writeBatch(ctx, result, batch); err != nil {
				return nil, err
			}
		}
	}

	if batch := collector.Flush(); batch != nil {
		if err := i.writeBatch(ctx, result, batch); err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	i.logger.Info("Ingest completed",
		zap.String("run_id", result.RunID),
		zap.String("source", result.Source),
		zap.Int("events", result.Events),
		zap.Int("malformed", result.Malformed),
		zap.Int("proc_start", result.ProcStarts),
		zap.Int("proc_end", result.ProcEnds),
		zap.Int("net_connect", result.NetConnects),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// writeBatch 在一个事务中写入一个批次
func (i *Ingestor) writeBatch(ctx context.Context, result *Result, batch *Batch) error {
	var starts, ends, connects, orphans int

	err := i.store.Transaction(ctx, func(tx *repository.Store) error {
		starts, ends, connects, orphans = 0, 0, 0, 0

		records := make([]*models.Event, 0, len(batch.Events))
		for _, evt := range batch.Events {
			records = append(records, evt.record(result.RunID))
		}
		if err := tx.Events.CreateBatch(ctx, records); err != nil {
			return err
		}

		flows := make([]*models.NetFlow, 0)
		for _, evt := range batch.Events {
			switch evt.Type {
			case models.EventTypeProcStart:
				if err := tx.Processes.Upsert(ctx, evt.process()); err != nil {
					return err
				}
				starts++
			case models.EventTypeProcEnd:
				ends++
				if evt.ProcessKey == "" {
					orphans++
					continue
				}
				ok, err := tx.Processes.MarkEnded(ctx, evt.ProcessKey, evt.Timestamp)
				if err != nil {
					return err
				}
				if !ok {
					orphans++
				}
			case models.EventTypeNetConnect:
				flow, err := i.netflow(ctx, tx, evt)
				if err != nil {
					return err
				}
				flows = append(flows, flow)
				connects++
			}
		}
		return tx.NetFlows.CreateBatch(ctx, flows)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", batch.ID, err)
	}

	result.Events += len(batch.Events)
	result.ProcStarts += starts
	result.ProcEnds += ends
	result.NetConnects += connects
	result.OrphanEnds += orphans

	i.logger.Debug("Batch written",
		zap.String("batch_id", batch.ID),
		zap.Int("events", len(batch.Events)),
	)
	return nil
}

// netflow 构建连接记录；未携带 process_guid 时按 pid 归属到连接时刻之前最近启动的进程
func (i *Ingestor) netflow(ctx context.Context, tx *repository.Store, evt *Event) (*models.NetFlow, error) {
	flow := &models.NetFlow{
		Timestamp: evt.Timestamp,
		PID:       evt.PID,
		SrcIP:     evt.SrcIP,
		SrcPort:   evt.SrcPort,
		DstIP:     evt.DstIP,
		DstPort:   evt.DstPort,
	}
	if evt.ProcessKey != "" {
		key := evt.ProcessKey
		flow.ProcessKey = &key
		return flow, nil
	}
	if evt.PID == nil {
		return flow, nil
	}

	candidates, err := tx.Processes.FindParentCandidates(ctx, *evt.PID, "", evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if owner := lineage.LatestStarted(candidates, evt.Timestamp); owner != nil {
		key := owner.ProcessKey
		flow.ProcessKey = &key
	}
	return flow, nil
}

// process 将 proc_start 转为进程记录
func (e *Event) process() *models.Process {
	return &models.Process{
		ProcessKey:  e.ProcessKey,
		Host:        e.Host,
		PID:         e.PID,
		PPID:        e.PPID,
		Image:       e.Image,
		CommandLine: e.Cmdline,
		FirstSeen:   e.Timestamp,
		LastSeen:    e.Timestamp,
	}
}
