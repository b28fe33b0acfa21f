package ingest

import "fmt"

// Batch 一批待写入的事件
type Batch struct {
	ID     string
	Events []*Event
}

// BatchCollector 批次收集器，达到 batchSize 时产出一个批次
type BatchCollector struct {
	batchSize int
	buffer    []*Event
	batchID   int64
}

// NewBatchCollector 创建批次收集器
func NewBatchCollector(batchSize int) *BatchCollector {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchCollector{
		batchSize: batchSize,
		buffer:    make([]*Event, 0, batchSize),
	}
}

// Add 添加事件，缓冲区满时返回批次
func (c *BatchCollector) Add(evt *Event) *Batch {
	c.buffer = append(c.buffer, evt)
	if len(c.buffer) >= c.batchSize {
		return c.Flush()
	}
	return nil
}

// Flush 强制刷新缓冲区，缓冲区为空时返回 nil
func (c *BatchCollector) Flush() *Batch {
	if len(c.buffer) == 0 {
		return nil
	}

	c.batchID++
	batch := &Batch{
		ID:     fmt.Sprintf("batch-%d", c.batchID),
		Events: c.buffer,
	}
	c.buffer = make([]*Event, 0, c.batchSize)
	return batch
}

// Size 返回当前缓冲区大小
func (c *BatchCollector) Size() int {
	return len(c.buffer)
}
