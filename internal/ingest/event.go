// Package ingest 将 JSONL 遥测事件写入分析库
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// 支持的时间格式，无时区信息时按 UTC 处理
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp 解析事件时间戳，结果为 UTC
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

// OptInt 可选整数，接受 JSON 数字、数字字符串与 null
type OptInt struct {
	Value int64
	Valid bool
}

// UnmarshalJSON 实现 json.Unmarshaler 接口
func (o *OptInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = OptInt{}
		return nil
	}

	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*o = OptInt{}
			return nil
		}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*o = OptInt{Value: n, Valid: true}
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return fmt.Errorf("invalid integer %s", string(data))
	}
	*o = OptInt{Value: int64(f), Valid: true}
	return nil
}

// Ptr 转为指针，无效时返回 nil
func (o OptInt) Ptr() *int64 {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// RawEvent 单行 JSON 事件
type RawEvent struct {
	TS          string `json:"ts" validate:"required"`
	EventType   string `json:"event_type" validate:"required,oneof=proc_start proc_end net_connect"`
	PID         OptInt `json:"pid"`
	PPID        OptInt `json:"ppid"`
	ProcessGUID string `json:"process_guid" validate:"required_if=EventType proc_start,max=128"`
	Host        string `json:"host"`
	Image       string `json:"image"`
	Cmdline     string `json:"cmdline"`
	SrcIP       string `json:"src_ip"`
	SrcPort     OptInt `json:"src_port"`
	DstIP       string `json:"dst_ip"`
	DstPort     OptInt `json:"dst_port"`
}

// Event 解析后的事件
type Event struct {
	Line       int
	Timestamp  time.Time
	Type       models.EventType
	PID        *int64
	PPID       *int64
	ProcessKey string
	Host       string
	Image      string
	Cmdline    string
	SrcIP      string
	SrcPort    *int
	DstIP      string
	DstPort    *int
	Raw        string
}

var validate = validator.New()

// ParseLine 解析并校验一行事件，失败时返回 *MalformedError
func ParseLine(lineNo int, data []byte) (*Event, error) {
	var raw RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedError{Line: lineNo, Err: err}
	}
	if err := validate.Struct(&raw); err != nil {
		return nil, &MalformedError{Line: lineNo, Err: fmt.Errorf("validation failed: %w", err)}
	}

	ts, err := ParseTimestamp(raw.TS)
	if err != nil {
		return nil, &MalformedError{Line: lineNo, Err: err}
	}
	srcPort, err := port(raw.SrcPort)
	if err != nil {
		return nil, &MalformedError{Line: lineNo, Err: fmt.Errorf("src_port: %w", err)}
	}
	dstPort, err := port(raw.DstPort)
	if err != nil {
		return nil, &MalformedError{Line: lineNo, Err: fmt.Errorf("dst_port: %w", err)}
	}

	return &Event{
		Line:       lineNo,
		Timestamp:  ts,
		Type:       models.EventType(raw.EventType),
		PID:        raw.PID.Ptr(),
		PPID:       raw.PPID.Ptr(),
		ProcessKey: raw.ProcessGUID,
		Host:       raw.Host,
		Image:      raw.Image,
		Cmdline:    raw.Cmdline,
		SrcIP:      raw.SrcIP,
		SrcPort:    srcPort,
		DstIP:      raw.DstIP,
		DstPort:    dstPort,
		Raw:        string(data),
	}, nil
}

func port(o OptInt) (*int, error) {
	if !o.Valid {
		return nil, nil
	}
	if o.Value < 0 || o.Value > 65535 {
		return nil, fmt.Errorf("out of range: %d", o.Value)
	}
	p := int(o.Value)
	return &p, nil
}

// record 转为 events 表记录
func (e *Event) record(runID string) *models.Event {
	rec := &models.Event{
		RunID:     runID,
		Timestamp: e.Timestamp,
		EventType: e.Type,
		PID:       e.PID,
		PPID:      e.PPID,
		RawJSON:   e.Raw,
	}
	if e.ProcessKey != "" {
		key := e.ProcessKey
		rec.ProcessKey = &key
	}
	return rec
}
