package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Encode 以两空格缩进写出报告，不转义 HTML 字符
func Encode(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(r)
}

// Marshal 返回 Encode 的输出
func Marshal(r *Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, r); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return buf.Bytes(), nil
}
