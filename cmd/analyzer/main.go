// Package main 是进程谱系分析器的入口点
//
// Analyzer 负责：
//   - 导入 JSONL 或 Kafka 中的终端事件
//   - 关联父子进程并计算风险富化
//   - 按规则打标并生成威胁狩猎报告
package main

import (
	"fmt"
	"os"
)

// 版本信息
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
