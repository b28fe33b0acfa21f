// Package rules 实现检测规则的加载、匹配与打标
package rules

import (
	"slices"
	"strings"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// UnknownRuleID 规则缺少 id 时使用的占位标识
const UnknownRuleID = "rule.unknown"

// ConditionKind 条件类型
type ConditionKind string

const (
	ImageEndsWith       ConditionKind = "image_endswith"
	CmdContains         ConditionKind = "cmd_contains"
	ParentImageEndsWith ConditionKind = "parent_image_endswith"
	ParentCmdContains   ConditionKind = "parent_cmd_contains"
)

// ConditionKinds 全部支持的条件类型
var ConditionKinds = []ConditionKind{ImageEndsWith, CmdContains, ParentImageEndsWith, ParentCmdContains}

// IsValid 验证条件类型
func (k ConditionKind) IsValid() bool {
	return slices.Contains(ConditionKinds, k)
}

// Condition 单个条件，Values 中任一值命中即成立
type Condition struct {
	Kind   ConditionKind `yaml:"kind" validate:"required,oneof=image_endswith cmd_contains parent_image_endswith parent_cmd_contains"`
	Values []string      `yaml:"values"`
}

// Rule 检测规则，加载后不可变
type Rule struct {
	ID         string      `yaml:"id" validate:"required"`
	Technique  string      `yaml:"technique"`
	Severity   int64       `yaml:"severity" validate:"gte=0"`
	Evidence   string      `yaml:"evidence"`
	Conditions []Condition `yaml:"if" validate:"dive"`
}

// Matches 规则是否命中进程，parent 为已解析的父进程（可为 nil）
//
// 条件之间为与关系，没有条件的规则命中所有进程。
// 未解析父进程时父进程字段按空字符串处理。
func (r *Rule) Matches(p, parent *models.Process) bool {
	var image, cmdline, parentImage, parentCmdline string
	if p != nil {
		image, cmdline = p.Image, p.CommandLine
	}
	if parent != nil {
		parentImage, parentCmdline = parent.Image, parent.CommandLine
	}

	for _, c := range r.Conditions {
		var ok bool
		switch c.Kind {
		case ImageEndsWith:
			ok = imageEndsWith(image, c.Values)
		case CmdContains:
			ok = containsAny(cmdline, c.Values)
		case ParentImageEndsWith:
			ok = imageEndsWith(parentImage, c.Values)
		case ParentCmdContains:
			ok = containsAny(parentCmdline, c.Values)
		}
		if !ok {
			return false
		}
	}
	return true
}

// Tag 生成命中记录，时间戳取进程的 first_seen
func (r *Rule) Tag(p *models.Process) *models.Tag {
	return &models.Tag{
		Timestamp:  p.FirstSeen,
		ProcessKey: p.ProcessKey,
		RuleID:     r.ID,
		Technique:  r.Technique,
		Severity:   r.Severity,
		Evidence:   r.Evidence,
	}
}

// normalizeImage 统一为反斜杠并转小写
func normalizeImage(image string) string {
	return strings.ToLower(strings.ReplaceAll(image, "/", `\`))
}

func imageEndsWith(image string, suffixes []string) bool {
	im := normalizeImage(image)
	for _, s := range suffixes {
		if strings.HasSuffix(im, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func containsAny(hay string, needles []string) bool {
	h := strings.ToLower(hay)
	for _, n := range needles {
		if strings.Contains(h, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
