package enricher

import (
	"regexp"
	"strings"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// 分数权重
const (
	ScoreHighRiskPath  = 15
	ScoreUnknownPath   = 5
	ScorePerFlag       = 8
	ScoreBase64Payload = 15
	Base64MinRunLength = 120
)

// 用户可写目录，优先匹配
var highRiskPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\\Users\\[^\\]+\\AppData\\Local\\Temp\\`),
	regexp.MustCompile(`(?i)\\Users\\[^\\]+\\Downloads\\`),
	regexp.MustCompile(`(?i)\\Users\\[^\\]+\\Desktop\\`),
	regexp.MustCompile(`(?i)\\AppData\\Roaming\\`),
}

// 系统目录
var lowRiskPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\\Windows\\System32\\`),
	regexp.MustCompile(`(?i)\\Program Files\\`),
	regexp.MustCompile(`(?i)\\Program Files \(x86\)\\`),
}

// CmdFlagKeywords 可疑命令行关键字，按输出顺序排列
var CmdFlagKeywords = []string{
	"-enc", "frombase64string", "iex", "invoke-", "downloadstring", "bypass", "hidden", "nop",
}

// RiskTier 根据可执行文件路径计算风险等级
func RiskTier(image string) models.RiskTier {
	if image == "" {
		return models.RiskTierUnknown
	}
	for _, re := range highRiskPathPatterns {
		if re.MatchString(image) {
			return models.RiskTierHigh
		}
	}
	for _, re := range lowRiskPathPatterns {
		if re.MatchString(image) {
			return models.RiskTierLow
		}
	}
	return models.RiskTierUnknown
}

// MatchedFlags 返回命令行中出现的关键字（不区分大小写）
func MatchedFlags(cmdline string) models.FlagList {
	flags := models.FlagList{}
	if cmdline == "" {
		return flags
	}
	lower := strings.ToLower(cmdline)
	for _, kw := range CmdFlagKeywords {
		if strings.Contains(lower, kw) {
			flags = append(flags, kw)
		}
	}
	return flags
}

// Base64Suspicious 命令行中是否存在疑似 base64 载荷
//
// 判断依据为至少 Base64MinRunLength 个连续的 [A-Za-z0-9+/] 字符。
// 取的是极大连续段，段两侧天然是非字母表字符或字符串边界，
// 尾部的 0~2 个 '=' 不影响结果。不校验长度是否为 4 的倍数。
func Base64Suspicious(cmdline string) bool {
	run := 0
	for i := 0; i < len(cmdline); i++ {
		if isBase64Char(cmdline[i]) {
			run++
			if run >= Base64MinRunLength {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

func isBase64Char(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '+', c == '/':
		return true
	}
	return false
}

// ScoreDelta 合并富化结果为分数增量，结果非负
func ScoreDelta(tier models.RiskTier, flags models.FlagList, base64Sus bool) int64 {
	var delta int64
	switch tier {
	case models.RiskTierHigh:
		delta += ScoreHighRiskPath
	case models.RiskTierUnknown:
		delta += ScoreUnknownPath
	}
	delta += ScorePerFlag * int64(len(flags))
	if base64Sus {
		delta += ScoreBase64Payload
	}
	return delta
}

// Compute 计算进程的全部富化字段与分数增量
func Compute(image, cmdline string) (models.Enrichment, int64) {
	e := models.Enrichment{
		RiskPathTier: RiskTier(image),
		CmdFlags:     MatchedFlags(cmdline),
		Base64Sus:    Base64Suspicious(cmdline),
	}
	return e, ScoreDelta(e.RiskPathTier, e.CmdFlags, e.Base64Sus)
}
