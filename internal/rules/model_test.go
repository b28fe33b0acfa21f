package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

func process(image, cmdline string) *models.Process {
	return &models.Process{ProcessKey: image, Image: image, CommandLine: cmdline}
}

func TestRule_Matches(t *testing.T) {
	word := process(`C:\Program Files\Microsoft Office\WINWORD.EXE`, `"WINWORD.EXE" /n invoice.docm`)
	ps := process(`C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`, "powershell -nop -w hidden")
	slashPS := process(`C:/Windows/System32/WindowsPowerShell/v1.0/PowerShell.exe`, "")

	tests := []struct {
		name   string
		rule   Rule
		p      *models.Process
		parent *models.Process
		want   bool
	}{
		{name: "empty if matches all", rule: Rule{}, p: ps, want: true},
		{name: "empty if matches empty process", rule: Rule{}, p: &models.Process{}, want: true},
		{
			name: "image suffix case-insensitive",
			rule: Rule{Conditions: []Condition{{Kind: ImageEndsWith, Values: []string{"POWERSHELL.EXE"}}}},
			p:    ps, want: true,
		},
		{
			name: "image suffix normalizes separators",
			rule: Rule{Conditions: []Condition{{Kind: ImageEndsWith, Values: []string{`\powershell.exe`}}}},
			p:    slashPS, want: true,
		},
		{
			name: "no value matches",
			rule: Rule{Conditions: []Condition{{Kind: ImageEndsWith, Values: []string{"cmd.exe", "wscript.exe"}}}},
			p:    ps, want: false,
		},
		{
			name: "empty value list never matches",
			rule: Rule{Conditions: []Condition{{Kind: CmdContains, Values: []string{}}}},
			p:    ps, want: false,
		},
		{
			name: "cmd contains any",
			rule: Rule{Conditions: []Condition{{Kind: CmdContains, Values: []string{"-enc", "HIDDEN"}}}},
			p:    ps, want: true,
		},
		{
			name: "parent and child both required",
			rule: Rule{Conditions: []Condition{
				{Kind: ImageEndsWith, Values: []string{"powershell.exe"}},
				{Kind: ParentImageEndsWith, Values: []string{"winword.exe"}},
			}},
			p: ps, parent: word, want: true,
		},
		{
			name: "unresolved parent fails parent condition",
			rule: Rule{Conditions: []Condition{
				{Kind: ImageEndsWith, Values: []string{"powershell.exe"}},
				{Kind: ParentImageEndsWith, Values: []string{"winword.exe"}},
			}},
			p: ps, want: false,
		},
		{
			name: "unresolved parent matches empty substring",
			rule: Rule{Conditions: []Condition{{Kind: ParentCmdContains, Values: []string{""}}}},
			p:    ps, want: true,
		},
		{
			name: "parent cmd contains",
			rule: Rule{Conditions: []Condition{{Kind: ParentCmdContains, Values: []string{".docm"}}}},
			p:    ps, parent: word, want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(tt.p, tt.parent))
		})
	}
}

func TestRule_Tag(t *testing.T) {
	p := &models.Process{ProcessKey: "g1", FirstSeen: baseTime}
	r := &Rule{ID: "r1", Technique: "T1059.001", Severity: 20, Evidence: "ps"}

	tag := r.Tag(p)
	assert.Equal(t, "g1", tag.ProcessKey)
	assert.Equal(t, "r1", tag.RuleID)
	assert.Equal(t, "T1059.001", tag.Technique)
	assert.Equal(t, int64(20), tag.Severity)
	assert.Equal(t, "ps", tag.Evidence)
	assert.True(t, tag.Timestamp.Equal(baseTime))
}
