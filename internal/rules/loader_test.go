package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `
rules:
  - id: office.spawn.powershell
    technique: T1059.001
    severity: 30
    evidence: Office application spawned PowerShell
    if:
      image_endswith: ["powershell.exe"]
      parent_image_endswith: ["winword.exe", "excel.exe"]
  - id: ps.encoded
    technique: T1027
    severity: "25"
    if:
      cmd_contains: ["-enc", "frombase64string"]
  - technique: catch-all
    if: {}
  - id: no.if
`

func TestParse(t *testing.T) {
	rules, err := Parse([]byte(sampleRules))
	require.NoError(t, err)
	require.Len(t, rules, 4)

	r := rules[0]
	assert.Equal(t, "office.spawn.powershell", r.ID)
	assert.Equal(t, "T1059.001", r.Technique)
	assert.Equal(t, int64(30), r.Severity)
	assert.Equal(t, "Office application spawned PowerShell", r.Evidence)
	require.Len(t, r.Conditions, 2)
	assert.Equal(t, ImageEndsWith, r.Conditions[0].Kind)
	assert.Equal(t, []string{"winword.exe", "excel.exe"}, r.Conditions[1].Values)

	assert.Equal(t, int64(25), rules[1].Severity)
	assert.Equal(t, "", rules[1].Evidence)

	assert.Equal(t, UnknownRuleID, rules[2].ID)
	assert.Empty(t, rules[2].Conditions)
	assert.Equal(t, int64(0), rules[2].Severity)

	assert.Equal(t, "no.if", rules[3].ID)
	assert.Empty(t, rules[3].Conditions)
}

func TestParse_MissingRulesKey(t *testing.T) {
	rules, err := Parse([]byte("version: 1\n"))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestParse_SpecErrors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantPath string
	}{
		{name: "empty document", doc: "", wantPath: "$"},
		{name: "null document", doc: "~\n", wantPath: "$"},
		{name: "top level list", doc: "- id: a\n", wantPath: "$"},
		{name: "rules not a list", doc: "rules:\n  id: a\n", wantPath: "rules"},
		{name: "rules null", doc: "rules:\n", wantPath: "rules"},
		{name: "rule not a mapping", doc: "rules:\n  - just-a-string\n", wantPath: "rules[0]"},
		{name: "if not a mapping", doc: "rules:\n  - id: a\n    if: [x]\n", wantPath: "rules[0].if"},
		{name: "unknown condition kind", doc: "rules:\n  - id: a\n  - id: b\n    if:\n      user_is: [root]\n", wantPath: "rules[1].if.user_is"},
		{name: "condition not a list", doc: "rules:\n  - id: a\n    if:\n      cmd_contains: whoami\n", wantPath: "rules[0].if.cmd_contains"},
		{name: "condition value not scalar", doc: "rules:\n  - id: a\n    if:\n      cmd_contains: [[x]]\n", wantPath: "rules[0].if.cmd_contains[0]"},
		{name: "severity not a number", doc: "rules:\n  - id: a\n    severity: high\n", wantPath: "rules[0].severity"},
		{name: "negative severity", doc: "rules:\n  - id: a\n    severity: -5\n", wantPath: "rules[0].severity"},
		{name: "id not scalar", doc: "rules:\n  - id: [a]\n", wantPath: "rules[0].id"},
		{name: "invalid yaml", doc: "rules: [\n", wantPath: "$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)

			var specErr *SpecError
			require.True(t, errors.As(err, &specErr), "expected *SpecError, got %T: %v", err, err)
			assert.Equal(t, tt.wantPath, specErr.Path)
			assert.Contains(t, err.Error(), tt.wantPath)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o644))

	rules, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, rules, 4)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("rules: 3\n"), 0o644))
	_, err = LoadFile(bad)
	var specErr *SpecError
	require.ErrorAs(t, err, &specErr)
	assert.Equal(t, "rules", specErr.Path)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate([]*Rule{{ID: "ok"}}))

	err := Validate([]*Rule{{ID: "ok"}, {ID: "neg", Severity: -1}})
	var specErr *SpecError
	require.ErrorAs(t, err, &specErr)
	assert.Equal(t, "rules[1].severity", specErr.Path)

	err = Validate([]*Rule{{ID: "bad", Conditions: []Condition{{Kind: "user_is"}}}})
	require.ErrorAs(t, err, &specErr)
	assert.Equal(t, "rules[0].if[0].kind", specErr.Path)

	err = Validate([]*Rule{{ID: ""}})
	require.ErrorAs(t, err, &specErr)
	assert.Equal(t, "rules[0].id", specErr.Path)
}

func TestParse_LongTechniqueLabel(t *testing.T) {
	label := strings.Repeat("T1059.001/", 60)
	doc := "rules:\n  - id: long\n    technique: \"" + label + "\"\n    severity: 5\n"

	rules, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, label, rules[0].Technique)
}

func TestParse_UnknownKindListsSupported(t *testing.T) {
	_, err := Parse([]byte("rules:\n  - id: a\n    if:\n      user_is: [root]\n"))
	require.Error(t, err)

	for _, kind := range ConditionKinds {
		assert.Contains(t, err.Error(), string(kind))
	}
}
