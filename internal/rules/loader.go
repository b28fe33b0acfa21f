package rules

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LoadFile 读取并解析规则文件，文件不存在或内容非法均返回错误
func LoadFile(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load rules %s: %w", path, err)
	}
	return rules, nil
}

// Parse 解析规则文档
//
// 文档顶层为映射，rules 为规则列表；缺少 rules 时返回空列表。
// 结构错误返回 *SpecError，携带出错位置。
func Parse(data []byte) ([]*Rule, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &SpecError{Path: "$", Message: err.Error()}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 || isNull(doc.Content[0]) {
		return nil, specErrorf("$", 0, "rule document is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, specErrorf("$", root.Line, "rule document must be a mapping")
	}

	list := mappingValue(root, "rules")
	if list == nil {
		return []*Rule{}, nil
	}
	if list.Kind != yaml.SequenceNode {
		return nil, specErrorf("rules", list.Line, "rules must be a list")
	}

	rules := make([]*Rule, 0, len(list.Content))
	for i, item := range list.Content {
		path := fmt.Sprintf("rules[%d]", i)
		rule, err := parseRule(path, item)
		if err != nil {
			return nil, err
		}
		if err := validateRule(path, rule); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Validate 校验已构建的规则列表
func Validate(rules []*Rule) error {
	for i, r := range rules {
		if r == nil {
			return specErrorf(fmt.Sprintf("rules[%d]", i), 0, "rule is nil")
		}
		if err := validateRule(fmt.Sprintf("rules[%d]", i), r); err != nil {
			return err
		}
	}
	return nil
}

func parseRule(path string, node *yaml.Node) (*Rule, error) {
	if node.Kind != yaml.MappingNode {
		return nil, specErrorf(path, node.Line, "rule must be a mapping")
	}

	rule := &Rule{ID: UnknownRuleID}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		fieldPath := path + "." + key

		switch key {
		case "id":
			id, err := scalarString(fieldPath, value)
			if err != nil {
				return nil, err
			}
			if id != "" {
				rule.ID = id
			}
		case "technique":
			s, err := scalarString(fieldPath, value)
			if err != nil {
				return nil, err
			}
			rule.Technique = s
		case "evidence":
			s, err := scalarString(fieldPath, value)
			if err != nil {
				return nil, err
			}
			rule.Evidence = s
		case "severity":
			sev, err := scalarInt(fieldPath, value)
			if err != nil {
				return nil, err
			}
			rule.Severity = sev
		case "if":
			conds, err := parseConditions(fieldPath, value)
			if err != nil {
				return nil, err
			}
			rule.Conditions = conds
		}
	}
	return rule, nil
}

func parseConditions(path string, node *yaml.Node) ([]Condition, error) {
	if isNull(node) {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, specErrorf(path, node.Line, "if must be a mapping of condition kinds")
	}

	conds := make([]Condition, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		kind := ConditionKind(node.Content[i].Value)
		value := node.Content[i+1]
		condPath := path + "." + string(kind)

		if !kind.IsValid() {
			return nil, specErrorf(condPath, node.Content[i].Line, "unknown condition kind %q (want one of %v)", kind, ConditionKinds)
		}
		if value.Kind != yaml.SequenceNode {
			return nil, specErrorf(condPath, value.Line, "condition values must be a list of strings")
		}

		values := make([]string, 0, len(value.Content))
		for j, v := range value.Content {
			if v.Kind != yaml.ScalarNode || isNull(v) {
				return nil, specErrorf(fmt.Sprintf("%s[%d]", condPath, j), v.Line, "condition value must be a string")
			}
			values = append(values, v.Value)
		}
		conds = append(conds, Condition{Kind: kind, Values: values})
	}
	return conds, nil
}

func validateRule(path string, rule *Rule) error {
	err := validate.Struct(rule)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		return specErrorf(path+"."+field, 0, "failed on %q validation (value %v)", fe.Tag(), fe.Value())
	}
	return specErrorf(path, 0, "%v", err)
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func isNull(node *yaml.Node) bool {
	return node == nil || (node.Kind == yaml.ScalarNode && node.Tag == "!!null")
}

func scalarString(path string, node *yaml.Node) (string, error) {
	if isNull(node) {
		return "", nil
	}
	if node.Kind != yaml.ScalarNode {
		return "", specErrorf(path, node.Line, "must be a scalar")
	}
	return node.Value, nil
}

func scalarInt(path string, node *yaml.Node) (int64, error) {
	if isNull(node) {
		return 0, nil
	}
	if node.Kind != yaml.ScalarNode {
		return 0, specErrorf(path, node.Line, "must be an integer")
	}
	var n int64
	if err := node.Decode(&n); err == nil {
		return n, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(node.Value), 10, 64)
	if err != nil {
		return 0, specErrorf(path, node.Line, "must be an integer, got %q", node.Value)
	}
	return n, nil
}
