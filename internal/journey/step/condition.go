package step

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
)

// ConditionType is the "condition" step type.
const ConditionType = "condition"

// BranchType is the "branch" step type.
const BranchType = "branch"

// conditionSpec is one entry of a condition step's "conditions" config
// list. Sources: claim, input, data, config, user. Operators: eq, ne,
// contains, startswith, endswith, exists, regex, gt, gte, lt, lte, in.
type conditionSpec struct {
	Source   string
	Field    string
	Operator string
	Value    any
}

// ConditionHandler evaluates a list of conditions combined by and/or and
// branches to onTrue/onFalse.
type ConditionHandler struct{}

// Type implements journey.StepHandler.
func (*ConditionHandler) Type() string { return ConditionType }

// Execute implements journey.StepHandler.
func (*ConditionHandler) Execute(_ context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	specs := parseConditions(step.Config["conditions"])
	combinator, _ := step.Config["combinator"].(string)
	if combinator == "" {
		combinator = "and"
	}

	result := combinator == "and"
	for _, c := range specs {
		ok := evaluateCondition(ec, c)
		switch combinator {
		case "or":
			result = result || ok
		default:
			result = result && ok
		}
	}

	target, _ := step.Config["onFalse"].(string)
	if result {
		target, _ = step.Config["onTrue"].(string)
	}
	if target == "" {
		return journey.Skip(), nil
	}
	return journey.Branch(target, nil), nil
}

// BranchHandler picks the first matching branch from a priority-ordered
// or first-match multi-branch table.
type BranchHandler struct{}

// Type implements journey.StepHandler.
func (*BranchHandler) Type() string { return BranchType }

// Execute implements journey.StepHandler.
func (*BranchHandler) Execute(_ context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	rawBranches, _ := step.Config["branches"].([]any)
	for _, raw := range rawBranches {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		conds := parseConditions(entry["conditions"])
		match := true
		for _, c := range conds {
			if !evaluateCondition(ec, c) {
				match = false
				break
			}
		}
		if match {
			if target, _ := entry["target"].(string); target != "" {
				return journey.Branch(target, nil), nil
			}
		}
	}
	if def, _ := step.Config["default"].(string); def != "" {
		return journey.Branch(def, nil), nil
	}
	return journey.Skip(), nil
}

func parseConditions(raw any) []conditionSpec {
	list, _ := raw.([]any)
	out := make([]conditionSpec, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, conditionSpec{
			Source:   fmt.Sprint(m["source"]),
			Field:    fmt.Sprint(m["field"]),
			Operator: fmt.Sprint(m["operator"]),
			Value:    m["value"],
		})
	}
	return out
}

func evaluateCondition(ec *journey.StepExecutionContext, c conditionSpec) bool {
	var actual any
	exists := false
	switch c.Source {
	case "input":
		actual, exists = ec.UserInput()[c.Field]
	case "data":
		actual, exists = ec.Data()[c.Field]
	case "config":
		actual, exists = ec.Config()[c.Field]
	case "claim", "user":
		actual, exists = ec.Data()[c.Field]
	}

	if c.Operator == "exists" {
		return exists
	}
	if !exists {
		return false
	}

	actualStr := fmt.Sprint(actual)
	wantStr := fmt.Sprint(c.Value)

	switch c.Operator {
	case "eq":
		return actualStr == wantStr
	case "ne":
		return actualStr != wantStr
	case "contains":
		return strings.Contains(actualStr, wantStr)
	case "startswith":
		return strings.HasPrefix(actualStr, wantStr)
	case "endswith":
		return strings.HasSuffix(actualStr, wantStr)
	case "notempty":
		return strings.TrimSpace(actualStr) != ""
	case "regex":
		re, err := regexp.Compile(wantStr)
		return err == nil && re.MatchString(actualStr)
	case "in":
		values, _ := c.Value.([]any)
		for _, v := range values {
			if fmt.Sprint(v) == actualStr {
				return true
			}
		}
		return false
	case "gt", "gte", "lt", "lte":
		a, err1 := strconv.ParseFloat(actualStr, 64)
		b, err2 := strconv.ParseFloat(wantStr, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		switch c.Operator {
		case "gt":
			return a > b
		case "gte":
			return a >= b
		case "lt":
			return a < b
		default:
			return a <= b
		}
	default:
		return false
	}
}
