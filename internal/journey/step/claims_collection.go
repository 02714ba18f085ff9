package step

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
)

// ClaimsCollectionType is the "claims_collection" step type.
const ClaimsCollectionType = "claims_collection"

// DynamicFormType is the "dynamic_form" step type: the same rendering
// and validation engine as claims_collection under a distinct policy
// vocabulary entry.
const DynamicFormType = "dynamic_form"

// FieldDef is one field of a claims_collection/dynamic_form step's
// schema.
type FieldDef struct {
	Name         string
	ClaimType    string
	Type         string
	Required     bool
	Pattern      string
	PatternError string
	MinLength    int
	MaxLength    int
	Min          *float64
	Max          *float64
	Options      []string
	ShowWhen     *showWhenSpec
}

type showWhenSpec struct {
	Field    string
	Operator string
	Value    any
}

// PreCompletionValidator runs after a claims_collection submission
// passes per-field validation (e.g. "email already registered").
// Returning a non-empty error message re-renders the
// form with a form-level error without advancing state.
type PreCompletionValidator func(ctx context.Context, tenantID string, values map[string]any) (errMsg string, err error)

// ClaimsCollectionHandler renders a dynamic form schema, validates
// submitted fields, and stores each as its own name or ClaimType into
// the journey's data map.
type ClaimsCollectionHandler struct {
	PreCompletion PreCompletionValidator
	DynamicForm   bool // true registers this instance under DynamicFormType
}

// Type implements journey.StepHandler.
func (h *ClaimsCollectionHandler) Type() string {
	if h.DynamicForm {
		return DynamicFormType
	}
	return ClaimsCollectionType
}

// Execute implements journey.StepHandler.
func (h *ClaimsCollectionHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	fields := parseFields(step.Config["fields"])

	if len(ec.UserInput()) == 0 {
		return journey.ShowUI("claims_collection", map[string]any{"fields": fields}), nil
	}

	errs := map[string]string{}
	values := map[string]any{}
	for _, f := range fields {
		if f.ShowWhen != nil && !conditionHolds(ec, *f.ShowWhen) {
			continue
		}
		raw, present := ec.UserInput()[f.Name]
		str := fmt.Sprint(raw)

		if f.Required && (!present || str == "") {
			errs[f.Name] = "required"
			continue
		}
		if !present || str == "" {
			continue
		}
		if msg, ok := validateField(f, str); !ok {
			errs[f.Name] = msg
			continue
		}
		key := f.Name
		if f.ClaimType != "" {
			key = f.ClaimType
		}
		values[key] = str
	}

	if len(errs) > 0 {
		return journey.ShowUI("claims_collection", map[string]any{"fields": fields, "errors": errs}), nil
	}

	if h.PreCompletion != nil {
		if msg, err := h.PreCompletion(ctx, ec.TenantID(), values); err != nil {
			return nil, err
		} else if msg != "" {
			return journey.ShowUI("claims_collection", map[string]any{"fields": fields, "formError": msg}), nil
		}
	}

	return journey.Success(values), nil
}

func validateField(f FieldDef, value string) (string, bool) {
	if f.MinLength > 0 && len(value) < f.MinLength {
		return "too_short", false
	}
	if f.MaxLength > 0 && len(value) > f.MaxLength {
		return "too_long", false
	}
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil || !re.MatchString(value) {
			msg := f.PatternError
			if msg == "" {
				msg = "invalid_format"
			}
			return msg, false
		}
	}
	switch f.Type {
	case "email":
		if _, err := mail.ParseAddress(value); err != nil {
			return "invalid_email", false
		}
	case "url":
		if u, err := url.Parse(value); err != nil || u.Scheme == "" || u.Host == "" {
			return "invalid_url", false
		}
	case "tel":
		if !regexp.MustCompile(`^[0-9+\-() ]{5,20}$`).MatchString(value) {
			return "invalid_phone", false
		}
	case "number":
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "invalid_number", false
		}
		if f.Min != nil && n < *f.Min {
			return "too_small", false
		}
		if f.Max != nil && n > *f.Max {
			return "too_large", false
		}
	case "select":
		if len(f.Options) > 0 && !contains(f.Options, value) {
			return "invalid_option", false
		}
	}
	return "", true
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

func conditionHolds(ec *journey.StepExecutionContext, sw showWhenSpec) bool {
	return evaluateCondition(ec, conditionSpec{Source: "input", Field: sw.Field, Operator: operatorOrDefault(sw.Operator), Value: sw.Value})
}

func operatorOrDefault(op string) string {
	if op == "" {
		return "exists"
	}
	return op
}

func parseFields(raw any) []FieldDef {
	list, _ := raw.([]any)
	out := make([]FieldDef, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := FieldDef{
			Name:         fmt.Sprint(m["name"]),
			ClaimType:    fmt.Sprint(m["claimType"]),
			Type:         fmt.Sprint(m["type"]),
			Required:     boolOf(m["required"]),
			Pattern:      fmt.Sprint(m["pattern"]),
			PatternError: fmt.Sprint(m["patternError"]),
			MinLength:    intOf(m["minLength"]),
			MaxLength:    intOf(m["maxLength"]),
		}
		if f.ClaimType == "<nil>" {
			f.ClaimType = ""
		}
		if f.Pattern == "<nil>" {
			f.Pattern = ""
		}
		if v, ok := m["min"]; ok {
			fv := floatOf(v)
			f.Min = &fv
		}
		if v, ok := m["max"]; ok {
			fv := floatOf(v)
			f.Max = &fv
		}
		if opts, ok := m["options"].([]any); ok {
			for _, o := range opts {
				f.Options = append(f.Options, fmt.Sprint(o))
			}
		}
		if sw, ok := m["showWhen"].(map[string]any); ok {
			f.ShowWhen = &showWhenSpec{
				Field:    fmt.Sprint(sw["field"]),
				Operator: fmt.Sprint(sw["operator"]),
				Value:    sw["value"],
			}
			if f.ShowWhen.Operator == "<nil>" {
				f.ShowWhen.Operator = ""
			}
		}
		out = append(out, f)
	}
	return out
}

func boolOf(v any) bool {
	b, _ := v.(bool)
	return b
}

func intOf(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

func floatOf(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return 0
	}
}
