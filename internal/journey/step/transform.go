package step

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
)

// TransformType is the "transform" step type.
const TransformType = "transform"

// transformMapping is one entry of a transform step's "mappings" config
// list: copy, upper, lower, hash, split, join, regex, template.
type transformMapping struct {
	From      string
	To        string
	Operation string
	Arg       string
}

// TransformHandler applies a list of field-level transformations to the
// journey's data map.
type TransformHandler struct{}

// Type implements journey.StepHandler.
func (*TransformHandler) Type() string { return TransformType }

// Execute implements journey.StepHandler.
func (*TransformHandler) Execute(_ context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	raw, _ := step.Config["mappings"].([]any)
	out := make(map[string]any, len(raw))

	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		mapping := transformMapping{
			From:      fmt.Sprint(m["from"]),
			To:        fmt.Sprint(m["to"]),
			Operation: fmt.Sprint(m["operation"]),
			Arg:       fmt.Sprint(m["arg"]),
		}
		value, ok := ec.Data()[mapping.From]
		if !ok {
			if v, ok2 := ec.UserInput()[mapping.From]; ok2 {
				value = v
			}
		}
		str := fmt.Sprint(value)

		switch mapping.Operation {
		case "copy", "":
			out[mapping.To] = value
		case "upper":
			out[mapping.To] = strings.ToUpper(str)
		case "lower":
			out[mapping.To] = strings.ToLower(str)
		case "hash":
			sum := sha256.Sum256([]byte(str))
			out[mapping.To] = hex.EncodeToString(sum[:])
		case "split":
			sep := mapping.Arg
			if sep == "" {
				sep = ","
			}
			out[mapping.To] = strings.Split(str, sep)
		case "join":
			parts, _ := value.([]string)
			sep := mapping.Arg
			if sep == "" {
				sep = ","
			}
			out[mapping.To] = strings.Join(parts, sep)
		case "regex":
			re, err := regexp.Compile(mapping.Arg)
			if err == nil {
				out[mapping.To] = re.FindString(str)
			}
		case "template":
			out[mapping.To] = renderTemplate(mapping.Arg, ec.Data())
		}
	}

	return journey.Success(out), nil
}

// renderTemplate substitutes {{field}} placeholders with values from
// data; used by the transform and api_call steps alike.
func renderTemplate(tmpl string, data map[string]any) string {
	re := regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)
	return re.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := strings.TrimSpace(re.FindStringSubmatch(match)[1])
		if v, ok := data[key]; ok {
			return fmt.Sprint(v)
		}
		return ""
	})
}
