package step

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
)

// APICallType is the "api_call" step type.
const APICallType = "api_call"

// DefaultAPICallTimeout is the per-call timeout applied when a step does
// not configure one.
const DefaultAPICallTimeout = 30 * time.Second

// outputMapping copies one JSONPath-selected value from the HTTP
// response body into the journey's data map under To.
type outputMapping struct {
	Path string
	To   string
}

// APICallHandler issues an outbound HTTP request built from the
// journey's data, validates the response, maps fields out of it via
// JSONPath, and optionally branches on the outcome (URL placeholders,
// retry with delay, response validation rules, output mapping
// JSONPath -> claim, optional branching
// on response").
type APICallHandler struct {
	// Client is the retrying transport used for every call; tests inject
	// one pointed at an httptest server.
	Client *retryablehttp.Client
}

// Type implements journey.StepHandler.
func (*APICallHandler) Type() string { return APICallType }

// Execute implements journey.StepHandler.
func (h *APICallHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	url := renderTemplate(ec.ConfigString("url"), ec.Data())
	method := ec.ConfigString("method")
	if method == "" {
		method = http.MethodGet
	}

	timeout := DefaultAPICallTimeout
	if secs, ok := step.Config["timeoutSeconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if raw, ok := step.Config["body"]; ok {
		b, err := json.Marshal(renderBody(raw, ec.Data()))
		if err != nil {
			return nil, fmt.Errorf("step: api_call: marshalling request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(callCtx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("step: api_call: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range stringMap(step.Config["headers"]) {
		req.Header.Set(k, v)
	}

	client := h.Client
	if client == nil {
		client = defaultRetryClient()
	}
	resp, err := client.Do(req)
	if err != nil {
		return h.onError(step, fmt.Errorf("step: api_call: request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return h.onError(step, fmt.Errorf("step: api_call: reading response: %w", err))
	}

	if expected, ok := step.Config["expectStatus"].(float64); ok && resp.StatusCode != int(expected) {
		return h.onError(step, fmt.Errorf("step: api_call: unexpected status %d", resp.StatusCode))
	}

	var decoded any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return h.onError(step, fmt.Errorf("step: api_call: decoding response: %w", err))
		}
	}

	out := map[string]any{}
	for _, m := range parseOutputMappings(step.Config["outputMapping"]) {
		v, err := jsonpath.Get(m.Path, decoded)
		if err == nil {
			out[m.To] = v
		}
	}

	if branches, ok := step.Config["branches"].([]any); ok {
		for _, raw := range branches {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			path, _ := entry["path"].(string)
			want := entry["equals"]
			if path == "" {
				continue
			}
			v, err := jsonpath.Get(path, decoded)
			if err == nil && fmt.Sprint(v) == fmt.Sprint(want) {
				if target, _ := entry["target"].(string); target != "" {
					return journey.Branch(target, out), nil
				}
			}
		}
	}

	return journey.Success(out), nil
}

func (h *APICallHandler) onError(step model.PolicyStep, err error) (*journey.StepResult, error) {
	if b, _ := step.Config["continueOnError"].(bool); b {
		return journey.Success(map[string]any{"api_call_error": err.Error()}), nil
	}
	return nil, err
}

func defaultRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.Logger = nil
	return c
}

func parseOutputMappings(raw any) []outputMapping {
	list, _ := raw.([]any)
	out := make([]outputMapping, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, outputMapping{Path: fmt.Sprint(m["path"]), To: fmt.Sprint(m["to"])})
	}
	return out
}

func stringMap(raw any) map[string]string {
	m, _ := raw.(map[string]any)
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func renderBody(raw any, data map[string]any) any {
	switch t := raw.(type) {
	case string:
		return renderTemplate(t, data)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = renderBody(v, data)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = renderBody(v, data)
		}
		return out
	default:
		return raw
	}
}
