package step

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
)

// WebhookStepType is the "webhook" step type: a synchronous outbound
// notification distinct from the durable, at-least-once internal/webhook
// delivery pipeline. Honors continueOnError.
const WebhookStepType = "webhook"

// WebhookStepHandler posts the journey's current data to a
// policy-configured URL inline, blocking the journey turn on the
// response.
type WebhookStepHandler struct {
	Client *retryablehttp.Client
}

// Type implements journey.StepHandler.
func (*WebhookStepHandler) Type() string { return WebhookStepType }

// Execute implements journey.StepHandler.
func (h *WebhookStepHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	url := renderTemplate(ec.ConfigString("url"), ec.Data())
	if url == "" {
		return journey.Fail("invalid_request", "webhook: no url configured"), nil
	}

	timeout := DefaultAPICallTimeout
	if secs, ok := step.Config["timeoutSeconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"journey_id": ec.JourneyID(),
		"tenant_id":  ec.TenantID(),
		"user_id":    ec.UserID(),
		"data":       ec.Data(),
	})
	if err != nil {
		return nil, fmt.Errorf("step: webhook: marshalling body: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("step: webhook: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = defaultRetryClient()
	}
	resp, err := client.Do(req)
	if err != nil {
		return h.onError(step, fmt.Errorf("step: webhook: request failed: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return h.onError(step, fmt.Errorf("step: webhook: endpoint returned status %d", resp.StatusCode))
	}
	return journey.Success(nil), nil
}

func (h *WebhookStepHandler) onError(step model.PolicyStep, err error) (*journey.StepResult, error) {
	if b, _ := step.Config["continueOnError"].(bool); b {
		return journey.Success(map[string]any{"webhook_error": err.Error()}), nil
	}
	return nil, err
}
