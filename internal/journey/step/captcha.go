package step

import (
	"context"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
)

// CaptchaType is the "captcha" step type.
const CaptchaType = "captcha"

// CaptchaHandler verifies a CAPTCHA response token against the
// tenant-configured provider and enforces a minimum score threshold
// and enforces the configured score threshold.
type CaptchaHandler struct{}

// Type implements journey.StepHandler.
func (*CaptchaHandler) Type() string { return CaptchaType }

// Execute implements journey.StepHandler.
func (*CaptchaHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	provider := ec.Services().Captcha
	if provider == nil {
		return journey.Fail("server_error", "captcha: no provider configured"), nil
	}

	token := ec.InputString("captcha_token")
	if token == "" {
		return journey.ShowUI("captcha", map[string]any{"siteKey": ec.ConfigString("siteKey")}), nil
	}

	minScore := 0.5
	if v, ok := step.Config["minScore"].(float64); ok {
		minScore = v
	}
	ok, err := provider.Verify(ctx, token, minScore)
	if err != nil {
		return nil, err
	}
	if !ok {
		return journey.ShowUI("captcha", map[string]any{"siteKey": ec.ConfigString("siteKey"), "error": "captcha_failed"}), nil
	}
	return journey.Success(nil), nil
}
