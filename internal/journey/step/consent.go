package step

import (
	"context"
	"strings"
	"time"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
	"github.com/meridianid/authserver/internal/webhook"
)

// ConsentType is the "consent" step type.
const ConsentType = "consent"

// ConsentHandler renders a scope-grant prompt and persists the
// resulting (subject, client, scopes, expires_at) ConsentRecord.
type ConsentHandler struct {
	Consents store.ConsentStore
}

// Type implements journey.StepHandler.
func (*ConsentHandler) Type() string { return ConsentType }

// Execute implements journey.StepHandler.
func (h *ConsentHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	scopesRaw, _ := step.Config["scopes"].(string)
	scopes := strings.Fields(scopesRaw)

	if ec.InputString("consent") == "" {
		return journey.ShowUI("consent", map[string]any{"scopes": scopes, "client_id": ec.ClientID()}), nil
	}
	if ec.InputString("consent") != "granted" {
		return journey.Fail("access_denied", "user denied consent"), nil
	}

	var expiresAt time.Time
	if ttl, _ := step.Config["ttl_seconds"].(float64); ttl > 0 {
		expiresAt = ec.Now().Add(time.Duration(ttl) * time.Second)
	}
	record := &model.ConsentRecord{
		TenantID:  ec.TenantID(),
		SubjectID: ec.UserID(),
		ClientID:  ec.ClientID(),
		Scopes:    scopes,
		GrantedAt: ec.Now(),
		ExpiresAt: expiresAt,
	}
	if err := h.Consents.PutConsent(ctx, record); err != nil {
		return nil, err
	}
	raiseEvent(ctx, ec.Services().Events, ec.TenantID(), webhook.EventConsentGranted, map[string]any{
		"subject_id": ec.UserID(), "client_id": ec.ClientID(),
	})
	return journey.Success(map[string]any{"scopes": scopes}), nil
}
