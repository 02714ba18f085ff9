package step

import (
	"context"
	"fmt"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

// TermsAcceptanceType is the "terms_acceptance" step type.
const TermsAcceptanceType = "terms_acceptance"

// TermsAcceptanceHandler renders a terms/privacy acceptance page only
// when the authenticated user has not yet accepted the configured
// version, writing accepted_{terms,privacy}_version claims on
// acceptance.
type TermsAcceptanceHandler struct {
	Users store.UserStore
}

// Type implements journey.StepHandler.
func (*TermsAcceptanceHandler) Type() string { return TermsAcceptanceType }

// Execute implements journey.StepHandler.
func (h *TermsAcceptanceHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	termsVersion := ec.ConfigString("termsVersion")
	privacyVersion := ec.ConfigString("privacyVersion")

	var props map[string]any
	if ec.UserID() != "" {
		u, err := h.Users.GetUser(ctx, ec.TenantID(), ec.UserID())
		if err == nil {
			props = u.Properties
		}
	}
	alreadyAccepted := props != nil &&
		fmt.Sprint(props["accepted_terms_version"]) == termsVersion &&
		fmt.Sprint(props["accepted_privacy_version"]) == privacyVersion

	accept := ec.InputString("accept")
	if alreadyAccepted {
		return journey.Skip(), nil
	}
	if accept != "true" {
		return journey.ShowUI("terms_acceptance", map[string]any{
			"termsVersion": termsVersion, "privacyVersion": privacyVersion,
		}), nil
	}

	if ec.UserID() != "" {
		u, err := h.Users.GetUser(ctx, ec.TenantID(), ec.UserID())
		if err == nil {
			if u.Properties == nil {
				u.Properties = map[string]any{}
			}
			u.Properties["accepted_terms_version"] = termsVersion
			u.Properties["accepted_privacy_version"] = privacyVersion
			_ = h.Users.PutUser(ctx, u)
		}
	}

	return journey.Success(map[string]any{
		"accepted_terms_version":   termsVersion,
		"accepted_privacy_version": privacyVersion,
	}), nil
}
