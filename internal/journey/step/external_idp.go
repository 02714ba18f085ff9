package step

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
	"github.com/meridianid/authserver/internal/webhook"
)

// ExternalIDPType is the "external_idp" step type.
const ExternalIDPType = "external_idp"

// ExternalIDPHandler redirects the browser to an upstream OIDC provider
// and, on the callback turn, exchanges the authorization code, maps the
// returned claims, and optionally auto-provisions a local user.
type ExternalIDPHandler struct {
	Users store.UserStore
}

// Type implements journey.StepHandler.
func (*ExternalIDPHandler) Type() string { return ExternalIDPType }

// Execute implements journey.StepHandler.
func (h *ExternalIDPHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	client := ec.Services().ExternalIDP
	if client == nil {
		return journey.Fail("server_error", "external_idp: no upstream client configured"), nil
	}
	providerName := ec.ConfigString("provider")
	redirectURI := ec.ConfigString("redirectUri")

	code := ec.InputString("code")
	if code == "" {
		state := ec.JourneyID()
		url, err := client.AuthorizationURL(ctx, providerName, state, redirectURI)
		if err != nil {
			return nil, err
		}
		return journey.Redirect(url), nil
	}

	claims, err := client.Exchange(ctx, providerName, code, redirectURI)
	if err != nil {
		return journey.Fail("access_denied", "external_idp: upstream exchange failed"), nil
	}

	externalSubject := fmt.Sprint(claims["sub"])
	if externalSubject == "" || externalSubject == "<nil>" {
		return journey.Fail("server_error", "external_idp: upstream response carried no sub claim"), nil
	}

	out := map[string]any{}
	for k, v := range claims {
		out[k] = v
	}

	autoProvision := ec.ConfigBool("autoProvision")
	u, err := h.Users.GetUserByUsername(ctx, ec.TenantID(), externalIdentifier(providerName, externalSubject))
	notFound := errors.Is(err, store.ErrNotFound)
	switch {
	case err == nil:
		// existing linked user
	case notFound && autoProvision:
		u = &model.User{
			TenantID:      ec.TenantID(),
			SubjectID:     uuid.NewString(),
			Username:      externalIdentifier(providerName, externalSubject),
			Email:         fmt.Sprint(claims["email"]),
			EmailVerified: boolOf(claims["email_verified"]),
			Active:        true,
			Properties:    out,
		}
		if err := h.Users.PutUser(ctx, u); err != nil {
			return nil, err
		}
		raiseEvent(ctx, ec.Services().Events, ec.TenantID(), webhook.EventUserCreated, map[string]any{"subject_id": u.SubjectID})
	case notFound:
		return journey.Fail("access_denied", "external_idp: no linked local account and auto-provisioning is disabled"), nil
	default:
		return nil, err
	}

	ec.SetAuthenticated(u.SubjectID, "external")
	ec.SetIDP(providerName)
	raiseEvent(ctx, ec.Services().Events, ec.TenantID(), webhook.EventUserSignedIn, map[string]any{"subject_id": u.SubjectID, "idp": providerName})
	return journey.Success(out), nil
}

func externalIdentifier(provider, subject string) string {
	return provider + ":" + subject
}
