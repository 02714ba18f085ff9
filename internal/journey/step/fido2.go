package step

import (
	"context"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
)

// FIDO2LoginType is the "fido2_login" step type.
const FIDO2LoginType = "fido2_login"

// FIDO2RegisterType is the "fido2_register" step type.
const FIDO2RegisterType = "fido2_register"

// FIDO2LoginHandler authenticates a user by a WebAuthn assertion,
// delegating the ceremony entirely to the tenant's FIDO2Verifier
// capability boundary; the WebAuthn ceremony itself is supplied by the
// embedding deployment, consumed only through this interface.
type FIDO2LoginHandler struct{}

// Type implements journey.StepHandler.
func (*FIDO2LoginHandler) Type() string { return FIDO2LoginType }

// Execute implements journey.StepHandler.
func (h *FIDO2LoginHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, _ model.PolicyStep) (*journey.StepResult, error) {
	verifier := ec.Services().FIDO2
	if verifier == nil {
		return journey.Fail("server_error", "fido2_login: no FIDO2 verifier configured"), nil
	}
	userID := ec.UserID()
	if userID == "" {
		userID = ec.DataString("fido2_login_user_id")
	}
	if userID == "" {
		userID = ec.InputString("username")
		if userID == "" {
			return journey.ShowUI("fido2_login_identify", nil), nil
		}
	}

	// The challenge turn and the assertion-submission turn both post to
	// the same step, so the two are told apart by whether a challenge
	// has already been issued for this userID, not by UserInput's shape.
	if ec.DataString("fido2_login_user_id") != userID {
		ec.Data()["fido2_login_user_id"] = userID
		challenge, err := verifier.BeginAssertion(ctx, ec.TenantID(), userID)
		if err != nil {
			return nil, err
		}
		return journey.ShowUI("fido2_login_challenge", challenge), nil
	}

	assertion := ec.InputString("assertion")
	if assertion == "" {
		challenge, err := verifier.BeginAssertion(ctx, ec.TenantID(), userID)
		if err != nil {
			return nil, err
		}
		return journey.ShowUI("fido2_login_challenge", challenge), nil
	}
	ok, err := verifier.VerifyAssertion(ctx, ec.TenantID(), userID, ec.UserInput())
	if err != nil {
		return nil, err
	}
	if !ok {
		return journey.ShowUI("fido2_login_challenge", map[string]any{"error": "invalid_assertion"}), nil
	}
	delete(ec.Data(), "fido2_login_user_id")
	ec.SetAuthenticated(userID, "fido2")
	return journey.Success(nil), nil
}

// FIDO2RegisterHandler enrolls a new WebAuthn credential for an
// already-established user, e.g. as a step following local_login in a
// security-key-enrollment policy.
type FIDO2RegisterHandler struct{}

// Type implements journey.StepHandler.
func (*FIDO2RegisterHandler) Type() string { return FIDO2RegisterType }

// Execute implements journey.StepHandler.
func (h *FIDO2RegisterHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, _ model.PolicyStep) (*journey.StepResult, error) {
	verifier := ec.Services().FIDO2
	if verifier == nil {
		return journey.Fail("server_error", "fido2_register: no FIDO2 verifier configured"), nil
	}
	if ec.UserID() == "" {
		return journey.Fail("invalid_request", "fido2_register: no user established yet"), nil
	}

	response := ec.UserInput()
	if len(response) == 0 {
		options, err := verifier.BeginRegistration(ctx, ec.TenantID(), ec.UserID())
		if err != nil {
			return nil, err
		}
		return journey.ShowUI("fido2_register_challenge", options), nil
	}
	ok, err := verifier.FinishRegistration(ctx, ec.TenantID(), ec.UserID(), response)
	if err != nil {
		return nil, err
	}
	if !ok {
		return journey.ShowUI("fido2_register_challenge", map[string]any{"error": "invalid_attestation"}), nil
	}
	return journey.Success(nil), nil
}
