package step

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
	"github.com/meridianid/authserver/internal/webhook"
)

// PasswordResetType is the "password_reset" step type.
const PasswordResetType = "password_reset"

// phases of the password_reset step's multi-turn flow:
// request -> email code -> verify -> new-password.
const (
	resetPhaseRequest = "request"
	resetPhaseVerify  = "verify"
	resetPhaseNew     = "new_password"
)

// PasswordResetHandler drives the self-service password reset flow,
// reusing the mfa step's hashed-code challenge shape for the emailed
// verification code.
type PasswordResetHandler struct {
	Users store.UserStore
}

// Type implements journey.StepHandler.
func (*PasswordResetHandler) Type() string { return PasswordResetType }

// Execute implements journey.StepHandler.
func (h *PasswordResetHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	codeHash, _ := ec.Data()["reset_code_hash"].(string)
	expiresUnix, _ := ec.Data()["reset_code_expires"].(int64)

	switch {
	case codeHash == "":
		return h.request(ctx, ec)
	case ec.Data()["reset_verified"] != true:
		return h.verify(ec, codeHash, expiresUnix)
	default:
		return h.setNewPassword(ctx, ec, step)
	}
}

func (h *PasswordResetHandler) request(ctx context.Context, ec *journey.StepExecutionContext) (*journey.StepResult, error) {
	identifier := ec.InputString("username")
	if identifier == "" {
		identifier = ec.DataString("username")
	}
	if identifier == "" {
		return journey.ShowUI("password_reset_request", nil), nil
	}

	sender := ec.Services().Email
	u, err := h.Users.GetUserByUsername(ctx, ec.TenantID(), identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Never disclose whether the account exists.
			return journey.ShowUI("password_reset_verify", nil), nil
		}
		return nil, err
	}
	ec.Data()["username"] = identifier
	ec.Data()["reset_user_id"] = u.SubjectID

	if u.Email == "" || sender == nil {
		return journey.ShowUI("password_reset_verify", nil), nil
	}
	code, err := generateOTPCode()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(code))
	ec.Data()["reset_code_hash"] = hex.EncodeToString(sum[:])
	ec.Data()["reset_code_expires"] = ec.Now().Add(OTPValidity).Unix()
	if err := sender.Send(ctx, u.Email, "Reset your password", "Your reset code is "+code); err != nil {
		return nil, fmt.Errorf("step: password_reset: sending code: %w", err)
	}
	return journey.ShowUI("password_reset_verify", nil), nil
}

func (h *PasswordResetHandler) verify(ec *journey.StepExecutionContext, codeHash string, expiresUnix int64) (*journey.StepResult, error) {
	submitted := ec.InputString("code")
	if submitted == "" {
		return journey.ShowUI("password_reset_verify", nil), nil
	}
	if ec.Now().Unix() > expiresUnix {
		return journey.ShowUI("password_reset_verify", map[string]any{"error": "code_expired"}), nil
	}
	sum := sha256.Sum256([]byte(submitted))
	if subtle.ConstantTimeCompare(sum[:], mustHex(codeHash)) != 1 {
		return journey.ShowUI("password_reset_verify", map[string]any{"error": "invalid_code"}), nil
	}
	ec.Data()["reset_verified"] = true
	return journey.ShowUI("password_reset_new_password", nil), nil
}

func (h *PasswordResetHandler) setNewPassword(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	password := ec.InputString("password")
	minLength := intOf(step.Config["minLength"])
	if minLength == 0 {
		minLength = 8
	}
	if len(password) < minLength {
		return journey.ShowUI("password_reset_new_password", map[string]any{"error": "too_short", "minLength": minLength}), nil
	}

	userID, _ := ec.Data()["reset_user_id"].(string)
	if userID == "" {
		return journey.Fail("invalid_request", "password_reset: no user resolved during request phase"), nil
	}
	u, err := h.Users.GetUser(ctx, ec.TenantID(), userID)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("step: password_reset: hashing password: %w", err)
	}
	u.PasswordHash = hash
	u.FailedAttempts = 0
	if err := h.Users.PutUser(ctx, u); err != nil {
		return nil, err
	}

	delete(ec.Data(), "reset_code_hash")
	delete(ec.Data(), "reset_code_expires")
	delete(ec.Data(), "reset_verified")
	raiseEvent(ctx, ec.Services().Events, ec.TenantID(), webhook.EventTokenRevoked, map[string]any{
		"subject_id": u.SubjectID, "reason": "password_reset",
	})
	return journey.Success(map[string]any{"subject_id": u.SubjectID}), nil
}
