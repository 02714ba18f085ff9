package step

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

// PasswordlessEmailType is the "passwordless_email" step type.
const PasswordlessEmailType = "passwordless_email"

// PasswordlessSMSType is the "passwordless_sms" step type.
const PasswordlessSMSType = "passwordless_sms"

// PasswordlessHandler authenticates a user by a one-time code delivered
// to their email or phone, without a password, reusing the mfa step's
// generate-store-send-verify shape
// but establishing the principal itself rather than challenging an
// already-established one.
type PasswordlessHandler struct {
	Users store.UserStore
	SMS   bool // true registers this instance under PasswordlessSMSType
}

// Type implements journey.StepHandler.
func (h *PasswordlessHandler) Type() string {
	if h.SMS {
		return PasswordlessSMSType
	}
	return PasswordlessEmailType
}

// Execute implements journey.StepHandler.
func (h *PasswordlessHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, _ model.PolicyStep) (*journey.StepResult, error) {
	identifier := ec.DataString("passwordless_identifier")
	if identifier == "" {
		identifier = ec.InputString("identifier")
		if identifier == "" {
			field := "email"
			if h.SMS {
				field = "phone"
			}
			return journey.ShowUI("passwordless_identifier", map[string]any{"field": field}), nil
		}
	}

	u, err := h.Users.GetUserByUsername(ctx, ec.TenantID(), identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Never disclose whether the identifier exists.
			return journey.ShowUI("passwordless_sent", nil), nil
		}
		return nil, err
	}
	if !u.Active {
		return journey.Fail("access_denied", "account is inactive"), nil
	}

	sender := ec.Services().Email
	to := u.Email
	if h.SMS {
		sender = ec.Services().SMS
		to = u.Phone
	}

	ec.Data()["passwordless_identifier"] = identifier
	codeHash, _ := ec.Data()["passwordless_code_hash"].(string)
	expiresUnix, _ := ec.Data()["passwordless_code_expires"].(int64)

	submitted := ec.InputString("code")
	if codeHash == "" || ec.Now().Unix() > expiresUnix {
		if sender == nil {
			return journey.Fail("server_error", "passwordless: no sender configured"), nil
		}
		if to == "" {
			return journey.Fail("invalid_request", "passwordless: user has no destination configured"), nil
		}
		code, err := generateOTPCode()
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256([]byte(code))
		ec.Data()["passwordless_code_hash"] = hex.EncodeToString(sum[:])
		ec.Data()["passwordless_code_expires"] = ec.Now().Add(OTPValidity).Unix()
		ec.Data()["passwordless_subject_id"] = u.SubjectID
		if err := sender.Send(ctx, to, "Your sign-in code", "Your code is "+code); err != nil {
			return nil, err
		}
		return journey.ShowUI("passwordless_challenge", nil), nil
	}

	if submitted == "" {
		return journey.ShowUI("passwordless_challenge", nil), nil
	}
	sum := sha256.Sum256([]byte(submitted))
	if subtle.ConstantTimeCompare(sum[:], mustHex(codeHash)) != 1 {
		return journey.ShowUI("passwordless_challenge", map[string]any{"error": "invalid_code"}), nil
	}
	delete(ec.Data(), "passwordless_code_hash")
	delete(ec.Data(), "passwordless_code_expires")
	delete(ec.Data(), "passwordless_identifier")

	method := "email_otp"
	if h.SMS {
		method = "sms_otp"
	}
	ec.SetAuthenticated(u.SubjectID, method)
	return journey.Success(map[string]any{"email": u.Email}), nil
}
