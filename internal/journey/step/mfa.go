package step

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

// MFAType is the "mfa" step type.
const MFAType = "mfa"

// OTPValidity is how long an email/SMS challenge code remains acceptable.
const OTPValidity = 10 * time.Minute

// MFAHandler challenges the user with one of the configured factors.
// TOTP is verified directly against an enrolled secret (pquerna/otp);
// email/SMS issue a short numeric code through the tenant's
// MessageSender, following the same generate-store-send-verify shape as
// the passwordless one-time-code flows; FIDO2 delegates
// entirely to the FIDO2Verifier capability boundary, since FIDO2 is an
// out-of-scope external collaborator.
type MFAHandler struct {
	Users store.UserStore
}

// Type implements journey.StepHandler.
func (*MFAHandler) Type() string { return MFAType }

// Execute implements journey.StepHandler.
func (h *MFAHandler) Execute(ctx context.Context, ec *journey.StepExecutionContext, step model.PolicyStep) (*journey.StepResult, error) {
	methods := stringSlice(step.Config["methods"])
	if len(methods) == 0 {
		methods = []string{"totp"}
	}

	method := ec.DataString("mfa_method")
	if method == "" {
		method = ec.InputString("mfa_method")
	}
	if method == "" {
		if len(methods) == 1 {
			method = methods[0]
		} else {
			return journey.ShowUI("mfa_method_select", map[string]any{"methods": methods}), nil
		}
	}
	if !contains(methods, method) {
		return journey.Fail("invalid_request", "mfa: method not permitted by policy"), nil
	}

	switch method {
	case "totp":
		return h.executeTOTP(ctx, ec, method)
	case "email":
		return h.executeCode(ctx, ec, method, ec.Services().Email)
	case "sms":
		return h.executeCode(ctx, ec, method, ec.Services().SMS)
	case "fido2":
		return h.executeFIDO2(ctx, ec)
	default:
		return journey.Fail("invalid_request", fmt.Sprintf("mfa: unsupported method %q", method)), nil
	}
}

func (h *MFAHandler) executeTOTP(ctx context.Context, ec *journey.StepExecutionContext, method string) (*journey.StepResult, error) {
	if ec.UserID() == "" {
		return journey.Fail("invalid_request", "mfa: no user established yet"), nil
	}
	u, err := h.Users.GetUser(ctx, ec.TenantID(), ec.UserID())
	if err != nil {
		return nil, err
	}
	secret, _ := u.Properties["totp_secret"].(string)

	if secret == "" {
		key, err := totp.Generate(totp.GenerateOpts{Issuer: ec.TenantID(), AccountName: u.Username})
		if err != nil {
			return nil, fmt.Errorf("step: mfa: generating totp key: %w", err)
		}
		if u.Properties == nil {
			u.Properties = map[string]any{}
		}
		u.Properties["totp_secret"] = key.Secret()
		if err := h.Users.PutUser(ctx, u); err != nil {
			return nil, err
		}
		return journey.ShowUI("mfa_totp_enroll", map[string]any{
			"secret": key.Secret(), "url": key.URL(),
		}), nil
	}

	code := ec.InputString("code")
	if code == "" {
		return journey.ShowUI("mfa_totp_challenge", map[string]any{"method": method}), nil
	}
	if !totp.Validate(code, secret) {
		return journey.ShowUI("mfa_totp_challenge", map[string]any{"method": method, "error": "invalid_code"}), nil
	}
	ec.Data()["mfa_method"] = method
	return journey.Success(map[string]any{"amr": "otp"}), nil
}

func (h *MFAHandler) executeCode(ctx context.Context, ec *journey.StepExecutionContext, method string, sender journey.MessageSender) (*journey.StepResult, error) {
	ec.Data()["mfa_method"] = method
	codeHash, _ := ec.Data()["mfa_code_hash"].(string)
	expiresUnix, _ := ec.Data()["mfa_code_expires"].(int64)

	submitted := ec.InputString("code")
	if codeHash == "" || ec.Now().Unix() > expiresUnix {
		if sender == nil {
			return journey.Fail("server_error", "mfa: no sender configured for method "+method), nil
		}
		u, err := userForChallenge(ctx, h.Users, ec)
		if err != nil {
			return nil, err
		}
		to := u.Email
		if method == "sms" {
			to = u.Phone
		}
		if to == "" {
			return journey.Fail("invalid_request", "mfa: user has no destination configured for "+method), nil
		}
		code, err := generateOTPCode()
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256([]byte(code))
		ec.Data()["mfa_code_hash"] = hex.EncodeToString(sum[:])
		ec.Data()["mfa_code_expires"] = ec.Now().Add(OTPValidity).Unix()
		if err := sender.Send(ctx, to, "Your verification code", "Your code is "+code); err != nil {
			return nil, fmt.Errorf("step: mfa: sending %s code: %w", method, err)
		}
		return journey.ShowUI("mfa_code_challenge", map[string]any{"method": method}), nil
	}

	if submitted == "" {
		return journey.ShowUI("mfa_code_challenge", map[string]any{"method": method}), nil
	}
	sum := sha256.Sum256([]byte(submitted))
	if subtle.ConstantTimeCompare(sum[:], mustHex(codeHash)) != 1 {
		return journey.ShowUI("mfa_code_challenge", map[string]any{"method": method, "error": "invalid_code"}), nil
	}
	delete(ec.Data(), "mfa_code_hash")
	delete(ec.Data(), "mfa_code_expires")
	return journey.Success(map[string]any{"amr": "otp"}), nil
}

func (h *MFAHandler) executeFIDO2(ctx context.Context, ec *journey.StepExecutionContext) (*journey.StepResult, error) {
	verifier := ec.Services().FIDO2
	if verifier == nil {
		return journey.Fail("server_error", "mfa: no FIDO2 verifier configured"), nil
	}
	response := ec.UserInput()
	if len(response) == 0 {
		challenge, err := verifier.BeginAssertion(ctx, ec.TenantID(), ec.UserID())
		if err != nil {
			return nil, err
		}
		return journey.ShowUI("mfa_fido2_challenge", challenge), nil
	}
	ok, err := verifier.VerifyAssertion(ctx, ec.TenantID(), ec.UserID(), response)
	if err != nil {
		return nil, err
	}
	if !ok {
		return journey.ShowUI("mfa_fido2_challenge", map[string]any{"error": "invalid_assertion"}), nil
	}
	ec.Data()["mfa_method"] = "fido2"
	return journey.Success(map[string]any{"amr": "fido2"}), nil
}

func userForChallenge(ctx context.Context, users store.UserStore, ec *journey.StepExecutionContext) (*model.User, error) {
	if ec.UserID() == "" {
		return nil, fmt.Errorf("step: mfa: no user established yet")
	}
	return users.GetUser(ctx, ec.TenantID(), ec.UserID())
}

func generateOTPCode() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("mfa: generating code: %w", err)
	}
	n := (uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])) % 1_000_000
	return fmt.Sprintf("%06d", n), nil
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func stringSlice(raw any) []string {
	list, _ := raw.([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, fmt.Sprint(v))
	}
	return out
}
