package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/meridianid/authserver/internal/oautherr"
	"github.com/meridianid/authserver/internal/obs/log"
)

// errUnknownOutcome guards against an Outcome.Kind this package does not
// yet branch on; it should never be reachable in practice.
var errUnknownOutcome = errors.New("httpapi: unhandled outcome kind")

// oauthErrorBody is the standard JSON shape for every non-redirected
// OAuth/OIDC error response.
type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// writeOAuthError renders e as a JSON error response with its
// conventional HTTP status.
func writeOAuthError(w http.ResponseWriter, e *oautherr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(oauthErrorBody{Error: string(e.Code), ErrorDescription: e.Description})
}

// writeServerError logs the cause and renders a generic server_error,
// never leaking internal details onto the wire.
func writeServerError(w http.ResponseWriter, context string, err error) {
	log.Errorw("httpapi: internal error", "context", context, "error", err)
	writeOAuthError(w, oautherr.New(oautherr.ServerError, "an internal error occurred", false))
}

// grantCodes is the set of standard token-endpoint error strings a
// GrantHandler may embed as the trailing token of its plain error
// message (grant handlers return ordinary errors, not *oautherr.Error,
// carried as Go error values rather than a dedicated sum type).
var grantCodes = map[string]oautherr.Code{
	"authorization_pending": oautherr.AuthorizationPending,
	"slow_down":             oautherr.SlowDown,
	"expired_token":         oautherr.ExpiredToken,
	"access_denied":         oautherr.AccessDenied,
	"invalid_scope":         oautherr.InvalidScope,
}

// classifyGrantError maps a grant handler's error to a wire-level OAuth
// error code. Handlers that already know their precise wire code
// return a *oautherr.Error directly (e.g. scope-narrowing failures),
// which is passed through unchanged; everything else is a plain error
// whose handful of standard token-endpoint codes are recognized by
// their trailing suffix, falling back to the catch-all invalid_grant
// per RFC 6749 §5.2; replay detection always resolves to
// invalid_grant.
func classifyGrantError(err error) *oautherr.Error {
	var oe *oautherr.Error
	if errors.As(err, &oe) {
		return oe
	}
	msg := err.Error()
	for suffix, code := range grantCodes {
		if strings.HasSuffix(msg, suffix) {
			return oautherr.New(code, msg, false)
		}
	}
	return oautherr.New(oautherr.InvalidGrant, msg, false)
}
