// Package oautherr defines the wire-level OAuth 2.0 / OIDC error
// taxonomy: the standard error codes, which ones are safe to redirect to
// an already-validated redirect_uri, and the HTTP status each maps to.
package oautherr

import "net/http"

// Code is a standard OAuth2/OIDC error string as carried over the wire.
type Code string

// Standard error codes used across the authorize and token endpoints.
const (
	InvalidRequest          Code = "invalid_request"
	InvalidClient           Code = "invalid_client"
	InvalidGrant            Code = "invalid_grant"
	InvalidScope            Code = "invalid_scope"
	UnauthorizedClient      Code = "unauthorized_client"
	UnsupportedGrantType    Code = "unsupported_grant_type"
	UnsupportedResponseType Code = "unsupported_response_type"
	AccessDenied            Code = "access_denied"
	LoginRequired           Code = "login_required"
	ConsentRequired         Code = "consent_required"
	InteractionRequired     Code = "interaction_required"
	AccountSelectionReq     Code = "account_selection_required"
	TemporarilyUnavailable  Code = "temporarily_unavailable"
	ServerError             Code = "server_error"
	AuthorizationPending    Code = "authorization_pending"
	SlowDown                Code = "slow_down"
	ExpiredToken            Code = "expired_token"
)

// redirectSafe is the whitelist of error codes that may be redirected to a
// validated redirect_uri (RFC 6749 §4.1.2.1). Every other code is either a
// token-endpoint-only JSON error or must render on the server's own error
// page.
var redirectSafe = map[Code]bool{
	AccessDenied:            true,
	LoginRequired:           true,
	ConsentRequired:         true,
	InteractionRequired:     true,
	AccountSelectionReq:     true,
	InvalidRequest:          true,
	UnauthorizedClient:      true,
	UnsupportedResponseType: true,
	InvalidScope:            true,
	TemporarilyUnavailable:  true,
}

// IsRedirectSafe reports whether code is allowed in a 302 redirect to a
// redirect_uri that has already been validated. It is the caller's
// responsibility to additionally confirm redirect_uri was validated; an
// error is "safe to redirect" only when both conditions hold.
func IsRedirectSafe(c Code) bool {
	return redirectSafe[c]
}

// Error is a wire-facing OAuth/OIDC error.
type Error struct {
	Code        Code
	Description string
	// RedirectURIValidated records whether the request's redirect_uri had
	// already passed validation when this error occurred. An error may
	// only be redirected when both RedirectURIValidated and
	// IsRedirectSafe(Code) are true.
	RedirectURIValidated bool
}

// New constructs an Error.
func New(code Code, description string, redirectURIValidated bool) *Error {
	return &Error{Code: code, Description: description, RedirectURIValidated: redirectURIValidated}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Description
}

// CanRedirect reports whether this error may be delivered as a 302 to the
// request's redirect_uri: only whitelisted codes with a validated
// redirect_uri may leave the server as a 302.
func (e *Error) CanRedirect() bool {
	return e.RedirectURIValidated && IsRedirectSafe(e.Code)
}

// HTTPStatus returns the conventional HTTP status code for a JSON (i.e.
// non-redirected) rendering of this error.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case InvalidClient:
		return http.StatusUnauthorized
	case InvalidGrant, InvalidScope, InvalidRequest, UnsupportedGrantType,
		UnauthorizedClient, UnsupportedResponseType, AccessDenied,
		AuthorizationPending, SlowDown, ExpiredToken:
		return http.StatusBadRequest
	case ServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
