// Package grant implements the token endpoint's grant pipeline: one
// GrantHandler per supported grant_type, dispatched by a registry.
// The registry covers grants fosite's own TokenEndpointHandler
// pipeline does not ship
// (device_code, password, CIBA, token_exchange) alongside the ones it
// does, while keeping fosite's Arguments/error vocabulary for scope and
// grant-type set membership checks.
package grant

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/oautherr"
)

// Request is a single token-endpoint request routed to a GrantHandler.
type Request struct {
	TenantID       string
	Client         *model.Client
	GrantType      string
	RequestedScope []string
	Form           url.Values
	DPoPThumbprint string // empty unless the request carried a validated DPoP proof
}

// Result is the outcome of a successful grant, ready for the token
// endpoint to render as a JSON response.
type Result struct {
	AccessToken  string
	TokenType    string // "Bearer" or "DPoP"
	ExpiresIn    time.Duration
	RefreshToken string
	IDToken      string
	Scopes       []string
	Claims       model.Claims
}

// GrantHandler implements a single grant_type.
type GrantHandler interface {
	GrantType() string
	Handle(ctx context.Context, req *Request) (*Result, error)
}

// Registry dispatches a token request to the handler registered for its
// grant_type. It is immutable after construction: handlers are supplied
// once to NewRegistry and never added afterward, so a running server's
// supported grant set cannot change out from under a request in flight.
type Registry struct {
	handlers map[string]GrantHandler
}

// NewRegistry builds a Registry from a fixed set of handlers.
func NewRegistry(handlers ...GrantHandler) *Registry {
	m := make(map[string]GrantHandler, len(handlers))
	for _, h := range handlers {
		m[h.GrantType()] = h
	}
	return &Registry{handlers: m}
}

// Lookup returns the handler registered for grantType, or false if none
// is registered.
func (r *Registry) Lookup(grantType string) (GrantHandler, bool) {
	h, ok := r.handlers[grantType]
	return h, ok
}

// Dispatch routes req to its grant's handler.
func (r *Registry) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	h, ok := r.handlers[req.GrantType]
	if !ok {
		return nil, fmt.Errorf("grant: unsupported grant_type %q", req.GrantType)
	}
	if !req.Client.AllowsGrantType(req.GrantType) {
		return nil, fmt.Errorf("grant: client %s is not allowed grant_type %q", req.Client.ID, req.GrantType)
	}
	return h.Handle(ctx, req)
}

// resolveScopes narrows requested against the client's allowed scopes,
// falling back to the full allowed set when none were explicitly
// requested.
func resolveScopes(client *model.Client, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return append([]string(nil), client.AllowedScopes...), nil
	}
	out := make([]string, 0, len(requested))
	for _, s := range requested {
		if !client.AllowsScope(s) {
			return nil, oautherr.New(oautherr.InvalidScope,
				fmt.Sprintf("grant: scope %q not allowed for client %s", s, client.ID), false)
		}
		out = append(out, s)
	}
	return out, nil
}

// profileClaims rebuilds a claims snapshot from a user's current
// attributes, filtered down to the granted scopes.
func profileClaims(u *model.User, scopes []string) model.Claims {
	claims := model.Claims{}
	if hasScope(scopes, "profile") {
		claims["preferred_username"] = u.Username
		if len(u.Roles) > 0 {
			claims["roles"] = append([]string(nil), u.Roles...)
		}
	}
	if hasScope(scopes, "email") {
		claims["email"] = u.Email
		claims["email_verified"] = u.EmailVerified
	}
	return claims
}
