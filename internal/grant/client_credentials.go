package grant

import (
	"context"
	"fmt"
	"time"
)

// identityOnlyScopes are never granted to a client acting on its own
// behalf: there is no end user to authenticate or to keep signed in.
var identityOnlyScopes = map[string]bool{
	"openid":         true,
	"offline_access": true,
}

// ClientCredentialsGrantType is the RFC 6749 §4.4 grant type string.
const ClientCredentialsGrantType = "client_credentials"

// ClientCredentialsHandler issues an access token to a confidential
// client acting on its own behalf. No refresh token or ID token is
// issued (there is no end user subject).
type ClientCredentialsHandler struct {
	Issuer *Issuer
	Now    func() time.Time
}

// GrantType implements GrantHandler.
func (h *ClientCredentialsHandler) GrantType() string { return ClientCredentialsGrantType }

// Handle implements GrantHandler.
func (h *ClientCredentialsHandler) Handle(_ context.Context, req *Request) (*Result, error) {
	for _, s := range req.RequestedScope {
		if identityOnlyScopes[s] {
			return nil, fmt.Errorf("grant: client_credentials: scope %q requires an end-user subject: invalid_scope", s)
		}
	}

	scopes, err := resolveScopes(req.Client, req.RequestedScope)
	if err != nil {
		return nil, err
	}
	if len(req.RequestedScope) == 0 {
		filtered := scopes[:0:0]
		for _, s := range scopes {
			if !identityOnlyScopes[s] {
				filtered = append(filtered, s)
			}
		}
		scopes = filtered
	}

	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}

	accessToken, expiresAt, err := h.Issuer.AccessToken(req.TenantID, req.Client.ID, req.Client.ID, scopes, req.Client.AccessTokenLifetime, req.DPoPThumbprint)
	if err != nil {
		return nil, err
	}

	return &Result{
		AccessToken: accessToken,
		TokenType:   tokenType(req.DPoPThumbprint),
		ExpiresIn:   expiresAt.Sub(now),
		Scopes:      scopes,
	}, nil
}
