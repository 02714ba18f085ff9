package grant

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianid/authserver/internal/model"
)

// TokenExchangeGrantType is the RFC 8693 §2.1 grant type string.
const TokenExchangeGrantType = "urn:ietf:params:oauth:grant-type:token-exchange"

const accessTokenType = "urn:ietf:params:oauth:token-type:access_token"

// TokenExchangeHandler implements RFC 8693 token exchange: a client
// presents a subject_token (and optionally an actor_token) issued by
// this server and receives a new, possibly narrower-scoped, token. When
// an actor_token is present the resulting token carries an "act" claim
// recording the delegation chain (RFC 8693).
type TokenExchangeHandler struct {
	Issuer *Issuer
	Now    func() time.Time
}

// GrantType implements GrantHandler.
func (h *TokenExchangeHandler) GrantType() string { return TokenExchangeGrantType }

// Handle implements GrantHandler.
func (h *TokenExchangeHandler) Handle(ctx context.Context, req *Request) (*Result, error) {
	subjectToken := req.Form.Get("subject_token")
	subjectTokenType := req.Form.Get("subject_token_type")
	if subjectToken == "" {
		return nil, fmt.Errorf("grant: token_exchange: missing subject_token")
	}
	if subjectTokenType != "" && subjectTokenType != accessTokenType {
		return nil, fmt.Errorf("grant: token_exchange: unsupported subject_token_type %q", subjectTokenType)
	}

	subject, err := h.Issuer.VerifySubjectToken(ctx, subjectToken)
	if err != nil {
		return nil, fmt.Errorf("grant: token_exchange: invalid subject_token: %w", err)
	}

	now := h.now()
	if now.After(subject.Expiry) {
		return nil, fmt.Errorf("grant: token_exchange: subject_token expired")
	}

	scopes, err := narrowScopes(subject.Scopes, splitScopeParam(req.Form.Get("scope")))
	if err != nil {
		return nil, err
	}

	// actClaim carries the delegation chain: when
	// the actor token itself already carries an "act" claim, the new
	// actor is prepended so the chain grows outward from the innermost
	// (original) actor, per RFC 8693 §4.1.
	var actClaim map[string]any
	if actorToken := req.Form.Get("actor_token"); actorToken != "" {
		actor, err := h.Issuer.VerifySubjectToken(ctx, actorToken)
		if err != nil {
			return nil, fmt.Errorf("grant: token_exchange: invalid actor_token: %w", err)
		}
		actClaim = map[string]any{"sub": actor.Subject, "client_id": actor.ClientID}
		if actor.ActClaim != nil {
			actClaim["act"] = actor.ActClaim
		}
	}

	var extra model.Claims
	if actClaim != nil {
		extra = model.Claims{"act": actClaim}
	}
	accessToken, expiresAt, err := h.Issuer.AccessToken(req.TenantID, req.Client.ID, subject.Subject, scopes, req.Client.AccessTokenLifetime, req.DPoPThumbprint, extra)
	if err != nil {
		return nil, err
	}

	res := &Result{
		AccessToken: accessToken,
		TokenType:   tokenType(req.DPoPThumbprint),
		ExpiresIn:   expiresAt.Sub(now),
		Scopes:      scopes,
	}
	if actClaim != nil {
		res.Claims = model.Claims{"act": actClaim}
	}
	return res, nil
}

func (h *TokenExchangeHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
