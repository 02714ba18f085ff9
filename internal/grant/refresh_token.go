package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridianid/authserver/internal/accesspolicy"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/oautherr"
	"github.com/meridianid/authserver/internal/store"
)

// RefreshTokenGrantType is the RFC 6749 §6 grant type string.
const RefreshTokenGrantType = "refresh_token"

// RefreshTokenHandler exchanges a refresh token for a new access token,
// honoring the client's OneTimeOnly/ReUse and Absolute/Sliding
// configuration and revoking the token family on reuse detection.
type RefreshTokenHandler struct {
	Refresh store.RefreshGrantStore
	Users   store.UserStore
	Access  *accesspolicy.Evaluator
	Issuer  *Issuer
	Now     func() time.Time
}

// GrantType implements GrantHandler.
func (h *RefreshTokenHandler) GrantType() string { return RefreshTokenGrantType }

// Handle implements GrantHandler.
func (h *RefreshTokenHandler) Handle(ctx context.Context, req *Request) (*Result, error) {
	token := req.Form.Get("refresh_token")
	if token == "" {
		return nil, fmt.Errorf("grant: refresh_token: missing refresh_token")
	}

	rg, alreadyConsumed, err := h.Refresh.ConsumeRefreshGrant(ctx, req.TenantID, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("grant: refresh_token: unknown token")
		}
		return nil, err
	}

	now := h.now()

	if alreadyConsumed {
		_ = h.Refresh.RevokeFamily(ctx, model.FamilyKey{
			TenantID:  req.TenantID,
			SubjectID: rg.SubjectID,
			ClientID:  rg.ClientID,
			SessionID: rg.SessionID,
		})
		return nil, fmt.Errorf("grant: refresh_token: token reuse detected")
	}

	if rg.ClientID != req.Client.ID {
		return nil, fmt.Errorf("grant: refresh_token: client mismatch")
	}
	if rg.IsExpired(now) {
		return nil, fmt.Errorf("grant: refresh_token: grant expired")
	}
	if rg.Expiration == model.ExpirationSliding && !rg.LastUsedAt.IsZero() &&
		now.After(rg.LastUsedAt.Add(rg.SlidingWindow)) {
		return nil, fmt.Errorf("grant: refresh_token: sliding window elapsed")
	}

	u, err := h.Users.GetUser(ctx, req.TenantID, rg.SubjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("grant: refresh_token: user not found")
		}
		return nil, err
	}
	if !u.Active {
		return nil, fmt.Errorf("grant: refresh_token: account inactive")
	}
	allowed, err := h.Access.Allowed(req.Client, u.SubjectID, u.Roles)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("grant: refresh_token: user not permitted for this client")
	}

	scopes, err := narrowScopes(rg.Scopes, splitScopeParam(req.Form.Get("scope")))
	if err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := h.Issuer.AccessToken(req.TenantID, req.Client.ID, rg.SubjectID, scopes, req.Client.AccessTokenLifetime, req.DPoPThumbprint)
	if err != nil {
		return nil, err
	}

	res := &Result{
		AccessToken: accessToken,
		TokenType:   tokenType(req.DPoPThumbprint),
		ExpiresIn:   expiresAt.Sub(now),
		Scopes:      scopes,
	}

	if hasScope(scopes, "openid") {
		claims := rg.Claims
		if req.Client.UpdateClaimsOnRefresh {
			claims = profileClaims(u, scopes)
		}
		idToken, err := h.Issuer.IDToken(req.TenantID, req.Client.ID, rg.SubjectID, claims, req.Client.IDTokenLifetime, "")
		if err != nil {
			return nil, err
		}
		res.IDToken = idToken
	}

	switch rg.Usage {
	case model.UsageOneTimeOnly:
		next := &model.RefreshGrant{
			TenantID:      req.TenantID,
			Token:         RefreshToken(),
			ClientID:      rg.ClientID,
			SubjectID:     rg.SubjectID,
			SessionID:     rg.SessionID,
			Scopes:        scopes,
			Claims:        rg.Claims,
			CreatedAt:     now,
			LastUsedAt:    now,
			Usage:         rg.Usage,
			Expiration:    rg.Expiration,
			SlidingWindow: rg.SlidingWindow,
			AbsoluteExpAt: rg.AbsoluteExpAt,
		}
		if err := h.Refresh.PutRefreshGrant(ctx, next); err != nil {
			return nil, err
		}
		res.RefreshToken = next.Token
	case model.UsageReUse:
		rg.LastUsedAt = now
		rg.ConsumedAt = time.Time{}
		if err := h.Refresh.PutRefreshGrant(ctx, rg); err != nil {
			return nil, err
		}
		res.RefreshToken = rg.Token
	}

	return res, nil
}

func narrowScopes(granted, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return granted, nil
	}
	grantedSet := make(map[string]bool, len(granted))
	for _, s := range granted {
		grantedSet[s] = true
	}
	for _, s := range requested {
		if !grantedSet[s] {
			return nil, oautherr.New(oautherr.InvalidScope,
				fmt.Sprintf("grant: refresh_token: scope %q exceeds originally granted scope", s), false)
		}
	}
	return requested, nil
}

func (h *RefreshTokenHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
