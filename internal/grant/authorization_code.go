package grant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meridianid/authserver/internal/accesspolicy"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/pkce"
	"github.com/meridianid/authserver/internal/store"
)

// AuthorizationCodeGrantType is the RFC 6749 §4.1.3 grant type string.
const AuthorizationCodeGrantType = "authorization_code"

// AuthorizationCodeHandler exchanges a one-time authorization code for
// tokens, detecting code replay and revoking the associated refresh
// token family on reuse.
type AuthorizationCodeHandler struct {
	Codes   store.AuthCodeStore
	Refresh store.RefreshGrantStore
	Users   store.UserStore
	Access  *accesspolicy.Evaluator
	Issuer  *Issuer
	Now     func() time.Time
}

// GrantType implements GrantHandler.
func (h *AuthorizationCodeHandler) GrantType() string { return AuthorizationCodeGrantType }

// Handle implements GrantHandler.
func (h *AuthorizationCodeHandler) Handle(ctx context.Context, req *Request) (*Result, error) {
	code := req.Form.Get("code")
	if code == "" {
		return nil, fmt.Errorf("grant: authorization_code: missing code")
	}

	ac, alreadyConsumed, err := h.Codes.ConsumeAuthCode(ctx, req.TenantID, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("grant: authorization_code: unknown code")
		}
		return nil, err
	}

	now := h.now()

	if alreadyConsumed {
		// Replay of a spent code: revoke the entire refresh-token family
		// this code's session produced.
		_ = h.Refresh.RevokeFamily(ctx, model.FamilyKey{
			TenantID:  req.TenantID,
			SubjectID: ac.SubjectID,
			ClientID:  ac.ClientID,
			SessionID: ac.SessionID,
		})
		return nil, fmt.Errorf("grant: authorization_code: code already used")
	}

	if ac.ClientID != req.Client.ID {
		return nil, fmt.Errorf("grant: authorization_code: client mismatch")
	}
	if ac.IsExpired(now) {
		return nil, fmt.Errorf("grant: authorization_code: code expired")
	}
	redirectURI := req.Form.Get("redirect_uri")
	if ac.RedirectURI != redirectURI {
		return nil, fmt.Errorf("grant: authorization_code: redirect_uri mismatch")
	}

	u, err := h.Users.GetUser(ctx, req.TenantID, ac.SubjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("grant: authorization_code: user not found")
		}
		return nil, err
	}
	if !u.Active {
		return nil, fmt.Errorf("grant: authorization_code: account inactive")
	}
	allowed, err := h.Access.Allowed(req.Client, u.SubjectID, u.Roles)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("grant: authorization_code: user not permitted for this client")
	}

	if err := h.verifyPKCE(ac, req); err != nil {
		return nil, err
	}

	scopes := ac.Scopes
	accessToken, expiresAt, err := h.Issuer.AccessToken(req.TenantID, req.Client.ID, ac.SubjectID, scopes, req.Client.AccessTokenLifetime, req.DPoPThumbprint)
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
		idToken, err := h.Issuer.IDToken(req.TenantID, req.Client.ID, ac.SubjectID, ac.Claims, req.Client.IDTokenLifetime, ac.Nonce)
		if err != nil {
			return nil, err
		}
		res.IDToken = idToken
	}

	if hasScope(scopes, "offline_access") {
		rg := &model.RefreshGrant{
			TenantID:      req.TenantID,
			Token:         RefreshToken(),
			ClientID:      req.Client.ID,
			SubjectID:     ac.SubjectID,
			SessionID:     ac.SessionID,
			Scopes:        scopes,
			Claims:        ac.Claims,
			CreatedAt:     now,
			LastUsedAt:    now,
			Usage:         req.Client.RefreshTokenUsage,
			Expiration:    req.Client.RefreshTokenExpiration,
			SlidingWindow: req.Client.RefreshSlidingLifetime,
			AbsoluteExpAt: now.Add(req.Client.RefreshAbsoluteLifetime),
		}
		if err := h.Refresh.PutRefreshGrant(ctx, rg); err != nil {
			return nil, err
		}
		res.RefreshToken = rg.Token
	}

	return res, nil
}

func (h *AuthorizationCodeHandler) verifyPKCE(ac *model.AuthorizationCode, req *Request) error {
	verifier := req.Form.Get("code_verifier")
	if ac.CodeChallenge == "" {
		if req.Client.PKCERequired {
			return fmt.Errorf("grant: authorization_code: pkce required but no challenge was recorded")
		}
		return nil
	}
	if !pkce.ValidVerifierLength(verifier) {
		return fmt.Errorf("grant: authorization_code: invalid code_verifier length")
	}
	if !pkce.Verify(verifier, ac.CodeChallenge, ac.CodeChallengeMethod, req.Client.PKCEPlainAllowed) {
		return fmt.Errorf("grant: authorization_code: pkce verification failed")
	}
	return nil
}

func (h *AuthorizationCodeHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func tokenType(dpopThumbprint string) string {
	if dpopThumbprint != "" {
		return "DPoP"
	}
	return "Bearer"
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

func splitScopeParam(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}
