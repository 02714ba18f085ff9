package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

// CIBAGrantType is the OpenID Connect CIBA grant type string.
const CIBAGrantType = "urn:openid:params:grant-type:ciba"

// CIBAHandler services backchannel-authentication polling. A CIBA
// auth_req_id is structurally identical to a device_code's poll/claim
// lifecycle (pending -> authorized/denied, one-shot claim), so it is
// persisted through the same DeviceCodeStore with DeviceCode holding
// the auth_req_id and UserCode left empty.
type CIBAHandler struct {
	Requests store.DeviceCodeStore
	Issuer   *Issuer
	Now      func() time.Time
}

// GrantType implements GrantHandler.
func (h *CIBAHandler) GrantType() string { return CIBAGrantType }

// Handle implements GrantHandler.
func (h *CIBAHandler) Handle(ctx context.Context, req *Request) (*Result, error) {
	authReqID := req.Form.Get("auth_req_id")
	if authReqID == "" {
		return nil, fmt.Errorf("grant: ciba: missing auth_req_id")
	}

	d, err := h.Requests.GetDeviceCode(ctx, req.TenantID, authReqID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("grant: ciba: unknown auth_req_id")
		}
		return nil, err
	}

	now := h.now()
	if d.IsExpired(now) {
		return nil, fmt.Errorf("grant: ciba: expired_token")
	}
	if !d.LastPolledAt.IsZero() && now.Before(d.LastPolledAt.Add(d.PollInterval)) {
		return nil, fmt.Errorf("grant: ciba: slow_down")
	}
	d.LastPolledAt = now
	if err := h.Requests.UpdateDeviceCode(ctx, d); err != nil {
		return nil, err
	}

	switch d.Status {
	case model.DeviceCodePending:
		return nil, fmt.Errorf("grant: ciba: authorization_pending")
	case model.DeviceCodeDenied:
		return nil, fmt.Errorf("grant: ciba: access_denied")
	case model.DeviceCodeAuthorized:
	default:
		return nil, fmt.Errorf("grant: ciba: unexpected status %q", d.Status)
	}

	claimed, alreadyClaimed, err := h.Requests.ClaimDeviceCode(ctx, req.TenantID, authReqID)
	if err != nil {
		return nil, err
	}
	if alreadyClaimed {
		return nil, fmt.Errorf("grant: ciba: already claimed by a concurrent poll")
	}

	accessToken, expiresAt, err := h.Issuer.AccessToken(req.TenantID, req.Client.ID, claimed.SubjectID, claimed.Scopes, req.Client.AccessTokenLifetime, req.DPoPThumbprint)
	if err != nil {
		return nil, err
	}

	res := &Result{
		AccessToken: accessToken,
		TokenType:   tokenType(req.DPoPThumbprint),
		ExpiresIn:   expiresAt.Sub(now),
		Scopes:      claimed.Scopes,
	}

	if hasScope(claimed.Scopes, "openid") {
		idToken, err := h.Issuer.IDToken(req.TenantID, req.Client.ID, claimed.SubjectID, nil, req.Client.IDTokenLifetime, "")
		if err != nil {
			return nil, err
		}
		res.IDToken = idToken
	}

	return res, nil
}

func (h *CIBAHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
