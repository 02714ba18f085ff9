package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

// DeviceCodeGrantType is the RFC 8628 §3.4 grant type string.
const DeviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// DeviceCodeHandler services the token-endpoint side of the device
// authorization flow: polling clients exchange a device_code for
// tokens once a user has approved it out of band. Claiming an
// authorized device code is atomic so exactly one concurrent poll
// wins the exchange.
type DeviceCodeHandler struct {
	Devices store.DeviceCodeStore
	Issuer  *Issuer
	Now     func() time.Time
}

// GrantType implements GrantHandler.
func (h *DeviceCodeHandler) GrantType() string { return DeviceCodeGrantType }

// Handle implements GrantHandler.
func (h *DeviceCodeHandler) Handle(ctx context.Context, req *Request) (*Result, error) {
	deviceCode := req.Form.Get("device_code")
	if deviceCode == "" {
		return nil, fmt.Errorf("grant: device_code: missing device_code")
	}

	d, err := h.Devices.GetDeviceCode(ctx, req.TenantID, deviceCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("grant: device_code: unknown device_code")
		}
		return nil, err
	}

	now := h.now()
	if d.IsExpired(now) {
		return nil, fmt.Errorf("grant: device_code: expired_token")
	}
	if !d.LastPolledAt.IsZero() && now.Before(d.LastPolledAt.Add(d.PollInterval)) {
		return nil, fmt.Errorf("grant: device_code: slow_down")
	}
	d.LastPolledAt = now
	if err := h.Devices.UpdateDeviceCode(ctx, d); err != nil {
		return nil, err
	}

	switch d.Status {
	case model.DeviceCodePending:
		return nil, fmt.Errorf("grant: device_code: authorization_pending")
	case model.DeviceCodeDenied:
		return nil, fmt.Errorf("grant: device_code: access_denied")
	case model.DeviceCodeAuthorized:
		// fall through
	default:
		return nil, fmt.Errorf("grant: device_code: unexpected status %q", d.Status)
	}

	claimed, alreadyClaimed, err := h.Devices.ClaimDeviceCode(ctx, req.TenantID, deviceCode)
	if err != nil {
		return nil, err
	}
	if alreadyClaimed {
		return nil, fmt.Errorf("grant: device_code: already claimed by a concurrent poll")
	}

	accessToken, expiresAt, err := h.Issuer.AccessToken(req.TenantID, req.Client.ID, claimed.SubjectID, claimed.Scopes, req.Client.AccessTokenLifetime, req.DPoPThumbprint)
	if err != nil {
		return nil, err
	}

	return &Result{
		AccessToken: accessToken,
		TokenType:   tokenType(req.DPoPThumbprint),
		ExpiresIn:   expiresAt.Sub(now),
		Scopes:      claimed.Scopes,
	}, nil
}

func (h *DeviceCodeHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
