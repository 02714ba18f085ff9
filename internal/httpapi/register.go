package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/authserver/internal/dcr"
	"github.com/meridianid/authserver/internal/grant"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/oautherr"
)

// defaultDCRRefreshAbsoluteLifetime bounds a dynamically registered
// client's refresh tokens; a tenant administrator may tighten this for
// a specific client after the fact, but this endpoint has no narrower
// signal to go on than the tenant's own access/ID token defaults.
const defaultDCRRefreshAbsoluteLifetime = 30 * 24 * time.Hour

// registerClientHandler services POST /connect/register (RFC 7591).
// Registration is
// restricted to public, PKCE-only clients; a client that needs a
// client_secret is provisioned out of band by a tenant administrator,
// not through this self-service endpoint.
func (s *Server) registerClientHandler(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromRequest(w, r)
	if !ok {
		return
	}

	var req dcr.Request
	body := http.MaxBytesReader(w, r.Body, dcr.MaxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeOAuthError(w, oautherr.New(dcr.ErrorInvalidClientMetadata, "request body is not valid JSON", false))
		return
	}

	normalized, vErr := dcr.ValidateAndNormalize(&req)
	if vErr != nil {
		writeOAuthError(w, vErr)
		return
	}

	scopes, vErr := dcr.ValidateScopes(normalized.Scope, rt.supportedScopes())
	if vErr != nil {
		writeOAuthError(w, vErr)
		return
	}

	now := rt.Clock.Now()
	client := &model.Client{
		TenantID:                rt.Tenant.ID,
		ID:                      uuid.NewString(),
		Public:                  true,
		RedirectURIs:            normalized.RedirectURIs,
		AllowedScopes:           scopes,
		AllowedGrantTypes:       normalized.GrantTypes,
		PKCERequired:            true,
		ConsentRequired:         true,
		AuthCodeLifetime:        rt.Tenant.Config.DefaultAuthCodeLifetime,
		AccessTokenLifetime:     rt.Tenant.Config.DefaultAccessTokenLifetime,
		IDTokenLifetime:         rt.Tenant.Config.DefaultIDTokenLifetime,
		RefreshSlidingLifetime:  rt.Tenant.Config.DefaultRefreshSlidingWindow,
		RefreshAbsoluteLifetime: defaultDCRRefreshAbsoluteLifetime,
		RefreshTokenUsage:       model.UsageOneTimeOnly,
		RefreshTokenExpiration:  model.ExpirationAbsolute,
	}
	if err := rt.Store.PutClient(r.Context(), client); err != nil {
		writeServerError(w, "register client", err)
		return
	}

	resp := dcr.Response{
		ClientID:                client.ID,
		ClientIDIssuedAt:        now.Unix(),
		RegistrationAccessToken: grant.RefreshToken(),
		ClientName:              normalized.ClientName,
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: normalized.TokenEndpointAuthMethod,
		GrantTypes:              client.AllowedGrantTypes,
		ResponseTypes:           normalized.ResponseTypes,
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusCreated, resp)
}
