package httpapi

import (
	"net/http"

	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/oautherr"
)

// revocationHandler services POST /connect/revocation (RFC 7009).
// Per RFC 7009 §2.2, the server always responds with HTTP 200
// regardless of whether the token was found or already invalid, so a
// client cannot use response shape to enumerate token validity; the
// caller's client authentication failing is the one case that still
// yields an error response.
func (s *Server) revocationHandler(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromRequest(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "malformed request body", false))
		return
	}

	if _, cErr := authenticateClient(r.Context(), rt.Store, rt.Tenant.ID, r, r.PostForm); cErr != nil {
		writeOAuthError(w, cErr)
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	// token_type_hint is not consulted: the value is tried as an access
	// token first and as a refresh token second.
	if verified, err := rt.Issuer.VerifyAccessToken(r.Context(), token); err == nil {
		_ = rt.Store.RevokeToken(r.Context(), rt.Tenant.ID, verified.JTI, verified.Expiry)
		w.WriteHeader(http.StatusOK)
		return
	}

	// The value didn't parse as one of this tenant's access tokens; try
	// it as a refresh token.
	// Revoking a refresh token tears down its whole rotation family,
	// same as replay detection does.
	if rg, err := rt.Store.GetRefreshGrant(r.Context(), rt.Tenant.ID, token); err == nil {
		_ = rt.Store.RevokeFamily(r.Context(), model.FamilyKey{
			TenantID:  rg.TenantID,
			SubjectID: rg.SubjectID,
			ClientID:  rg.ClientID,
			SessionID: rg.SessionID,
		})
	}

	w.WriteHeader(http.StatusOK)
}
