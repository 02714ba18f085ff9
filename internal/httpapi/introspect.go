package httpapi

import (
	"net/http"
	"strings"

	"github.com/meridianid/authserver/internal/oautherr"
)

// introspectResponse is the RFC 7662 token introspection response. Only
// active is populated when the token cannot be confirmed active, per
// RFC 7662 §2.2 ("other fields MUST NOT be included when active is
// false").
type introspectResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Jti       string `json:"jti,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// introspectHandler services POST /connect/introspect (RFC 7662).
// The caller authenticates the same way a token-endpoint client
// does; the token is always treated as an access token, since this
// module's refresh tokens are opaque server-side records with no JWT
// structure to introspect this way (a caller wanting refresh-token
// status uses /connect/revocation's success/failure instead).
func (s *Server) introspectHandler(w http.ResponseWriter, r *http.Request) {
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
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "token is required", false))
		return
	}

	writeJSON(w, http.StatusOK, inspect(rt, r, token))
}

func inspect(rt *TenantRuntime, r *http.Request, token string) introspectResponse {
	verified, err := rt.Issuer.VerifyAccessToken(r.Context(), token)
	if err != nil {
		return introspectResponse{Active: false}
	}
	revoked, err := rt.Store.IsTokenRevoked(r.Context(), rt.Tenant.ID, verified.JTI)
	if err != nil || revoked {
		return introspectResponse{Active: false}
	}
	return introspectResponse{
		Active:    true,
		Scope:     strings.Join(verified.Scopes, " "),
		ClientID:  verified.ClientID,
		Sub:       verified.Subject,
		Exp:       verified.Expiry.Unix(),
		Jti:       verified.JTI,
		TokenType: "Bearer",
	}
}
