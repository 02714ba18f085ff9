package httpapi

import (
	"net/http"
	"strings"

	"github.com/meridianid/authserver/internal/dpop"
	"github.com/meridianid/authserver/internal/oautherr"
)

// userinfoHandler services GET/POST /connect/userinfo (OIDC Core 1.0
// §5.3). A DPoP-bound access token must be presented with a matching
// DPoP proof on this request too (RFC 9449 §7: proof-of-possession
// applies to resource access, not just token issuance).
func (s *Server) userinfoHandler(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromRequest(w, r)
	if !ok {
		return
	}

	scheme, token, ok := bearerToken(r)
	if !ok {
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "missing bearer token", false))
		return
	}

	verified, err := rt.Issuer.VerifyAccessToken(r.Context(), token)
	if err != nil {
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "invalid or expired access token", false))
		return
	}
	if revoked, err := rt.Store.IsTokenRevoked(r.Context(), rt.Tenant.ID, verified.JTI); err != nil || revoked {
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "token has been revoked", false))
		return
	}

	if verified.JKT != "" {
		if !strings.EqualFold(scheme, "dpop") {
			writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "a DPoP-bound token requires the DPoP authorization scheme", false))
			return
		}
		proof := r.Header.Get("DPoP")
		if proof == "" {
			writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "missing DPoP proof", false))
			return
		}
		userinfoURL := rt.Tenant.Issuer + "/connect/userinfo"
		_, thumbprint, err := rt.DPoPValidator().Validate(r.Context(), proof, r.Method, userinfoURL)
		if err != nil {
			writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "invalid DPoP proof: "+err.Error(), false))
			return
		}
		if !dpop.MatchesBoundToken(thumbprint, verified.JKT) {
			writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "DPoP proof does not match token binding", false))
			return
		}
	}

	claims := map[string]any{"sub": verified.Subject}
	writeJSON(w, http.StatusOK, claims)
}

func bearerToken(r *http.Request) (scheme, token string, ok bool) {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
