package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/meridianid/authserver/internal/grant"
	"github.com/meridianid/authserver/internal/oautherr"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// tokenHandler services POST /connect/token. Client
// authentication and, when present, DPoP proof validation happen once
// here before the request is handed to the grant handler registry, so
// no GrantHandler needs to know about either concern.
func (s *Server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromRequest(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "malformed request body", false))
		return
	}

	client, cErr := authenticateClient(r.Context(), rt.Store, rt.Tenant.ID, r, r.PostForm)
	if cErr != nil {
		writeOAuthError(w, cErr)
		return
	}

	grantType := r.PostForm.Get("grant_type")
	if grantType == "" {
		writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "grant_type is required", false))
		return
	}

	req := &grant.Request{
		TenantID:       rt.Tenant.ID,
		Client:         client,
		GrantType:      grantType,
		RequestedScope: splitSpace(r.PostForm.Get("scope")),
		Form:           r.PostForm,
	}

	if proof := r.Header.Get("DPoP"); proof != "" {
		tokenEndpointURL := rt.Tenant.Issuer + "/connect/token"
		_, thumbprint, err := rt.DPoPValidator().Validate(r.Context(), proof, http.MethodPost, tokenEndpointURL)
		if err != nil {
			writeOAuthError(w, oautherr.New(oautherr.InvalidRequest, "invalid DPoP proof: "+err.Error(), false))
			return
		}
		req.DPoPThumbprint = thumbprint
	}

	result, err := rt.Grants.Dispatch(r.Context(), req)
	if err != nil {
		writeOAuthError(w, classifyGrantError(err))
		return
	}

	resp := tokenResponse{
		AccessToken:  result.AccessToken,
		TokenType:    result.TokenType,
		ExpiresIn:    int64(result.ExpiresIn.Seconds()),
		RefreshToken: result.RefreshToken,
		IDToken:      result.IDToken,
		Scope:        strings.Join(result.Scopes, " "),
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	_ = json.NewEncoder(w).Encode(resp)
}

func splitSpace(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
