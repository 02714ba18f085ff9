package httpapi

import (
	"encoding/json"
	"net/http"
)

// discoveryDocument is the OIDC/OAuth discovery metadata document.
type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	PushedAuthorizationRequestEndpoint string  `json:"pushed_authorization_request_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	DeviceAuthorizationEndpoint       string   `json:"device_authorization_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

var defaultGrantTypesSupported = []string{
	"authorization_code",
	"refresh_token",
	"client_credentials",
	"password",
	"urn:ietf:params:oauth:grant-type:device_code",
	"urn:ietf:params:oauth:grant-type:token-exchange",
	"urn:openid:params:grant-type:ciba",
}

// discoveryHandler serves /.well-known/openid-configuration.
func (s *Server) discoveryHandler(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromRequest(w, r)
	if !ok {
		return
	}
	issuer := rt.Tenant.Issuer
	scopes := rt.supportedScopes()
	claims := rt.supportedClaims()

	doc := discoveryDocument{
		Issuer:                             issuer,
		AuthorizationEndpoint:              issuer + "/connect/authorize",
		TokenEndpoint:                      issuer + "/connect/token",
		UserinfoEndpoint:                   issuer + "/connect/userinfo",
		JWKSURI:                            issuer + "/.well-known/jwks.json",
		PushedAuthorizationRequestEndpoint: issuer + "/connect/par",
		IntrospectionEndpoint:              issuer + "/connect/introspect",
		RevocationEndpoint:                 issuer + "/connect/revocation",
		DeviceAuthorizationEndpoint:        issuer + "/connect/deviceauthorization",
		EndSessionEndpoint:                 issuer + "/connect/endsession",
		ScopesSupported:                    scopes,
		ClaimsSupported:                    claims,
		ResponseTypesSupported:             []string{"code"},
		ResponseModesSupported:             []string{"query", "fragment"},
		GrantTypesSupported:                defaultGrantTypesSupported,
		SubjectTypesSupported:              []string{"public"},
		IDTokenSigningAlgValuesSupported:   []string{"RS256", "ES256"},
		CodeChallengeMethodsSupported:      []string{"S256", "plain"},
		TokenEndpointAuthMethodsSupported:  []string{"client_secret_basic", "client_secret_post", "none"},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

// jwksHandler serves /.well-known/jwks.json (alias
// /.well-known/openid-configuration/jwks), the public half of the
// tenant's signing keys.
func (s *Server) jwksHandler(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromRequest(w, r)
	if !ok {
		return
	}
	set, err := rt.Keys.JWKS(r.Context())
	if err != nil {
		writeServerError(w, "jwks", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}
