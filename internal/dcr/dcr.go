// Package dcr implements RFC 7591 Dynamic Client Registration as an
// additional entry point onto the Client entity: a
// relying party POSTs client metadata to /connect/register and
// receives back a client_id plus the normalized metadata the server
// recorded for it. Registration is restricted to public, PKCE-only
// clients (token_endpoint_auth_method "none"), and redirect URIs
// follow RFC 8252 §7: any HTTPS URI, or HTTP limited to a loopback
// host.
package dcr

import (
	"net"
	"net/url"
	"strings"

	"github.com/meridianid/authserver/internal/oautherr"
)

// Error codes specific to dynamic client registration (RFC 7591 §3.2.2).
const (
	ErrorInvalidRedirectURI    oautherr.Code = "invalid_redirect_uri"
	ErrorInvalidClientMetadata oautherr.Code = "invalid_client_metadata"
)

// MaxRedirectURILength bounds a single registered redirect_uri.
const MaxRedirectURILength = 2048

// MaxRequestBodyBytes bounds the registration request body the HTTP
// layer will read before giving up.
const MaxRequestBodyBytes = 64 * 1024

// DefaultScopes is granted when a registration request omits "scope"
// entirely.
var DefaultScopes = []string{"openid", "profile", "email"}

// defaultGrantTypes and defaultResponseTypes mirror RFC 7591's own
// defaults for an authorization_code client.
var (
	defaultGrantTypes    = []string{"authorization_code", "refresh_token"}
	defaultResponseTypes = []string{"code"}
)

// Request is the RFC 7591 client registration request body.
type Request struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// Response is the RFC 7591 client registration response body.
type Response struct {
	ClientID                string   `json:"client_id"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	RegistrationAccessToken string   `json:"registration_access_token,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
}

// ValidateRedirectURI enforces RFC 8252 §7: HTTPS is accepted for any
// host; plain HTTP is accepted only for a loopback host (127.0.0.1,
// [::1], or localhost, with or without a port); any other URI scheme
// (a native app's private-use scheme, e.g. "myapp://callback") is
// accepted as-is, since it cannot be intercepted by another host on
// the network the way a non-loopback HTTP listener can.
func ValidateRedirectURI(uri string) *oautherr.Error {
	if len(uri) == 0 || len(uri) > MaxRedirectURILength {
		return oautherr.New(ErrorInvalidRedirectURI, "redirect_uri is empty or exceeds the maximum length", false)
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return oautherr.New(ErrorInvalidRedirectURI, "redirect_uri is not a valid absolute URI", false)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopbackHost(u.Hostname()) {
			return nil
		}
		return oautherr.New(ErrorInvalidRedirectURI, "http redirect_uri must use a loopback host", false)
	default:
		return nil
	}
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ValidateAndNormalize validates req and fills in RFC 7591 defaults,
// returning a new, normalized Request. It never mutates req.
func ValidateAndNormalize(req *Request) (*Request, *oautherr.Error) {
	if len(req.RedirectURIs) == 0 {
		return nil, oautherr.New(ErrorInvalidRedirectURI, "at least one redirect_uri is required", false)
	}
	for _, uri := range req.RedirectURIs {
		if vErr := ValidateRedirectURI(uri); vErr != nil {
			return nil, vErr
		}
	}

	out := &Request{
		RedirectURIs:            append([]string(nil), req.RedirectURIs...),
		ClientName:              req.ClientName,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		Scope:                   req.Scope,
	}

	if out.TokenEndpointAuthMethod == "" {
		out.TokenEndpointAuthMethod = "none"
	}
	if out.TokenEndpointAuthMethod != "none" {
		// Registration through this endpoint mints public, PKCE-only
		// clients only; a client that needs a client_secret is
		// provisioned by a tenant administrator through the admin
		// surface instead.
		return nil, oautherr.New(ErrorInvalidClientMetadata, "token_endpoint_auth_method must be \"none\"", false)
	}

	if len(out.GrantTypes) == 0 {
		out.GrantTypes = append([]string(nil), defaultGrantTypes...)
	} else if !contains(out.GrantTypes, "authorization_code") {
		return nil, oautherr.New(ErrorInvalidClientMetadata, "grant_types must include authorization_code", false)
	}

	if len(out.ResponseTypes) == 0 {
		out.ResponseTypes = append([]string(nil), defaultResponseTypes...)
	} else if !contains(out.ResponseTypes, "code") {
		return nil, oautherr.New(ErrorInvalidClientMetadata, "response_types must include code", false)
	}

	return out, nil
}

// ValidateScopes narrows a space-separated requested scope string
// against allowedScopes, deduplicating and rejecting anything not an
// exact member of the allowed set (no prefix/substring matching). An
// empty requested string falls back to DefaultScopes, which must
// itself be a subset of allowedScopes.
func ValidateScopes(requested string, allowedScopes []string) ([]string, *oautherr.Error) {
	allowed := make(map[string]bool, len(allowedScopes))
	for _, s := range allowedScopes {
		allowed[s] = true
	}

	fields := strings.Fields(requested)
	if len(fields) == 0 {
		for _, s := range DefaultScopes {
			if !allowed[s] {
				return nil, oautherr.New(ErrorInvalidClientMetadata, "default scopes are not permitted for this tenant", false)
			}
		}
		return append([]string(nil), DefaultScopes...), nil
	}

	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, s := range fields {
		if !allowed[s] {
			return nil, oautherr.New(ErrorInvalidClientMetadata, "scope \""+s+"\" is not permitted for this tenant", false)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

func contains(vs []string, want string) bool {
	for _, v := range vs {
		if v == want {
			return true
		}
	}
	return false
}
