// Package protocol implements the authorize endpoint's protocol state
// machine: request parsing and PAR resolution, validation
// with redirect_uri-safety tracking, the suspend/resume decision against
// the user journey engine, consent evaluation, and authorization-code
// issuance and redirect assembly. It is the generalization of the
// authorize endpoint as a request lifecycle that can suspend across
// HTTP turns instead of completing in one call.
package protocol

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// AuthorizeRequest is the validated, normalized form of an incoming
// authorize request.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scopes              []string
	State               string
	Nonce               string
	ResponseMode        string
	Prompt              string
	MaxAgeSeconds       *int
	ACRValues           []string
	CodeChallenge       string
	CodeChallengeMethod string
	LoginHint           string
	UILocales           []string
	IDTokenHint         string
	PolicyID            string
	UIMode              string
}

// ParseParams merges an authorize request's query and form values, per
// Form values override query values for the same key.
// GET requests carry only query parameters; POST requests (the
// resumption/consent-submission turn) may repeat or override them.
func ParseParams(r *http.Request) (url.Values, error) {
	merged := url.Values{}
	for k, v := range r.URL.Query() {
		merged[k] = v
	}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k, v := range r.PostForm {
			merged[k] = v
		}
	}
	return merged, nil
}

func splitSpace(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}

func promptIncludes(prompt, value string) bool {
	for _, p := range splitSpace(prompt) {
		if p == value {
			return true
		}
	}
	return false
}

func fromValues(params url.Values) *AuthorizeRequest {
	req := &AuthorizeRequest{
		ClientID:            params.Get("client_id"),
		RedirectURI:         params.Get("redirect_uri"),
		ResponseType:        params.Get("response_type"),
		Scopes:              splitSpace(params.Get("scope")),
		State:               params.Get("state"),
		Nonce:               params.Get("nonce"),
		ResponseMode:        params.Get("response_mode"),
		Prompt:              params.Get("prompt"),
		ACRValues:           splitSpace(params.Get("acr_values")),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
		LoginHint:           params.Get("login_hint"),
		UILocales:           splitSpace(params.Get("ui_locales")),
		IDTokenHint:         params.Get("id_token_hint"),
		PolicyID:            params.Get("policy_id"),
		UIMode:              params.Get("ui_mode"),
	}
	if raw := params.Get("max_age"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			req.MaxAgeSeconds = &n
		}
	}
	return req
}

// hasOpenIDScope reports whether the openid scope was requested.
func hasOpenIDScope(scopes []string) bool {
	for _, s := range scopes {
		if s == "openid" {
			return true
		}
	}
	return false
}
