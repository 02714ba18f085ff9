package protocol

import (
	"net/url"
	"strings"

	"github.com/meridianid/authserver/internal/oautherr"
)

// BuildCodeRedirect assembles the authorization-code success
// redirect: query by default, fragment
// when responseMode is "fragment".
func BuildCodeRedirect(redirectURI, code, state, responseMode string) string {
	values := url.Values{"code": {code}}
	if state != "" {
		values.Set("state", state)
	}
	return attach(redirectURI, values, responseMode)
}

// BuildErrorRedirect assembles an error redirect. Callers MUST first
// confirm e.CanRedirect().
func BuildErrorRedirect(redirectURI string, e *oautherr.Error, state, responseMode string) string {
	values := url.Values{"error": {string(e.Code)}}
	if e.Description != "" {
		values.Set("error_description", e.Description)
	}
	if state != "" {
		values.Set("state", state)
	}
	return attach(redirectURI, values, responseMode)
}

func attach(redirectURI string, values url.Values, responseMode string) string {
	if responseMode == "fragment" {
		return redirectURI + "#" + values.Encode()
	}
	// A registered redirect_uri MAY already carry its own query string
	// (e.g. a multi-tenant app's "?app=foo"); appending with "?" again
	// would produce a malformed second query component, so join with
	// "&" in that case (RFC 6749 §3.1.2).
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}
	return redirectURI + sep + values.Encode()
}
