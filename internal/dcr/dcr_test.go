package dcr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRedirectURI(t *testing.T) {
	cases := []struct {
		name string
		uri  string
		ok   bool
	}{
		{"https any host", "https://app.example.com/cb", true},
		{"https with port", "https://app.example.com:8443/cb", true},
		{"http localhost", "http://localhost/cb", true},
		{"http localhost with port", "http://localhost:3000/cb", true},
		{"http 127.0.0.1", "http://127.0.0.1:8080/cb", true},
		{"http IPv6 loopback", "http://[::1]:8080/cb", true},
		{"private-use scheme", "myapp://callback", true},
		{"http non-loopback", "http://app.example.com/cb", false},
		{"http loopback-prefixed hostname", "http://localhost.evil.com/cb", false},
		{"empty", "", false},
		{"relative", "/cb", false},
		{"no scheme", "app.example.com/cb", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRedirectURI(tc.uri)
			if tc.ok {
				assert.Nil(t, err)
			} else {
				require.NotNil(t, err)
				assert.Equal(t, ErrorInvalidRedirectURI, err.Code)
			}
		})
	}
}

func TestValidateAndNormalizeDefaults(t *testing.T) {
	out, err := ValidateAndNormalize(&Request{
		RedirectURIs: []string{"https://app.example.com/cb"},
	})
	require.Nil(t, err)

	assert.Equal(t, "none", out.TokenEndpointAuthMethod)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, out.GrantTypes)
	assert.Equal(t, []string{"code"}, out.ResponseTypes)
}

func TestValidateAndNormalizeDoesNotMutateInput(t *testing.T) {
	in := &Request{RedirectURIs: []string{"https://app.example.com/cb"}}
	_, err := ValidateAndNormalize(in)
	require.Nil(t, err)

	assert.Empty(t, in.TokenEndpointAuthMethod)
	assert.Empty(t, in.GrantTypes)
}

func TestValidateAndNormalizeRejectsConfidentialClients(t *testing.T) {
	_, err := ValidateAndNormalize(&Request{
		RedirectURIs:            []string{"https://app.example.com/cb"},
		TokenEndpointAuthMethod: "client_secret_basic",
	})
	require.NotNil(t, err)
	assert.Equal(t, ErrorInvalidClientMetadata, err.Code)
}

func TestValidateAndNormalizeRequiresRedirectURIs(t *testing.T) {
	_, err := ValidateAndNormalize(&Request{})
	require.NotNil(t, err)
	assert.Equal(t, ErrorInvalidRedirectURI, err.Code)
}

func TestValidateAndNormalizeGrantAndResponseTypes(t *testing.T) {
	_, err := ValidateAndNormalize(&Request{
		RedirectURIs: []string{"https://app.example.com/cb"},
		GrantTypes:   []string{"client_credentials"},
	})
	require.NotNil(t, err, "explicit grant_types without authorization_code must be rejected")

	_, err = ValidateAndNormalize(&Request{
		RedirectURIs:  []string{"https://app.example.com/cb"},
		ResponseTypes: []string{"token"},
	})
	require.NotNil(t, err, "explicit response_types without code must be rejected")

	out, err := ValidateAndNormalize(&Request{
		RedirectURIs: []string{"https://app.example.com/cb"},
		GrantTypes:   []string{"authorization_code", "refresh_token"},
	})
	require.Nil(t, err)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, out.GrantTypes)
}

func TestValidateScopes(t *testing.T) {
	allowed := []string{"openid", "profile", "email", "offline_access"}

	scopes, err := ValidateScopes("openid profile", allowed)
	require.Nil(t, err)
	assert.Equal(t, []string{"openid", "profile"}, scopes)

	scopes, err = ValidateScopes("openid openid profile", allowed)
	require.Nil(t, err)
	assert.Equal(t, []string{"openid", "profile"}, scopes, "duplicates are collapsed")

	_, err = ValidateScopes("openid admin", allowed)
	require.NotNil(t, err)
	assert.Equal(t, ErrorInvalidClientMetadata, err.Code)

	scopes, err = ValidateScopes("", allowed)
	require.Nil(t, err)
	assert.Equal(t, DefaultScopes, scopes, "empty request falls back to the default scope set")

	_, err = ValidateScopes("", []string{"openid"})
	require.NotNil(t, err, "defaults outside the allowed set must be rejected")
}
