// Package externalidp implements journey.ExternalIDPClient against one
// or more upstream OIDC providers: initiate the OAuth challenge, map
// claims on callback, optionally auto-provision the
// user, using the coreos/go-oidc discovery + golang.org/x/oauth2
// code-exchange stack the rest of this module's OIDC surface is built
// on.
package externalidp

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/meridianid/authserver/internal/model"
)

// ProviderConfig is one tenant-configured upstream identity provider.
type ProviderConfig struct {
	Name         string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// provider bundles a ProviderConfig with its resolved OIDC discovery
// document and oauth2.Config.
type provider struct {
	cfg      ProviderConfig
	verifier *oidc.IDTokenVerifier
	oauth    oauth2.Config
}

// Client is a journey.ExternalIDPClient backed by real upstream OIDC
// discovery, lazily resolving each configured provider's discovery
// document on first use.
type Client struct {
	mu        sync.RWMutex
	providers map[string]ProviderConfig
	resolved  map[string]*provider
}

// NewClient constructs a Client with the given named provider
// configurations.
func NewClient(providers ...ProviderConfig) *Client {
	m := make(map[string]ProviderConfig, len(providers))
	for _, p := range providers {
		m[p.Name] = p
	}
	return &Client{providers: m, resolved: map[string]*provider{}}
}

func (c *Client) resolve(ctx context.Context, name, redirectURI string) (*provider, error) {
	c.mu.RLock()
	if p, ok := c.resolved[name]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	cfg, ok := c.providers[name]
	if !ok {
		return nil, fmt.Errorf("externalidp: unknown provider %q", name)
	}
	upstream, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("externalidp: discovering provider %q: %w", name, err)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	p := &provider{
		cfg:      cfg,
		verifier: upstream.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     upstream.Endpoint(),
			RedirectURL:  redirectURI,
			Scopes:       scopes,
		},
	}

	c.mu.Lock()
	c.resolved[name] = p
	c.mu.Unlock()
	return p, nil
}

// AuthorizationURL implements journey.ExternalIDPClient.
func (c *Client) AuthorizationURL(ctx context.Context, providerName, state, redirectURI string) (string, error) {
	p, err := c.resolve(ctx, providerName, redirectURI)
	if err != nil {
		return "", err
	}
	return p.oauth.AuthCodeURL(state), nil
}

// Exchange implements journey.ExternalIDPClient.
func (c *Client) Exchange(ctx context.Context, providerName, code, redirectURI string) (model.Claims, error) {
	p, err := c.resolve(ctx, providerName, redirectURI)
	if err != nil {
		return nil, err
	}
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("externalidp: exchanging code with %q: %w", providerName, err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("externalidp: %q token response carries no id_token", providerName)
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("externalidp: verifying id_token from %q: %w", providerName, err)
	}
	var claims model.Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("externalidp: decoding claims from %q: %w", providerName, err)
	}
	return claims, nil
}
