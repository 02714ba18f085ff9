// Package tenant defines the tenant entity and the resolution boundary
// between an incoming request and the tenant it belongs to. Resolving a
// request to a tenant (by host, path prefix, or header) is an external
// concern the authorization server only consumes through the Resolver
// interface; the resolution strategy (subdomain, path, or header)
// belongs to the embedding deployment, not this package.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// MinSessionSecretBytes is the smallest acceptable HMAC secret for the
// tenant's browser-session signing.
const MinSessionSecretBytes = 32

// ErrNotFound is returned by a Resolver when no tenant matches the
// request.
var ErrNotFound = errors.New("tenant: not found")

// Tenant is the top-level isolation boundary: every Client, User,
// Policy, signing key and webhook endpoint belongs to exactly one
// tenant.
type Tenant struct {
	ID        string
	Issuer    string
	CreatedAt time.Time
	Config    Config
}

// Config carries tenant-wide defaults applied when a client does not
// override them.
type Config struct {
	DefaultAccessTokenLifetime  time.Duration
	DefaultIDTokenLifetime      time.Duration
	DefaultAuthCodeLifetime     time.Duration
	DefaultRefreshSlidingWindow time.Duration
	SigningKeyOverlap           time.Duration
	DPoPProofSkew               time.Duration
	DPoPReplayWindow            time.Duration
	RequirePAR                  bool
	SessionSecret               []byte
}

// Validate rejects a tenant whose configuration could not serve
// requests: a missing or relative issuer URL, an undersized session
// secret, or a negative lifetime.
func (t *Tenant) Validate() error {
	if t.ID == "" {
		return errors.New("tenant: id is required")
	}
	u, err := url.Parse(t.Issuer)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("tenant %s: issuer must be an absolute URL", t.ID)
	}
	if len(t.Config.SessionSecret) > 0 && len(t.Config.SessionSecret) < MinSessionSecretBytes {
		return fmt.Errorf("tenant %s: session secret must be at least %d bytes", t.ID, MinSessionSecretBytes)
	}
	for name, d := range map[string]time.Duration{
		"access token lifetime":  t.Config.DefaultAccessTokenLifetime,
		"id token lifetime":      t.Config.DefaultIDTokenLifetime,
		"auth code lifetime":     t.Config.DefaultAuthCodeLifetime,
		"refresh sliding window": t.Config.DefaultRefreshSlidingWindow,
		"signing key overlap":    t.Config.SigningKeyOverlap,
		"dpop proof skew":        t.Config.DPoPProofSkew,
		"dpop replay window":     t.Config.DPoPReplayWindow,
	} {
		if d < 0 {
			return fmt.Errorf("tenant %s: %s must not be negative", t.ID, name)
		}
	}
	return nil
}

// Resolver maps an inbound request's tenant-identifying material (e.g. a
// Host header or a path segment, extracted upstream of this package) to
// a Tenant. Implementations live outside this module; common strategies
// are host-based or path-prefix-based routing in front of the
// authorization endpoints.
type Resolver interface {
	Resolve(ctx context.Context, key string) (*Tenant, error)
}

type tenantCtxKey struct{}

// WithTenant returns a context carrying t, for handlers downstream of
// resolution to retrieve via FromContext.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, t)
}

// FromContext returns the Tenant previously attached with WithTenant.
func FromContext(ctx context.Context) (*Tenant, bool) {
	t, ok := ctx.Value(tenantCtxKey{}).(*Tenant)
	return t, ok
}

// StaticResolver resolves a fixed set of tenants keyed by an opaque
// lookup key (e.g. host or path prefix), for single- or
// few-tenant deployments and for tests.
type StaticResolver struct {
	tenants map[string]*Tenant
}

// NewStaticResolver builds a StaticResolver from a key-to-tenant map.
func NewStaticResolver(tenants map[string]*Tenant) *StaticResolver {
	cp := make(map[string]*Tenant, len(tenants))
	for k, v := range tenants {
		cp[k] = v
	}
	return &StaticResolver{tenants: cp}
}

// Resolve implements Resolver.
func (s *StaticResolver) Resolve(_ context.Context, key string) (*Tenant, error) {
	t, ok := s.tenants[key]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}
