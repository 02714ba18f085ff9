// Package httpapi wires the public HTTP endpoints onto the protocol,
// grant, journey, and webhook subsystems. Routing is per-tenant: each
// inbound
// request is resolved to a TenantRuntime bundling that tenant's store,
// signing keys, grant registry, and journey engine before any handler
// runs.
package httpapi

import (
	"context"
	"time"

	"github.com/meridianid/authserver/internal/accesspolicy"
	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/dpop"
	"github.com/meridianid/authserver/internal/grant"
	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/keys"
	"github.com/meridianid/authserver/internal/protocol"
	"github.com/meridianid/authserver/internal/store"
	"github.com/meridianid/authserver/internal/tenant"
	"github.com/meridianid/authserver/internal/webhook"
)

// TenantRuntime bundles every per-tenant collaborator a handler needs to
// service one request, assembled once at startup (or on tenant
// configuration change) and handed out by a RuntimeResolver.
type TenantRuntime struct {
	Tenant *tenant.Tenant

	Store store.Store
	Clock clock.Clock

	Keys        *keys.Service
	Issuer      *grant.Issuer
	Coordinator *protocol.Coordinator
	PAR         *protocol.PAR
	Grants      *grant.Registry
	Journeys    *journey.Engine
	Access      *accesspolicy.Evaluator
	Events      *webhook.Bus
	Sessions    *SessionCodec

	// DPoPReplayWindow and DPoPSkew parameterize the per-request
	// dpop.Validator built by DPoPValidator; a Validator cannot be built
	// once at startup because its JTIStore must be bound to this
	// tenant's ID (internal/dpop's store interface carries no tenant
	// parameter of its own).
	DPoPReplayWindow time.Duration
	DPoPSkew         time.Duration

	// DiscoveryScopes and DiscoveryClaims feed the discovery document;
	// they are configuration, not derived from any other collaborator.
	DiscoveryScopes []string
	DiscoveryClaims []string
}

// supportedScopes returns the tenant's advertised scope set, shared by
// the discovery document and dynamic client registration so a
// registered client can never hold a scope discovery does not admit.
func (rt *TenantRuntime) supportedScopes() []string {
	if len(rt.DiscoveryScopes) > 0 {
		return rt.DiscoveryScopes
	}
	return []string{"openid", "profile", "email", "offline_access"}
}

func (rt *TenantRuntime) supportedClaims() []string {
	if len(rt.DiscoveryClaims) > 0 {
		return rt.DiscoveryClaims
	}
	return []string{"sub", "iss", "aud", "exp", "iat", "amr", "idp"}
}

// dpopJTIAdapter binds store.DPoPJTIStore (tenant-scoped) to
// dpop.JTIStore's narrower, tenant-less signature for one tenant.
type dpopJTIAdapter struct {
	tenantID string
	store    store.DPoPJTIStore
}

func (a dpopJTIAdapter) PutIfAbsent(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	return a.store.PutIfAbsent(ctx, a.tenantID, jti, expiresAt)
}

// DPoPValidator builds a dpop.Validator scoped to this tenant's replay
// store, since dpop.JTIStore has no tenant parameter of its own.
func (rt *TenantRuntime) DPoPValidator() *dpop.Validator {
	skew := rt.DPoPSkew
	if skew <= 0 {
		skew = 5 * time.Second
	}
	window := rt.DPoPReplayWindow
	if window <= 0 {
		window = time.Minute
	}
	return dpop.NewValidator(rt.Clock, skew, window, dpopJTIAdapter{tenantID: rt.Tenant.ID, store: rt.Store})
}

// RuntimeResolver maps an inbound request's tenant-identifying key
// (e.g. Host header, path prefix — the concrete strategy is an external
// concern of the embedding deployment) to its TenantRuntime.
type RuntimeResolver interface {
	Resolve(ctx context.Context, key string) (*TenantRuntime, error)
}

// StaticRuntimes is the simplest RuntimeResolver: a fixed, in-memory set
// of runtimes keyed the same way tenant.StaticResolver keys Tenants, for
// single/few-tenant deployments and tests.
type StaticRuntimes struct {
	runtimes map[string]*TenantRuntime
}

// NewStaticRuntimes builds a StaticRuntimes from a key-to-runtime map.
func NewStaticRuntimes(runtimes map[string]*TenantRuntime) *StaticRuntimes {
	cp := make(map[string]*TenantRuntime, len(runtimes))
	for k, v := range runtimes {
		cp[k] = v
	}
	return &StaticRuntimes{runtimes: cp}
}

// Resolve implements RuntimeResolver.
func (s *StaticRuntimes) Resolve(_ context.Context, key string) (*TenantRuntime, error) {
	rt, ok := s.runtimes[key]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return rt, nil
}
