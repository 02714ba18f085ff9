package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meridianid/authserver/internal/obs/log"
)

// TenantKeyFunc extracts the tenant-resolution key from an inbound
// request (e.g. the Host header, a path prefix, or a header value — the
// concrete strategy belongs to the embedding deployment).
// DefaultTenantKeyFunc below is the simplest useful default.
type TenantKeyFunc func(r *http.Request) string

// DefaultTenantKeyFunc resolves tenants by Host header, the common case
// for subdomain-per-tenant deployments.
func DefaultTenantKeyFunc(r *http.Request) string { return r.Host }

// Server wires the public protocol endpoints onto a
// RuntimeResolver. It holds no per-tenant state of its own; every
// handler resolves its TenantRuntime fresh from the request.
type Server struct {
	Resolver  RuntimeResolver
	TenantKey TenantKeyFunc
}

// NewServer constructs a Server. If keyFunc is nil, DefaultTenantKeyFunc
// is used.
func NewServer(resolver RuntimeResolver, keyFunc TenantKeyFunc) *Server {
	if keyFunc == nil {
		keyFunc = DefaultTenantKeyFunc
	}
	return &Server{Resolver: resolver, TenantKey: keyFunc}
}

// runtimeFromRequest resolves the calling tenant's TenantRuntime,
// writing a 404 "unknown tenant" response and returning ok=false if resolution
// fails. Every handler in this package calls this first.
func (s *Server) runtimeFromRequest(w http.ResponseWriter, r *http.Request) (*TenantRuntime, bool) {
	rt, err := s.Resolver.Resolve(r.Context(), s.TenantKey(r))
	if err != nil {
		log.Warnw("httpapi: tenant resolution failed", "key", s.TenantKey(r), "error", err)
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return nil, false
	}
	return rt, true
}

// Router assembles the full chi.Router exposing the protocol
// endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/.well-known/openid-configuration", s.discoveryHandler)
	r.Get("/.well-known/jwks.json", s.jwksHandler)
	r.Get("/.well-known/openid-configuration/jwks", s.jwksHandler)

	r.Get("/connect/authorize", s.authorizeHandler)
	r.Post("/connect/authorize", s.authorizeHandler)
	r.Post("/connect/par", s.parHandler)
	r.Post("/connect/token", s.tokenHandler)
	r.Post("/connect/introspect", s.introspectHandler)
	r.Post("/connect/revocation", s.revocationHandler)
	r.Post("/connect/deviceauthorization", s.deviceAuthorizationHandler)
	r.Post("/connect/register", s.registerClientHandler)
	r.Get("/connect/endsession", s.endSessionHandler)
	r.Get("/connect/userinfo", s.userinfoHandler)
	r.Post("/connect/userinfo", s.userinfoHandler)

	r.Get("/connect/journey/{journeyID}", s.journeyShowHandler)
	r.Post("/connect/journey/{journeyID}", s.journeyAdvanceHandler)

	return r
}
