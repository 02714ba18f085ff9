package journey

import (
	"context"
	"time"

	"github.com/meridianid/authserver/internal/accesspolicy"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
	"github.com/meridianid/authserver/internal/webhook"
)

// ExternalIDPClient is the capability boundary a StepHandler uses to
// drive an upstream OAuth2/OIDC login (the "external_idp" step).
// Concrete discovery/code-exchange machinery lives in
// internal/journey/step/externalidp; the engine only depends on this
// narrow interface so the core package stays free of any particular
// OIDC client library.
type ExternalIDPClient interface {
	// AuthorizationURL returns the URL to redirect the browser to begin
	// the upstream authorization_code flow.
	AuthorizationURL(ctx context.Context, provider, state, redirectURI string) (string, error)
	// Exchange completes the upstream flow and returns the claims the
	// provider asserted about the user.
	Exchange(ctx context.Context, provider, code, redirectURI string) (model.Claims, error)
}

// PluginExecutor is the capability boundary for the "custom_plugin"
// step: a managed or WASM plugin invoked with the journey's
// current data and step config, returning one of
// Continue/Complete/RequireInput/Branch/Fail.
type PluginExecutor interface {
	Invoke(ctx context.Context, pluginRef string, config map[string]any, data map[string]any, userInput map[string]any) (*StepResult, error)
}

// CaptchaProvider is the capability boundary for the "captcha" step.
type CaptchaProvider interface {
	Verify(ctx context.Context, token string, minScore float64) (bool, error)
}

// MessageSender is the capability boundary for SMS/email delivery used
// by the mfa and password_reset steps. Concrete gateways live in the
// embedding deployment; this is the interface boundary they are
// consumed through.
type MessageSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// FIDO2Verifier is the capability boundary for the FIDO2 factor of the
// "mfa" step. The WebAuthn ceremony implementation is supplied by the
// embedding deployment; the engine only depends on this narrow
// interface.
type FIDO2Verifier interface {
	// BeginAssertion returns the WebAuthn assertion options (as opaque
	// JSON) a client-side authenticator must respond to.
	BeginAssertion(ctx context.Context, tenantID, userID string) (challenge map[string]any, err error)
	// VerifyAssertion checks a signed assertion response against the
	// user's registered credentials.
	VerifyAssertion(ctx context.Context, tenantID, userID string, response map[string]any) (bool, error)
	// BeginRegistration returns the WebAuthn attestation options for
	// enrolling a new credential against userID ("fido2_register" step).
	BeginRegistration(ctx context.Context, tenantID, userID string) (options map[string]any, err error)
	// FinishRegistration verifies a signed attestation response and
	// persists the resulting credential.
	FinishRegistration(ctx context.Context, tenantID, userID string, response map[string]any) (bool, error)
}

// Services bundles the tenant-scoped collaborators a StepHandler may
// need.
type Services struct {
	Store       store.Store
	Access      *accesspolicy.Evaluator
	ExternalIDP ExternalIDPClient
	Plugins     PluginExecutor
	Captcha     CaptchaProvider
	Email       MessageSender
	SMS         MessageSender
	FIDO2       FIDO2Verifier
	Events      *webhook.Bus
}

// StepExecutionContext is the capability set a StepHandler
// receives: read/write data map, read user input, read step config,
// mutate user_id, set_authenticated, and tenant-scoped services.
type StepExecutionContext struct {
	ctx      context.Context
	state    *model.JourneyState
	step     model.PolicyStep
	services *Services
	now      time.Time
}

// Now returns the clock instant this step is executing at.
func (e *StepExecutionContext) Now() time.Time { return e.now }

// TenantID returns the journey's owning tenant.
func (e *StepExecutionContext) TenantID() string { return e.state.TenantID }

// ClientID returns the client the suspended authorize request targets.
func (e *StepExecutionContext) ClientID() string { return e.state.ClientID }

// JourneyID returns the running journey's id.
func (e *StepExecutionContext) JourneyID() string { return e.state.JourneyID }

// UserID returns the currently-established user id, if any.
func (e *StepExecutionContext) UserID() string { return e.state.UserID }

// SetUserID mutates the journey's user id without marking it
// authenticated (e.g. a create_user step that must still pass through a
// consent step before authentication completes).
func (e *StepExecutionContext) SetUserID(userID string) { e.state.UserID = userID }

// SetAuthenticated marks the journey as having produced an
// authenticated principal. A step that establishes identity must call
// this; without it, no session cookie is issued on completion.
func (e *StepExecutionContext) SetAuthenticated(userID, method string) {
	e.state.UserID = userID
	e.state.AuthMethod = method
	e.state.AuthenticatedAt = e.now
}

// SetIDP records which external identity provider authenticated the
// user, surfaced as the `idp` claim.
func (e *StepExecutionContext) SetIDP(idp string) { e.state.IDP = idp }

// Data returns the journey's accumulated data map.
func (e *StepExecutionContext) Data() map[string]any {
	if e.state.Data == nil {
		e.state.Data = map[string]any{}
	}
	return e.state.Data
}

// DataString reads a string-typed data value, returning "" if absent or
// of another type.
func (e *StepExecutionContext) DataString(key string) string {
	s, _ := e.Data()[key].(string)
	return s
}

// UserInput returns the form fields posted on the current HTTP turn.
func (e *StepExecutionContext) UserInput() map[string]any {
	if e.state.UserInput == nil {
		e.state.UserInput = map[string]any{}
	}
	return e.state.UserInput
}

// InputString reads a string-typed user-input value.
func (e *StepExecutionContext) InputString(key string) string {
	s, _ := e.UserInput()[key].(string)
	return s
}

// Config returns the step's administrator-configured settings.
func (e *StepExecutionContext) Config() map[string]any { return e.step.Config }

// ConfigString reads a string-typed config value.
func (e *StepExecutionContext) ConfigString(key string) string {
	s, _ := e.step.Config[key].(string)
	return s
}

// ConfigBool reads a bool-typed config value.
func (e *StepExecutionContext) ConfigBool(key string) bool {
	b, _ := e.step.Config[key].(bool)
	return b
}

// Services returns the tenant-scoped service bundle.
func (e *StepExecutionContext) Services() *Services { return e.services }

// Context returns the request-scoped context.Context for outbound I/O.
func (e *StepExecutionContext) Context() context.Context { return e.ctx }
