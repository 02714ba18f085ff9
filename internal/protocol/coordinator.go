package protocol

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/oautherr"
	"github.com/meridianid/authserver/internal/store"
)

// DefaultAuthCodeTTL is the authorization code lifetime used when a
// client has not configured one.
const DefaultAuthCodeTTL = 300 * time.Second

// AuthResult describes an already-established authenticated principal,
// whether from an active session or a just-completed journey. Per the
// authentication-state contract, a principal is authenticated
// iff both SubjectID and AuthenticatedAt are set.
type AuthResult struct {
	SubjectID       string
	AuthenticatedAt time.Time
	AuthMethod      string
	IDP             string
	SessionID       string
	Claims          model.Claims
}

// Authenticated reports whether r represents a completed authentication.
func (r *AuthResult) Authenticated() bool {
	return r != nil && r.SubjectID != "" && !r.AuthenticatedAt.IsZero()
}

// JourneyStarter begins or resumes a user journey for a suspended
// authorize request. internal/journey implements this for the
// coordinator; it is expressed as an interface here so internal/protocol
// does not depend on the journey engine's internals.
type JourneyStarter interface {
	Start(ctx context.Context, tenantID, policyID, correlationID string) (redirectURL string, err error)
}

// OutcomeKind distinguishes what the HTTP layer must do with an Outcome.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeRedirect OutcomeKind = "redirect"
	OutcomeSuspend  OutcomeKind = "suspend"
)

// Outcome is the result of advancing the protocol state machine one step.
type Outcome struct {
	Kind          OutcomeKind
	RedirectURL   string
	CorrelationID string
	State         State
}

// Coordinator advances the authorize endpoint state machine:
// Received -> Validated -> (NeedsAuth -> JourneyRunning ->)
// (NeedsConsent ->) ReadyToIssue -> Completed, Error from any state.
type Coordinator struct {
	Clients          store.ClientStore
	Consents         store.ConsentStore
	Codes            store.AuthCodeStore
	ProtocolContexts store.ProtocolContextStore
	PAR              *PAR
	Journeys         JourneyStarter
	Clock            clock.Clock
}

// Authorize handles a fresh GET/POST to /connect/authorize. auth is nil
// when the caller has no evidence of an existing authenticated session;
// the HTTP layer supplies one when a session cookie resolves to an
// active login.
func (c *Coordinator) Authorize(ctx context.Context, tenantID string, params url.Values, auth *AuthResult) (*Outcome, error) {
	viaPAR := false
	if requestURI := params.Get("request_uri"); requestURI != "" && IsRequestURI(requestURI) {
		resolved, clientID, err := c.PAR.Resolve(ctx, tenantID, requestURI, params.Get("client_id"))
		if err != nil {
			return c.errorOutcome(tenantID, "", "", "", oautherr.New(oautherr.InvalidRequest, "invalid or expired request_uri", false)), nil
		}
		params = resolved
		if params.Get("client_id") == "" {
			params.Set("client_id", clientID)
		}
		viaPAR = true
	}

	req, client, vErr := Validate(ctx, c.Clients, tenantID, params, viaPAR)
	if vErr != nil {
		// req.RedirectURI may be attacker-supplied and unverified here;
		// errorOutcome only follows it when vErr.CanRedirect() is true,
		// which requires RedirectURIValidated, so an unvalidated value
		// can never produce a redirect.
		return c.errorOutcome(tenantID, req.RedirectURI, req.State, req.ResponseMode, vErr), nil
	}

	return c.decide(ctx, tenantID, req, client, auth, uuid.NewString())
}

// Resume continues a suspended authorize request after its journey (or
// standalone consent/login page) has completed, identified by
// correlationID.
func (c *Coordinator) Resume(ctx context.Context, tenantID, correlationID string, auth *AuthResult) (*Outcome, error) {
	pc, err := c.ProtocolContexts.GetProtocolContext(ctx, tenantID, correlationID)
	if err != nil {
		return nil, fmt.Errorf("protocol: resume: %w", err)
	}
	if pc.IsExpired(c.Clock.Now()) {
		return nil, fmt.Errorf("protocol: resume: correlation_id expired")
	}
	params := url.Values(pc.SerializedForm)

	req, client, vErr := Validate(ctx, c.Clients, tenantID, params, false)
	if vErr != nil {
		_ = c.ProtocolContexts.DeleteProtocolContext(ctx, tenantID, correlationID)
		return c.errorOutcome(tenantID, pc.RedirectURI, params.Get("state"), params.Get("response_mode"), vErr), nil
	}

	_ = c.ProtocolContexts.DeleteProtocolContext(ctx, tenantID, correlationID)
	return c.decide(ctx, tenantID, req, client, auth, correlationID)
}

func (c *Coordinator) decide(ctx context.Context, tenantID string, req *AuthorizeRequest, client *model.Client, auth *AuthResult, correlationID string) (*Outcome, error) {
	now := c.Clock.Now()

	needsAuth := !auth.Authenticated() || promptIncludes(req.Prompt, "login") || maxAgeExceeded(auth, req.MaxAgeSeconds, now)
	if needsAuth {
		if promptIncludes(req.Prompt, "none") {
			return c.errorOutcome(tenantID, req.RedirectURI, req.State, req.ResponseMode,
				oautherr.New(oautherr.LoginRequired, "authentication is required", true)), nil
		}
		return c.suspend(ctx, tenantID, req, client, correlationID)
	}

	consent, err := c.Consents.GetConsent(ctx, tenantID, auth.SubjectID, client.ID)
	if err != nil {
		consent = nil
	}
	if RequiresConsent(client, req.Prompt, consent, req.Scopes, now) {
		if promptIncludes(req.Prompt, "none") {
			return c.errorOutcome(tenantID, req.RedirectURI, req.State, req.ResponseMode,
				oautherr.New(oautherr.ConsentRequired, "consent is required", true)), nil
		}
		return c.suspend(ctx, tenantID, req, client, correlationID)
	}

	return c.issueCode(ctx, tenantID, req, client, auth)
}

func (c *Coordinator) suspend(ctx context.Context, tenantID string, req *AuthorizeRequest, client *model.Client, correlationID string) (*Outcome, error) {
	pc := &model.ProtocolContext{
		TenantID:       tenantID,
		CorrelationID:  correlationID,
		EndpointType:   "authorize",
		SerializedForm: req.toValues(),
		ClientID:       client.ID,
		RedirectURI:    req.RedirectURI,
		PolicyID:       req.PolicyID,
		CreatedAt:      c.Clock.Now(),
		ExpiresAt:      c.Clock.Now().Add(30 * time.Minute),
	}
	if err := c.ProtocolContexts.PutProtocolContext(ctx, pc); err != nil {
		return nil, err
	}
	redirectURL, err := c.Journeys.Start(ctx, tenantID, req.PolicyID, correlationID)
	if err != nil {
		return nil, err
	}
	return &Outcome{Kind: OutcomeSuspend, RedirectURL: redirectURL, CorrelationID: correlationID, State: StateJourneyRunning}, nil
}

func (c *Coordinator) issueCode(ctx context.Context, tenantID string, req *AuthorizeRequest, client *model.Client, auth *AuthResult) (*Outcome, error) {
	now := c.Clock.Now()
	lifetime := client.AuthCodeLifetime
	if lifetime <= 0 {
		lifetime = DefaultAuthCodeTTL
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}

	claims := model.Claims{}
	if auth.Claims != nil {
		claims = auth.Claims.Clone()
	}
	if hasOpenIDScope(req.Scopes) {
		claims["sub"] = auth.SubjectID
		if auth.AuthMethod != "" {
			claims["amr"] = []string{auth.AuthMethod}
		}
		if auth.IDP != "" {
			claims["idp"] = auth.IDP
		}
	}

	ac := &model.AuthorizationCode{
		TenantID:            tenantID,
		Code:                code,
		ClientID:            client.ID,
		SubjectID:           auth.SubjectID,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		SessionID:           auth.SessionID,
		CreatedAt:           now,
		ExpiresAt:           now.Add(lifetime),
		Claims:              claims,
	}
	if err := c.Codes.PutAuthCode(ctx, ac); err != nil {
		return nil, err
	}

	return &Outcome{
		Kind:        OutcomeRedirect,
		RedirectURL: BuildCodeRedirect(req.RedirectURI, code, req.State, req.ResponseMode),
		State:       StateCompleted,
	}, nil
}

func (c *Coordinator) errorOutcome(_ string, redirectURI, state, responseMode string, e *oautherr.Error) *Outcome {
	if e.CanRedirect() && redirectURI != "" {
		return &Outcome{Kind: OutcomeRedirect, RedirectURL: BuildErrorRedirect(redirectURI, e, state, responseMode), State: StateError}
	}
	return &Outcome{Kind: OutcomeRedirect, RedirectURL: "", State: StateError}
}

func maxAgeExceeded(auth *AuthResult, maxAgeSeconds *int, now time.Time) bool {
	if maxAgeSeconds == nil || !auth.Authenticated() {
		return false
	}
	return now.Sub(auth.AuthenticatedAt) > time.Duration(*maxAgeSeconds)*time.Second
}

// toValues re-serializes the request back into url.Values for
// persistence in a ProtocolContext, so Resume can re-validate and
// re-enter the state machine exactly as it left off.
func (r *AuthorizeRequest) toValues() map[string][]string {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("client_id", r.ClientID)
	set("redirect_uri", r.RedirectURI)
	set("response_type", r.ResponseType)
	if len(r.Scopes) > 0 {
		v.Set("scope", joinSpace(r.Scopes))
	}
	set("state", r.State)
	set("nonce", r.Nonce)
	set("response_mode", r.ResponseMode)
	set("prompt", r.Prompt)
	if r.MaxAgeSeconds != nil {
		v.Set("max_age", fmt.Sprintf("%d", *r.MaxAgeSeconds))
	}
	if len(r.ACRValues) > 0 {
		v.Set("acr_values", joinSpace(r.ACRValues))
	}
	set("code_challenge", r.CodeChallenge)
	set("code_challenge_method", r.CodeChallengeMethod)
	set("login_hint", r.LoginHint)
	if len(r.UILocales) > 0 {
		v.Set("ui_locales", joinSpace(r.UILocales))
	}
	set("id_token_hint", r.IDTokenHint)
	set("policy_id", r.PolicyID)
	set("ui_mode", r.UIMode)
	return v
}

func joinSpace(vs []string) string {
	out := ""
	for i, v := range vs {
		if i > 0 {
			out += " "
		}
		out += v
	}
	return out
}

func generateCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("protocol: generating authorization code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
