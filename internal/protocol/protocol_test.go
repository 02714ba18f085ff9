package protocol

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

type stubJourney struct {
	redirectURL string
	started     bool
	tenantID    string
	policyID    string
	correlation string
}

func (s *stubJourney) Start(_ context.Context, tenantID, policyID, correlationID string) (string, error) {
	s.started = true
	s.tenantID, s.policyID, s.correlation = tenantID, policyID, correlationID
	return s.redirectURL, nil
}

func testClient() *model.Client {
	return &model.Client{
		TenantID:          "acme",
		ID:                "web-app",
		RedirectURIs:      []string{"https://app.example.com/cb"},
		AllowedScopes:     []string{"openid", "profile"},
		AllowedGrantTypes: []string{"authorization_code"},
		AuthCodeLifetime:  5 * time.Minute,
	}
}

func newCoordinator(t *testing.T, now time.Time, journey JourneyStarter) (*Coordinator, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })
	frozen := clock.NewFrozen(now)
	return &Coordinator{
		Clients:          mem,
		Consents:         mem,
		Codes:            mem,
		ProtocolContexts: mem,
		PAR:              &PAR{Store: mem, Clock: frozen},
		Journeys:         journey,
		Clock:            frozen,
	}, mem
}

func TestValidateRejectsUnknownClientWithUnvalidatedRedirect(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	params := url.Values{"client_id": {"ghost"}, "redirect_uri": {"https://evil.example.com"}}

	req, client, err := Validate(context.Background(), mem, "acme", params, false)
	if err == nil {
		t.Fatal("expected validation error for unknown client")
	}
	if client != nil {
		t.Fatal("expected no client resolved")
	}
	if err.RedirectURIValidated {
		t.Fatal("redirect_uri must not be reported as validated for an unknown client")
	}
	if req.RedirectURI != "https://evil.example.com" {
		t.Fatalf("req should still carry the raw value for logging, got %q", req.RedirectURI)
	}
}

func TestValidateRejectsUnregisteredRedirectURI(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	if err := mem.PutClient(context.Background(), testClient()); err != nil {
		t.Fatal(err)
	}
	params := url.Values{"client_id": {"web-app"}, "redirect_uri": {"https://evil.example.com"}}

	_, _, err := Validate(context.Background(), mem, "acme", params, false)
	if err == nil || err.RedirectURIValidated {
		t.Fatalf("expected an unvalidated-redirect error, got %+v", err)
	}
}

func TestAuthorizeIssuesCodeWhenAlreadyAuthenticated(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	journey := &stubJourney{}
	c, mem := newCoordinator(t, now, journey)
	if err := mem.PutClient(context.Background(), testClient()); err != nil {
		t.Fatal(err)
	}

	params := url.Values{
		"client_id": {"web-app"}, "redirect_uri": {"https://app.example.com/cb"},
		"response_type": {"code"}, "scope": {"openid profile"}, "state": {"xyz"},
	}
	auth := &AuthResult{SubjectID: "user-1", AuthenticatedAt: now, AuthMethod: "pwd"}

	outcome, err := c.Authorize(context.Background(), "acme", params, auth)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != OutcomeRedirect {
		t.Fatalf("Kind = %v, want OutcomeRedirect", outcome.Kind)
	}
	if journey.started {
		t.Fatal("journey should not start for an already-authenticated request")
	}
	u, err := url.Parse(outcome.RedirectURL)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get("code") == "" {
		t.Fatal("expected a code parameter in the redirect")
	}
	if u.Query().Get("state") != "xyz" {
		t.Fatalf("state = %q, want xyz", u.Query().Get("state"))
	}
}

func TestAuthorizeSuspendsToJourneyWhenNotAuthenticated(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	journey := &stubJourney{redirectURL: "https://login.example.com/start"}
	c, mem := newCoordinator(t, now, journey)
	client := testClient()
	client.JourneyPolicyByPurpose = map[string]string{"authentication": "default-login"}
	if err := mem.PutClient(context.Background(), client); err != nil {
		t.Fatal(err)
	}

	params := url.Values{
		"client_id": {"web-app"}, "redirect_uri": {"https://app.example.com/cb"},
		"response_type": {"code"}, "scope": {"openid"},
	}

	outcome, err := c.Authorize(context.Background(), "acme", params, nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != OutcomeSuspend {
		t.Fatalf("Kind = %v, want OutcomeSuspend", outcome.Kind)
	}
	if !journey.started || journey.policyID != "default-login" {
		t.Fatalf("expected journey to start with policy default-login, got %+v", journey)
	}
	if outcome.CorrelationID == "" {
		t.Fatal("expected a correlation id")
	}

	pc, err := mem.GetProtocolContext(context.Background(), "acme", outcome.CorrelationID)
	if err != nil {
		t.Fatal(err)
	}
	if pc.ClientID != "web-app" {
		t.Fatalf("ClientID = %q, want web-app", pc.ClientID)
	}
}

func TestResumeIssuesCodeAfterJourneyCompletes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	journey := &stubJourney{redirectURL: "https://login.example.com/start"}
	c, mem := newCoordinator(t, now, journey)
	if err := mem.PutClient(context.Background(), testClient()); err != nil {
		t.Fatal(err)
	}

	params := url.Values{
		"client_id": {"web-app"}, "redirect_uri": {"https://app.example.com/cb"},
		"response_type": {"code"}, "scope": {"openid"}, "state": {"s1"},
	}
	suspended, err := c.Authorize(context.Background(), "acme", params, nil)
	if err != nil {
		t.Fatal(err)
	}

	auth := &AuthResult{SubjectID: "user-1", AuthenticatedAt: now, AuthMethod: "pwd"}
	outcome, err := c.Resume(context.Background(), "acme", suspended.CorrelationID, auth)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != OutcomeRedirect {
		t.Fatalf("Kind = %v, want OutcomeRedirect", outcome.Kind)
	}
	u, err := url.Parse(outcome.RedirectURL)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get("code") == "" || u.Query().Get("state") != "s1" {
		t.Fatalf("unexpected redirect %q", outcome.RedirectURL)
	}

	if _, err := mem.GetProtocolContext(context.Background(), "acme", suspended.CorrelationID); err == nil {
		t.Fatal("expected the protocol context to be consumed after resume")
	}
}

func TestPARPushAndResolveIsOneTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	defer mem.Close()
	p := &PAR{Store: mem, Clock: clock.NewFrozen(now)}

	params := url.Values{"redirect_uri": {"https://app.example.com/cb"}, "response_type": {"code"}}
	requestURI, expiresIn, err := p.Push(context.Background(), "acme", "web-app", params)
	if err != nil {
		t.Fatal(err)
	}
	if expiresIn != DefaultPARTTL {
		t.Fatalf("expiresIn = %v, want %v", expiresIn, DefaultPARTTL)
	}

	resolved, clientID, err := p.Resolve(context.Background(), "acme", requestURI, "web-app")
	if err != nil {
		t.Fatal(err)
	}
	if clientID != "web-app" || resolved.Get("redirect_uri") != "https://app.example.com/cb" {
		t.Fatalf("unexpected resolution: %q %v", clientID, resolved)
	}

	if _, _, err := p.Resolve(context.Background(), "acme", requestURI, "web-app"); err == nil {
		t.Fatal("expected a second resolution of the same request_uri to fail")
	}
}

func TestAuthorizeViaPARMismatchedClientIDFails(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c, mem := newCoordinator(t, now, &stubJourney{})
	if err := mem.PutClient(context.Background(), testClient()); err != nil {
		t.Fatal(err)
	}

	params := url.Values{"client_id": {"web-app"}, "redirect_uri": {"https://app.example.com/cb"}, "response_type": {"code"}}
	requestURI, _, err := c.PAR.Push(context.Background(), "acme", "web-app", params)
	if err != nil {
		t.Fatal(err)
	}

	authorizeParams := url.Values{"client_id": {"other-client"}, "request_uri": {requestURI}}
	outcome, err := c.Authorize(context.Background(), "acme", authorizeParams, nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.RedirectURL != "" {
		t.Fatalf("expected no redirect on a PAR client_id mismatch, got %q", outcome.RedirectURL)
	}
}
