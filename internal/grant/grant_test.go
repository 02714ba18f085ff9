package grant

import (
	"context"
	"net/url"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridianid/authserver/internal/accesspolicy"
	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/keys"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

func newTestIssuer(t *testing.T, now time.Time) *Issuer {
	t.Helper()
	provider := keys.NewLocalProvider()
	svc := keys.NewService(provider, time.Hour)
	key, err := provider.Generate(context.Background(), "ES256")
	if err != nil {
		t.Fatal(err)
	}
	key.Status = model.KeyActive
	svc.Register(key)
	return NewIssuer(svc, clock.NewFrozen(now), "https://issuer.example.com")
}

func testClient() *model.Client {
	return &model.Client{
		ID:                  "web-app",
		TenantID:            "acme",
		AllowedScopes:       []string{"openid", "profile", "offline_access"},
		AllowedGrantTypes:   []string{AuthorizationCodeGrantType, RefreshTokenGrantType, ClientCredentialsGrantType},
		AccessTokenLifetime: time.Hour,
		IDTokenLifetime:     time.Hour,
		RefreshAbsoluteLifetime: 30 * 24 * time.Hour,
	}
}

func TestRegistryDispatchRejectsDisallowedGrantType(t *testing.T) {
	r := NewRegistry(&ClientCredentialsHandler{Issuer: newTestIssuer(t, time.Now())})
	client := testClient()
	client.AllowedGrantTypes = nil

	_, err := r.Dispatch(context.Background(), &Request{TenantID: "acme", Client: client, GrantType: ClientCredentialsGrantType, Form: url.Values{}})
	if err == nil {
		t.Fatal("expected dispatch to reject a grant type not in the client's allowed set")
	}
}

func TestAuthorizationCodeHandlerIssuesTokensAndDetectsReplay(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	defer mem.Close()
	issuer := newTestIssuer(t, now)
	client := testClient()

	ac := &model.AuthorizationCode{
		TenantID: "acme", Code: "code-1", ClientID: client.ID, SubjectID: "user-1",
		RedirectURI: "https://app.example.com/cb", Scopes: []string{"openid", "offline_access"},
		SessionID: "sess-1", ExpiresAt: now.Add(time.Minute), Claims: model.Claims{"email": "a@example.com"},
	}
	if err := mem.PutAuthCode(context.Background(), ac); err != nil {
		t.Fatal(err)
	}
	if err := mem.PutUser(context.Background(), &model.User{TenantID: "acme", SubjectID: "user-1", Active: true}); err != nil {
		t.Fatal(err)
	}

	h := &AuthorizationCodeHandler{Codes: mem, Refresh: mem, Users: mem, Access: accesspolicy.NewEvaluator(), Issuer: issuer, Now: func() time.Time { return now }}
	form := url.Values{"code": {"code-1"}, "redirect_uri": {"https://app.example.com/cb"}}
	req := &Request{TenantID: "acme", Client: client, GrantType: AuthorizationCodeGrantType, Form: form}

	res, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.AccessToken == "" || res.IDToken == "" || res.RefreshToken == "" {
		t.Fatalf("expected access, id, and refresh tokens, got %+v", res)
	}

	// Replay: the refresh token family must now be revoked.
	_, err = h.Handle(context.Background(), req)
	if err == nil {
		t.Fatal("expected replay of a consumed authorization code to error")
	}
	rg, err := mem.GetRefreshGrant(context.Background(), "acme", res.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	if !rg.IsConsumed() {
		t.Fatal("expected the refresh token family to be revoked after code replay")
	}
}

func TestRefreshTokenHandlerRotatesOneTimeOnlyAndDetectsReuse(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	defer mem.Close()
	issuer := newTestIssuer(t, now)
	client := testClient()

	rg := &model.RefreshGrant{
		TenantID: "acme", Token: "rt-1", ClientID: client.ID, SubjectID: "user-1", SessionID: "sess-1",
		Scopes: []string{"openid"}, Usage: model.UsageOneTimeOnly, Expiration: model.ExpirationAbsolute,
		AbsoluteExpAt: now.Add(time.Hour),
	}
	if err := mem.PutRefreshGrant(context.Background(), rg); err != nil {
		t.Fatal(err)
	}
	if err := mem.PutUser(context.Background(), &model.User{TenantID: "acme", SubjectID: "user-1", Active: true}); err != nil {
		t.Fatal(err)
	}

	h := &RefreshTokenHandler{Refresh: mem, Users: mem, Access: accesspolicy.NewEvaluator(), Issuer: issuer, Now: func() time.Time { return now }}
	form := url.Values{"refresh_token": {"rt-1"}}
	req := &Request{TenantID: "acme", Client: client, GrantType: RefreshTokenGrantType, Form: form}

	res, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.RefreshToken == "" || res.RefreshToken == "rt-1" {
		t.Fatalf("expected a freshly rotated refresh token, got %q", res.RefreshToken)
	}

	// Reusing the now-consumed original token must be rejected and revoke
	// the whole family, including the just-issued rotated token.
	_, err = h.Handle(context.Background(), req)
	if err == nil {
		t.Fatal("expected reuse of a consumed OneTimeOnly refresh token to error")
	}
	rotated, err := mem.GetRefreshGrant(context.Background(), "acme", res.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	if !rotated.IsConsumed() {
		t.Fatal("expected the rotated token to be revoked as part of the family")
	}
}

func TestDeviceCodeHandlerClaimIsOneShot(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	defer mem.Close()
	issuer := newTestIssuer(t, now)
	client := testClient()

	d := &model.DeviceCode{
		TenantID: "acme", DeviceCode: "dc-1", UserCode: "ABCD-EFGH", ClientID: client.ID,
		Status: model.DeviceCodeAuthorized, SubjectID: "user-1", Scopes: []string{"openid"},
		ExpiresAt: now.Add(time.Minute), PollInterval: 0,
	}
	if err := mem.PutDeviceCode(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	h := &DeviceCodeHandler{Devices: mem, Issuer: issuer, Now: func() time.Time { return now }}
	form := url.Values{"device_code": {"dc-1"}}
	req := &Request{TenantID: "acme", Client: client, GrantType: DeviceCodeGrantType, Form: form}

	if _, err := h.Handle(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Handle(context.Background(), req); err == nil {
		t.Fatal("expected a second concurrent poll to fail the one-shot claim")
	}
}

func TestTokenExchangeHandlerNarrowsScopeAndRecordsDelegation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, now)
	client := testClient()
	client.AllowedScopes = []string{"openid", "read", "write"}

	subjectToken, _, err := issuer.AccessToken("acme", client.ID, "user-1", []string{"read", "write"}, time.Hour, "")
	if err != nil {
		t.Fatal(err)
	}
	actorToken, _, err := issuer.AccessToken("acme", client.ID, "service-1", []string{"read"}, time.Hour, "")
	if err != nil {
		t.Fatal(err)
	}

	h := &TokenExchangeHandler{Issuer: issuer, Now: func() time.Time { return now }}
	form := url.Values{"subject_token": {subjectToken}, "subject_token_type": {accessTokenType}, "actor_token": {actorToken}, "scope": {"read"}}
	req := &Request{TenantID: "acme", Client: client, GrantType: TokenExchangeGrantType, Form: form}

	res, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Scopes) != 1 || res.Scopes[0] != "read" {
		t.Fatalf("Scopes = %v, want [read]", res.Scopes)
	}
	if res.Claims == nil || res.Claims["act"] == nil {
		t.Fatal("expected an act delegation claim to be recorded")
	}
}

func TestPasswordHandlerAuthenticatesAndLocksOut(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	defer mem.Close()
	issuer := newTestIssuer(t, now)
	client := testClient()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.PutUser(context.Background(), &model.User{
		TenantID: "acme", SubjectID: "user-1", Username: "alice", PasswordHash: hash, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	h := &PasswordHandler{
		Users: mem, Access: accesspolicy.NewEvaluator(), Issuer: issuer,
		Lockout: LockoutPolicy{MaxFailedAttempts: 2, LockoutDuration: time.Hour},
		Now:     func() time.Time { return now },
	}

	res, err := h.Handle(context.Background(), &Request{
		TenantID: "acme", Client: client, GrantType: PasswordGrantType,
		RequestedScope: []string{"profile"},
		Form:           url.Values{"username": {"alice"}, "password": {"hunter2hunter2"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.AccessToken == "" {
		t.Fatal("expected an access token for valid credentials")
	}

	bad := &Request{
		TenantID: "acme", Client: client, GrantType: PasswordGrantType,
		Form: url.Values{"username": {"alice"}, "password": {"wrong"}},
	}
	for i := 0; i < 2; i++ {
		if _, err := h.Handle(context.Background(), bad); err == nil {
			t.Fatal("expected invalid credentials to error")
		}
	}

	// The account is now locked; even the correct password is refused.
	_, err = h.Handle(context.Background(), &Request{
		TenantID: "acme", Client: client, GrantType: PasswordGrantType,
		Form: url.Values{"username": {"alice"}, "password": {"hunter2hunter2"}},
	})
	if err == nil {
		t.Fatal("expected a locked account to refuse even valid credentials")
	}
}

func TestCIBAHandlerMapsStatusAndClaimsOnce(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	defer mem.Close()
	issuer := newTestIssuer(t, now)
	client := testClient()

	d := &model.DeviceCode{
		TenantID: "acme", DeviceCode: "req-1", ClientID: client.ID,
		Scopes: []string{"openid"}, Status: model.DeviceCodePending,
		ExpiresAt: now.Add(10 * time.Minute), PollInterval: 5 * time.Second,
	}
	if err := mem.PutDeviceCode(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	clockNow := now
	h := &CIBAHandler{Requests: mem, Issuer: issuer, Now: func() time.Time { return clockNow }}
	req := &Request{TenantID: "acme", Client: client, GrantType: CIBAGrantType, Form: url.Values{"auth_req_id": {"req-1"}}}

	if _, err := h.Handle(context.Background(), req); err == nil {
		t.Fatal("expected authorization_pending while the request is undecided")
	}

	d.Status = model.DeviceCodeAuthorized
	d.SubjectID = "user-1"
	if err := mem.UpdateDeviceCode(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	clockNow = clockNow.Add(6 * time.Second)
	res, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.AccessToken == "" || res.IDToken == "" {
		t.Fatalf("expected access and id tokens for an approved request, got %+v", res)
	}

	clockNow = clockNow.Add(6 * time.Second)
	if _, err := h.Handle(context.Background(), req); err == nil {
		t.Fatal("expected a consumed auth_req_id to be rejected")
	}
}
