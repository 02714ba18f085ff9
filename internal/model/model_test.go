package model

import (
	"testing"
	"time"
)

func TestClientHasRedirectURIIsByteExact(t *testing.T) {
	c := &Client{RedirectURIs: []string{"https://app.example.com/cb"}}
	if !c.HasRedirectURI("https://app.example.com/cb") {
		t.Fatal("expected exact match to succeed")
	}
	if c.HasRedirectURI("https://app.example.com/cb/") {
		t.Fatal("trailing slash must not match")
	}
	if c.HasRedirectURI("https://APP.example.com/cb") {
		t.Fatal("case must not be normalized")
	}
}

func TestRefreshGrantEffectiveExpirySliding(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &RefreshGrant{
		Expiration:    ExpirationSliding,
		SlidingWindow: time.Hour,
		AbsoluteExpAt: now.Add(30 * time.Minute),
	}
	// sliding window would push past the absolute cap, so absolute wins.
	if got := g.EffectiveExpiry(now); !got.Equal(g.AbsoluteExpAt) {
		t.Fatalf("EffectiveExpiry = %v, want absolute cap %v", got, g.AbsoluteExpAt)
	}

	g.AbsoluteExpAt = now.Add(24 * time.Hour)
	if got, want := g.EffectiveExpiry(now), now.Add(time.Hour); !got.Equal(want) {
		t.Fatalf("EffectiveExpiry = %v, want sliding window %v", got, want)
	}
}

func TestFamilyKeyMatchesSessionTreatsEmptyAsNonMatching(t *testing.T) {
	f := FamilyKey{SessionID: ""}
	if f.MatchesSession("") {
		t.Fatal("two empty session ids must not be treated as matching")
	}
	f.SessionID = "sess-1"
	if !f.MatchesSession("sess-1") {
		t.Fatal("identical non-empty session ids must match")
	}
	if f.MatchesSession("") {
		t.Fatal("non-empty family session must not match an empty session id")
	}
}

func TestConsentRecordHasAllScopes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &ConsentRecord{Scopes: []string{"openid", "profile"}, ExpiresAt: now.Add(time.Hour)}
	if !c.HasAllScopes([]string{"openid"}, now) {
		t.Fatal("subset of granted scopes should satisfy consent")
	}
	if c.HasAllScopes([]string{"openid", "email"}, now) {
		t.Fatal("ungranted scope should not satisfy consent")
	}
	if c.HasAllScopes([]string{"openid"}, now.Add(2*time.Hour)) {
		t.Fatal("expired consent should not satisfy even previously granted scopes")
	}
}

func TestAuthorizationCodeExpirationBoundary(t *testing.T) {
	expiresAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	code := &AuthorizationCode{ExpiresAt: expiresAt}
	if code.IsExpired(expiresAt.Add(-time.Millisecond)) {
		t.Fatal("code must still be valid 1ms before expiry")
	}
	if !code.IsExpired(expiresAt.Add(time.Millisecond)) {
		t.Fatal("code must be expired 1ms after expiry")
	}
}
