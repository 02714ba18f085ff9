package keys

import (
	"context"
	"testing"
	"time"

	"github.com/meridianid/authserver/internal/model"
)

func TestServiceSigningKeyPrefersHighestPriority(t *testing.T) {
	provider := NewLocalProvider()
	svc := NewService(provider, time.Hour)

	low, err := provider.Generate(context.Background(), "ES256")
	if err != nil {
		t.Fatal(err)
	}
	low.Status = model.KeyActive
	low.RotationPriority = 1
	svc.Register(low)

	high, err := provider.Generate(context.Background(), "ES256")
	if err != nil {
		t.Fatal(err)
	}
	high.Status = model.KeyActive
	high.RotationPriority = 2
	svc.Register(high)

	got, err := svc.SigningKey()
	if err != nil {
		t.Fatal(err)
	}
	if got.KeyID != high.KeyID {
		t.Fatalf("SigningKey() = %s, want %s (higher priority)", got.KeyID, high.KeyID)
	}
}

func TestRotateDemotesOldActiveKey(t *testing.T) {
	provider := NewLocalProvider()
	svc := NewService(provider, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	oldKey, _ := provider.Generate(context.Background(), "ES256")
	oldKey.Status = model.KeyActive
	svc.Register(oldKey)

	newKey, _ := provider.Generate(context.Background(), "ES256")
	svc.Rotate(now, newKey)

	if oldKey.Status != model.KeyExpired {
		t.Fatalf("old key status = %s, want Expired", oldKey.Status)
	}
	if oldKey.OverlapUntil.IsZero() {
		t.Fatal("expected overlap window to be set on demoted key")
	}
	got, err := svc.SigningKey()
	if err != nil {
		t.Fatal(err)
	}
	if got.KeyID != newKey.KeyID {
		t.Fatalf("SigningKey() after rotate = %s, want %s", got.KeyID, newKey.KeyID)
	}
}

func TestJWKSIncludesActiveExcludesArchived(t *testing.T) {
	provider := NewLocalProvider()
	svc := NewService(provider, time.Hour)

	active, _ := provider.Generate(context.Background(), "ES256")
	active.Status = model.KeyActive
	active.IncludeInJWKS = true
	svc.Register(active)

	archived, _ := provider.Generate(context.Background(), "ES256")
	archived.Status = model.KeyArchived
	archived.IncludeInJWKS = true
	svc.Register(archived)

	set, err := svc.JWKS(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("expected exactly 1 JWKS entry (active only), got %d", len(set.Keys))
	}
	if set.Keys[0].KeyID != active.KeyID {
		t.Fatalf("unexpected key in JWKS: %s", set.Keys[0].KeyID)
	}
}

func TestSweepExpiredArchivesPastOverlap(t *testing.T) {
	provider := NewLocalProvider()
	svc := NewService(provider, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	key, _ := provider.Generate(context.Background(), "ES256")
	key.Status = model.KeyExpired
	key.OverlapUntil = now.Add(-time.Minute)
	svc.Register(key)

	svc.SweepExpired(now)
	if key.Status != model.KeyArchived {
		t.Fatalf("status = %s, want Archived after overlap elapses", key.Status)
	}
}
