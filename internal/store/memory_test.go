package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridianid/authserver/internal/model"
)

func withMemoryStore(t *testing.T, fn func(context.Context, *MemoryStore)) {
	t.Helper()
	s := NewMemoryStore(WithCleanupInterval(time.Minute))
	defer s.Close()
	fn(context.Background(), s)
}

func TestMemoryStoreImplementsStore(t *testing.T) {
	var _ Store = (*MemoryStore)(nil)
}

func TestGetClientNotFound(t *testing.T) {
	withMemoryStore(t, func(ctx context.Context, s *MemoryStore) {
		_, err := s.GetClient(ctx, "acme", "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestPutAndGetClientRoundTrip(t *testing.T) {
	withMemoryStore(t, func(ctx context.Context, s *MemoryStore) {
		c := &model.Client{TenantID: "acme", ID: "web-app"}
		if err := s.PutClient(ctx, c); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetClient(ctx, "acme", "web-app")
		if err != nil {
			t.Fatal(err)
		}
		if got != c {
			t.Fatal("expected same pointer back")
		}

		// A client registered under a different tenant must not leak.
		_, err = s.GetClient(ctx, "other-tenant", "web-app")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("cross-tenant lookup err = %v, want ErrNotFound", err)
		}
	})
}

func TestConsumeAuthCodeIsOneTimeAndReportsReplay(t *testing.T) {
	withMemoryStore(t, func(ctx context.Context, s *MemoryStore) {
		code := &model.AuthorizationCode{TenantID: "acme", Code: "abc", ExpiresAt: time.Now().Add(time.Minute)}
		if err := s.PutAuthCode(ctx, code); err != nil {
			t.Fatal(err)
		}

		got, already, err := s.ConsumeAuthCode(ctx, "acme", "abc")
		if err != nil {
			t.Fatal(err)
		}
		if already {
			t.Fatal("first consumption should not report already-consumed")
		}
		if !got.Consumed {
			t.Fatal("expected code to be marked consumed")
		}

		_, already, err = s.ConsumeAuthCode(ctx, "acme", "abc")
		if err != nil {
			t.Fatal(err)
		}
		if !already {
			t.Fatal("second consumption must report already-consumed for replay detection")
		}
	})
}

func TestConsumeRefreshGrantOneTimeOnly(t *testing.T) {
	withMemoryStore(t, func(ctx context.Context, s *MemoryStore) {
		r := &model.RefreshGrant{TenantID: "acme", Token: "rt-1", Usage: model.UsageOneTimeOnly}
		if err := s.PutRefreshGrant(ctx, r); err != nil {
			t.Fatal(err)
		}

		_, already, err := s.ConsumeRefreshGrant(ctx, "acme", "rt-1")
		if err != nil {
			t.Fatal(err)
		}
		if already {
			t.Fatal("first use should not be already-consumed")
		}

		_, already, err = s.ConsumeRefreshGrant(ctx, "acme", "rt-1")
		if err != nil {
			t.Fatal(err)
		}
		if !already {
			t.Fatal("reuse of a OneTimeOnly grant must be reported")
		}
	})
}

func TestRevokeFamilyRevokesMatchingSessionOnly(t *testing.T) {
	withMemoryStore(t, func(ctx context.Context, s *MemoryStore) {
		inFamily := &model.RefreshGrant{TenantID: "acme", Token: "a", SubjectID: "u1", ClientID: "c1", SessionID: "s1"}
		otherSession := &model.RefreshGrant{TenantID: "acme", Token: "b", SubjectID: "u1", ClientID: "c1", SessionID: "s2"}
		if err := s.PutRefreshGrant(ctx, inFamily); err != nil {
			t.Fatal(err)
		}
		if err := s.PutRefreshGrant(ctx, otherSession); err != nil {
			t.Fatal(err)
		}

		err := s.RevokeFamily(ctx, model.FamilyKey{TenantID: "acme", SubjectID: "u1", ClientID: "c1", SessionID: "s1"})
		if err != nil {
			t.Fatal(err)
		}

		got, _ := s.GetRefreshGrant(ctx, "acme", "a")
		if !got.IsConsumed() {
			t.Fatal("grant in the revoked family should be consumed")
		}
		got2, _ := s.GetRefreshGrant(ctx, "acme", "b")
		if got2.IsConsumed() {
			t.Fatal("grant from a different session must not be revoked")
		}
	})
}

func TestClaimDeviceCodeIsOneShot(t *testing.T) {
	withMemoryStore(t, func(ctx context.Context, s *MemoryStore) {
		d := &model.DeviceCode{TenantID: "acme", DeviceCode: "dc1", UserCode: "ABCD-EFGH", Status: model.DeviceCodeAuthorized}
		if err := s.PutDeviceCode(ctx, d); err != nil {
			t.Fatal(err)
		}

		_, already, err := s.ClaimDeviceCode(ctx, "acme", "dc1")
		if err != nil {
			t.Fatal(err)
		}
		if already {
			t.Fatal("first claim should succeed")
		}

		_, already, err = s.ClaimDeviceCode(ctx, "acme", "dc1")
		if err != nil {
			t.Fatal(err)
		}
		if !already {
			t.Fatal("a concurrent second poll must observe already-claimed")
		}
	})
}

func TestConsumePAREntryIsStrictlyOneTime(t *testing.T) {
	withMemoryStore(t, func(ctx context.Context, s *MemoryStore) {
		p := &model.PAREntry{TenantID: "acme", RequestURI: "urn:ietf:params:oauth:request_uri:abc", ExpiresAt: time.Now().Add(time.Minute)}
		if err := s.PutPAREntry(ctx, p); err != nil {
			t.Fatal(err)
		}

		if _, err := s.ConsumePAREntry(ctx, "acme", p.RequestURI); err != nil {
			t.Fatal(err)
		}
		if _, err := s.ConsumePAREntry(ctx, "acme", p.RequestURI); !errors.Is(err, ErrNotFound) {
			t.Fatalf("second consumption err = %v, want ErrNotFound", err)
		}
	})
}

func TestDPoPJTIPutIfAbsentRejectsReplay(t *testing.T) {
	withMemoryStore(t, func(ctx context.Context, s *MemoryStore) {
		exp := time.Now().Add(time.Minute)
		fresh, err := s.PutIfAbsent(ctx, "acme", "jti-1", exp)
		if err != nil {
			t.Fatal(err)
		}
		if !fresh {
			t.Fatal("first insertion should be fresh")
		}
		fresh, err = s.PutIfAbsent(ctx, "acme", "jti-1", exp)
		if err != nil {
			t.Fatal(err)
		}
		if fresh {
			t.Fatal("second insertion of the same jti must not be fresh")
		}
	})
}

func TestSweepRemovesExpiredAuthCodes(t *testing.T) {
	s := NewMemoryStore(WithCleanupInterval(time.Hour))
	defer s.Close()
	ctx := context.Background()

	expired := &model.AuthorizationCode{TenantID: "acme", Code: "old", ExpiresAt: time.Now().Add(-time.Minute)}
	if err := s.PutAuthCode(ctx, expired); err != nil {
		t.Fatal(err)
	}

	s.sweep(time.Now())

	if _, err := s.GetAuthCode(ctx, "acme", "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired code to be swept, err = %v", err)
	}
}

func TestDueDeliveriesFiltersByStatusAndTime(t *testing.T) {
	withMemoryStore(t, func(ctx context.Context, s *MemoryStore) {
		now := time.Now()
		due := &model.WebhookDelivery{TenantID: "acme", ID: "d1", Status: model.DeliveryPending, NextRetryAt: now.Add(-time.Second)}
		notYet := &model.WebhookDelivery{TenantID: "acme", ID: "d2", Status: model.DeliveryPending, NextRetryAt: now.Add(time.Hour)}
		done := &model.WebhookDelivery{TenantID: "acme", ID: "d3", Status: model.DeliverySucceeded, NextRetryAt: now.Add(-time.Second)}

		for _, d := range []*model.WebhookDelivery{due, notYet, done} {
			if err := s.PutDelivery(ctx, d); err != nil {
				t.Fatal(err)
			}
		}

		got, err := s.DueDeliveries(ctx, now, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "d1" {
			t.Fatalf("DueDeliveries = %+v, want only d1", got)
		}
	})
}

func TestProtocolContextPutGetDelete(t *testing.T) {
	withMemoryStore(t, func(ctx context.Context, s *MemoryStore) {
		p := &model.ProtocolContext{TenantID: "acme", CorrelationID: "corr-1", EndpointType: "authorize", ExpiresAt: time.Now().Add(time.Minute)}
		if err := s.PutProtocolContext(ctx, p); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetProtocolContext(ctx, "acme", "corr-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.EndpointType != "authorize" {
			t.Fatalf("EndpointType = %q, want authorize", got.EndpointType)
		}
		if err := s.DeleteProtocolContext(ctx, "acme", "corr-1"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.GetProtocolContext(ctx, "acme", "corr-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}
