package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

func withStore(t *testing.T, fn func(context.Context, *Store, *miniredis.Miniredis)) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := New(client, "test:auth:")
	defer func() {
		_ = s.Close()
		mr.Close()
	}()
	fn(context.Background(), s, mr)
}

func TestStoreImplementsStore(t *testing.T) {
	var _ store.Store = (*Store)(nil)
}

func TestPutAndGetClientRoundTrip(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		c := &model.Client{TenantID: "acme", ID: "web-app", AllowedScopes: []string{"openid"}}
		if err := s.PutClient(ctx, c); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetClient(ctx, "acme", "web-app")
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != "web-app" || len(got.AllowedScopes) != 1 {
			t.Fatalf("got %+v", got)
		}
	})
}

func TestGetClientNotFound(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		_, err := s.GetClient(ctx, "acme", "missing")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestAuthCodeExpiresViaTTL(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, mr *miniredis.Miniredis) {
		a := &model.AuthorizationCode{TenantID: "acme", Code: "abc", ExpiresAt: time.Now().Add(time.Second)}
		if err := s.PutAuthCode(ctx, a); err != nil {
			t.Fatal(err)
		}
		mr.FastForward(2 * time.Second)
		_, err := s.GetAuthCode(ctx, "acme", "abc")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound after TTL expiry", err)
		}
	})
}

func TestConsumeAuthCodeReportsReplay(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		a := &model.AuthorizationCode{TenantID: "acme", Code: "abc", ExpiresAt: time.Now().Add(time.Minute)}
		if err := s.PutAuthCode(ctx, a); err != nil {
			t.Fatal(err)
		}

		_, already, err := s.ConsumeAuthCode(ctx, "acme", "abc")
		if err != nil {
			t.Fatal(err)
		}
		if already {
			t.Fatal("first consumption should not be already-consumed")
		}

		_, already, err = s.ConsumeAuthCode(ctx, "acme", "abc")
		if err != nil {
			t.Fatal(err)
		}
		if !already {
			t.Fatal("replayed auth code must be reported as already-consumed")
		}
	})
}

func TestClaimDeviceCodeIsOneShot(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		d := &model.DeviceCode{TenantID: "acme", DeviceCode: "dc1", UserCode: "ABCD-EFGH", ExpiresAt: time.Now().Add(time.Minute)}
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
			t.Fatal("second claim must observe already-claimed")
		}
	})
}

func TestDeviceCodeByUserCodeLookup(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		d := &model.DeviceCode{TenantID: "acme", DeviceCode: "dc2", UserCode: "WXYZ-1234", ExpiresAt: time.Now().Add(time.Minute)}
		if err := s.PutDeviceCode(ctx, d); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetDeviceCodeByUserCode(ctx, "acme", "WXYZ-1234")
		if err != nil {
			t.Fatal(err)
		}
		if got.DeviceCode != "dc2" {
			t.Fatalf("DeviceCode = %s, want dc2", got.DeviceCode)
		}
	})
}

func TestConsumePAREntryDeletesAfterUse(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		p := &model.PAREntry{TenantID: "acme", RequestURI: "urn:ietf:params:oauth:request_uri:abc", ExpiresAt: time.Now().Add(time.Minute)}
		if err := s.PutPAREntry(ctx, p); err != nil {
			t.Fatal(err)
		}
		if _, err := s.ConsumePAREntry(ctx, "acme", p.RequestURI); err != nil {
			t.Fatal(err)
		}
		if _, err := s.ConsumePAREntry(ctx, "acme", p.RequestURI); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound on second consumption", err)
		}
	})
}

func TestDPoPJTIPutIfAbsentRejectsReplay(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
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
			t.Fatal("replayed jti must not be fresh")
		}
	})
}

func TestProtocolContextPutGetDelete(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
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
	})
}
