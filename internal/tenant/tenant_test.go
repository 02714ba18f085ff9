package tenant

import (
	"context"
	"errors"
	"testing"
)

func TestStaticResolverResolvesKnownKey(t *testing.T) {
	acme := &Tenant{ID: "acme", Issuer: "https://acme.example.com"}
	r := NewStaticResolver(map[string]*Tenant{"acme.example.com": acme})

	got, err := r.Resolve(context.Background(), "acme.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "acme" {
		t.Fatalf("ID = %s, want acme", got.ID)
	}
}

func TestStaticResolverReturnsErrNotFound(t *testing.T) {
	r := NewStaticResolver(nil)
	_, err := r.Resolve(context.Background(), "missing.example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestWithTenantRoundTrips(t *testing.T) {
	acme := &Tenant{ID: "acme"}
	ctx := WithTenant(context.Background(), acme)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected tenant to be present in context")
	}
	if got != acme {
		t.Fatal("expected the same tenant pointer back")
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Fatal("expected ok=false for a context without a tenant")
	}
}

func TestTenantValidate(t *testing.T) {
	valid := &Tenant{ID: "acme", Issuer: "https://acme.example.com"}
	if err := valid.Validate(); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		tenant Tenant
	}{
		{"missing id", Tenant{Issuer: "https://acme.example.com"}},
		{"relative issuer", Tenant{ID: "acme", Issuer: "/connect"}},
		{"empty issuer", Tenant{ID: "acme"}},
		{"short session secret", Tenant{ID: "acme", Issuer: "https://acme.example.com", Config: Config{SessionSecret: []byte("short")}}},
		{"negative lifetime", Tenant{ID: "acme", Issuer: "https://acme.example.com", Config: Config{DefaultAuthCodeLifetime: -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.tenant.Validate(); err == nil {
				t.Fatal("expected validation to fail")
			}
		})
	}
}
