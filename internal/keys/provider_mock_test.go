package keys

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/mock/gomock"

	"github.com/meridianid/authserver/internal/keys/mocks"
	"github.com/meridianid/authserver/internal/model"
)

func TestJWKSPropagatesProviderFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockKeyMaterialProvider(ctrl)
	provider.EXPECT().GetJWK(gomock.Any(), "k1").Return(jose.JSONWebKey{}, errors.New("kms unavailable"))

	svc := NewService(provider, time.Hour)
	svc.Register(&model.SigningKey{KeyID: "k1", Algorithm: "ES256", Status: model.KeyActive, IncludeInJWKS: true})

	if _, err := svc.JWKS(context.Background()); err == nil {
		t.Fatal("a provider failure must surface rather than serving a partial JWKS")
	}
}

func TestJWKSSkipsExcludedKeysWithoutTouchingProvider(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockKeyMaterialProvider(ctrl)
	// No EXPECT: the provider must not be consulted for keys that are
	// excluded from the JWKS or outside the Active/Expired statuses.

	svc := NewService(provider, time.Hour)
	svc.Register(&model.SigningKey{KeyID: "hidden", Algorithm: "ES256", Status: model.KeyActive, IncludeInJWKS: false})
	svc.Register(&model.SigningKey{KeyID: "revoked", Algorithm: "ES256", Status: model.KeyRevoked, IncludeInJWKS: true})

	set, err := svc.JWKS(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Keys) != 0 {
		t.Fatalf("JWKS = %d keys, want 0", len(set.Keys))
	}
}
