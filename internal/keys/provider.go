// Package keys implements the signing-key service: a versioned,
// per-tenant set of keys exposed through a polymorphic
// KeyMaterialProvider capability, with rotation and JWKS assembly.
package keys

import (
	"context"
	"crypto"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/meridianid/authserver/internal/model"
)

// KeyMaterialProvider is the polymorphic capability over key
// material: implementations may keep keys locally
// (encrypted at rest) or delegate to an external KMS/Key Vault.
type KeyMaterialProvider interface {
	Generate(ctx context.Context, algorithm string) (*model.SigningKey, error)
	GetSigningCredentials(ctx context.Context, keyID string) (crypto.Signer, error)
	GetPublicKey(ctx context.Context, keyID string) (crypto.PublicKey, error)
	GetJWK(ctx context.Context, keyID string) (jose.JSONWebKey, error)
	Delete(ctx context.Context, keyID string) error
}

// Service maintains a tenant's versioned signing-key set and exposes the
// highest-priority Active key for issuance plus JWKS material.
type Service struct {
	mu        sync.RWMutex
	provider  KeyMaterialProvider
	keys      map[string]*model.SigningKey // keyID -> key
	overlapTTL time.Duration
}

// NewService constructs a key Service backed by provider. overlapTTL is
// how long a rotated-out key remains Expired-but-verifiable before being
// marked Archived.
func NewService(provider KeyMaterialProvider, overlapTTL time.Duration) *Service {
	return &Service{
		provider:   provider,
		keys:       make(map[string]*model.SigningKey),
		overlapTTL: overlapTTL,
	}
}

// Register adds a key to the managed set (e.g. at tenant bootstrap from
// configuration).
func (s *Service) Register(key *model.SigningKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.KeyID] = key
}

// SigningKey returns the highest-rotation-priority Active key for token
// issuance.
func (s *Service) SigningKey() (*model.SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.SigningKey
	for _, k := range s.keys {
		if k.Status != model.KeyActive {
			continue
		}
		if best == nil || k.RotationPriority > best.RotationPriority {
			best = k
		}
	}
	if best == nil {
		return nil, fmt.Errorf("keys: no active signing key available")
	}
	return best, nil
}

// Rotate introduces a newKey as Active, demotes the prior Active key(s) to
// Expired with an overlap window during which it still verifies.
func (s *Service) Rotate(now time.Time, newKey *model.SigningKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.Status == model.KeyActive {
			k.Status = model.KeyExpired
			k.OverlapUntil = now.Add(s.overlapTTL)
		}
	}
	newKey.Status = model.KeyActive
	newKey.CreatedAt = now
	s.keys[newKey.KeyID] = newKey
}

// SweepExpired demotes keys whose overlap window has elapsed to Archived,
// removing them from JWKS.
func (s *Service) SweepExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.Status == model.KeyExpired && !k.OverlapUntil.IsZero() && now.After(k.OverlapUntil) {
			k.Status = model.KeyArchived
		}
	}
}

// JWKS returns the public material for every key whose status is Active
// or Expired (still within overlap) and IncludeInJWKS is true.
func (s *Service) JWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	s.mu.RLock()
	candidates := make([]*model.SigningKey, 0, len(s.keys))
	for _, k := range s.keys {
		if !k.IncludeInJWKS {
			continue
		}
		if k.Status != model.KeyActive && k.Status != model.KeyExpired {
			continue
		}
		candidates = append(candidates, k)
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].KeyID < candidates[j].KeyID })

	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(candidates))}
	for _, k := range candidates {
		jwk, err := s.provider.GetJWK(ctx, k.KeyID)
		if err != nil {
			return jose.JSONWebKeySet{}, fmt.Errorf("keys: building JWKS: %w", err)
		}
		set.Keys = append(set.Keys, jwk)
	}
	return set, nil
}
