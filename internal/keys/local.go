package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/go-jose/go-jose/v4"

	"github.com/meridianid/authserver/internal/model"
)

// LocalProvider is a KeyMaterialProvider that keeps key material directly
// in process memory (or, in a production deployment, an encrypted local
// store behind the same interface). It is the default provider; an
// external KMS/Key Vault provider implements the same interface and can
// be substituted without changing Service.
type LocalProvider struct {
	mu   sync.RWMutex
	keys map[string]localKey
}

type localKey struct {
	signer    crypto.Signer
	algorithm string
}

// NewLocalProvider returns an empty LocalProvider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{keys: make(map[string]localKey)}
}

// Import registers an already-generated signer under keyID, e.g. one
// loaded from configuration at startup.
func (p *LocalProvider) Import(keyID, algorithm string, signer crypto.Signer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[keyID] = localKey{signer: signer, algorithm: algorithm}
}

// Generate creates a new key pair for the given algorithm and stores it
// under a fresh key ID.
func (p *LocalProvider) Generate(_ context.Context, algorithm string) (*model.SigningKey, error) {
	signer, err := generateSigner(algorithm)
	if err != nil {
		return nil, err
	}
	keyID := fmt.Sprintf("%s-%d", algorithm, len(p.keys)+1)

	p.mu.Lock()
	for {
		if _, exists := p.keys[keyID]; !exists {
			break
		}
		keyID += "x"
	}
	p.keys[keyID] = localKey{signer: signer, algorithm: algorithm}
	p.mu.Unlock()

	return &model.SigningKey{
		KeyID:         keyID,
		Algorithm:     algorithm,
		Status:        model.KeyPending,
		Key:           signer,
		IncludeInJWKS: true,
	}, nil
}

func generateSigner(algorithm string) (crypto.Signer, error) {
	switch algorithm {
	case "RS256", "RS384", "RS512":
		return rsa.GenerateKey(rand.Reader, 2048)
	case "ES256":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ES384":
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case "ES512":
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	default:
		return nil, fmt.Errorf("keys: unsupported algorithm %q", algorithm)
	}
}

// GetSigningCredentials returns the private signer for keyID.
func (p *LocalProvider) GetSigningCredentials(_ context.Context, keyID string) (crypto.Signer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	k, ok := p.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("keys: unknown key id %q", keyID)
	}
	return k.signer, nil
}

// GetPublicKey returns the public half of keyID.
func (p *LocalProvider) GetPublicKey(ctx context.Context, keyID string) (crypto.PublicKey, error) {
	signer, err := p.GetSigningCredentials(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return signer.Public(), nil
}

// GetJWK returns the public JWK for keyID, with "use":"sig" and "alg" set
// from the registered algorithm.
func (p *LocalProvider) GetJWK(ctx context.Context, keyID string) (jose.JSONWebKey, error) {
	p.mu.RLock()
	k, ok := p.keys[keyID]
	p.mu.RUnlock()
	if !ok {
		return jose.JSONWebKey{}, fmt.Errorf("keys: unknown key id %q", keyID)
	}
	pub, err := p.GetPublicKey(ctx, keyID)
	if err != nil {
		return jose.JSONWebKey{}, err
	}
	return jose.JSONWebKey{
		Key:       pub,
		KeyID:     keyID,
		Algorithm: k.algorithm,
		Use:       "sig",
	}, nil
}

// Delete removes keyID from the provider.
func (p *LocalProvider) Delete(_ context.Context, keyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, keyID)
	return nil
}

var _ KeyMaterialProvider = (*LocalProvider)(nil)
