// Package dpop implements RFC 9449 Demonstration of Proof-of-Possession:
// validating a DPoP proof JWT against an HTTP method/URL, checking
// freshness, and computing the JWK thumbprint embedded in access tokens
// issued to DPoP-requiring clients.
package dpop

import (
	"context"
	"crypto"
	_ "crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/meridianid/authserver/internal/clock"
)

const proofType = "dpop+jwt"

// Claims carries the registered DPoP proof claims (RFC 9449 §4.2).
type Claims struct {
	HTM   string `json:"htm"`
	HTU   string `json:"htu"`
	IAT   int64  `json:"iat"`
	JTI   string `json:"jti"`
	ATH   string `json:"ath,omitempty"`
	Nonce string `json:"nonce,omitempty"`
}

// JTIStore records previously-seen proof jtis so a replayed proof is
// rejected.
type JTIStore interface {
	// PutIfAbsent records jti with the given expiration, returning false
	// if jti was already present (a replay).
	PutIfAbsent(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
}

// NonceStore validates a server-issued DPoP nonce.
type NonceStore interface {
	IsValid(ctx context.Context, clientOrTenantKey, nonce string) (bool, error)
}

// Validator validates DPoP proofs.
type Validator struct {
	clock     clock.Clock
	skew      time.Duration
	jtiWindow time.Duration
	jtis      JTIStore
}

// NewValidator constructs a Validator. skew bounds how far iat may drift
// from now; jtiWindow is the TTL used when recording a proof's jti (must
// be at least the acceptance window).
func NewValidator(c clock.Clock, skew, jtiWindow time.Duration, jtis JTIStore) *Validator {
	return &Validator{clock: c, skew: skew, jtiWindow: jtiWindow, jtis: jtis}
}

// Validate parses and checks a DPoP proof against the given HTTP method
// and URL, returning the proof's embedded JWK (for cnf.jkt comparison on
// resource access, or to bind a freshly issued token) and its thumbprint.
func (v *Validator) Validate(ctx context.Context, proof, method, url string) (jwk jose.JSONWebKey, thumbprint string, err error) {
	tok, err := jwt.ParseSigned(proof, []jose.SignatureAlgorithm{jose.ES256, jose.ES384, jose.ES512, jose.RS256, jose.RS384, jose.RS512})
	if err != nil {
		return jose.JSONWebKey{}, "", fmt.Errorf("dpop: parse proof: %w", err)
	}
	if len(tok.Headers) == 0 {
		return jose.JSONWebKey{}, "", fmt.Errorf("dpop: proof has no header")
	}
	header := tok.Headers[0]
	if header.ExtraHeaders["typ"] != proofType {
		return jose.JSONWebKey{}, "", fmt.Errorf("dpop: unexpected typ header %v", header.ExtraHeaders["typ"])
	}
	embeddedKey := header.JSONWebKey
	if embeddedKey == nil {
		return jose.JSONWebKey{}, "", fmt.Errorf("dpop: proof is missing embedded jwk")
	}

	var claims Claims
	if err := tok.Claims(embeddedKey.Key, &claims); err != nil {
		return jose.JSONWebKey{}, "", fmt.Errorf("dpop: signature verification failed: %w", err)
	}

	if claims.HTM != method {
		return jose.JSONWebKey{}, "", fmt.Errorf("dpop: htm mismatch")
	}
	if claims.HTU != url {
		return jose.JSONWebKey{}, "", fmt.Errorf("dpop: htu mismatch")
	}

	now := v.clock.Now()
	iat := time.Unix(claims.IAT, 0)
	if iat.Before(now.Add(-v.skew)) || iat.After(now.Add(v.skew)) {
		return jose.JSONWebKey{}, "", fmt.Errorf("dpop: iat outside acceptable skew")
	}
	if claims.JTI == "" {
		return jose.JSONWebKey{}, "", fmt.Errorf("dpop: missing jti")
	}

	fresh, err := v.jtis.PutIfAbsent(ctx, claims.JTI, now.Add(v.jtiWindow))
	if err != nil {
		return jose.JSONWebKey{}, "", fmt.Errorf("dpop: jti store: %w", err)
	}
	if !fresh {
		return jose.JSONWebKey{}, "", fmt.Errorf("dpop: replayed jti")
	}

	thumb, err := Thumbprint(*embeddedKey)
	if err != nil {
		return jose.JSONWebKey{}, "", err
	}
	return *embeddedKey, thumb, nil
}

// Thumbprint computes the RFC 7638 JWK thumbprint (base64url(sha256(...)))
// used as the access token's cnf.jkt claim.
func Thumbprint(key jose.JSONWebKey) (string, error) {
	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("dpop: computing thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// MatchesBoundToken reports whether a resource request's proof thumbprint
// matches the thumbprint bound into an access token's cnf.jkt claim
// (RFC 9449 §6.1).
func MatchesBoundToken(proofThumbprint, boundThumbprint string) bool {
	return proofThumbprint != "" && proofThumbprint == boundThumbprint
}

// marshalCnf renders the confirmation claim object embedded in an access
// token for a DPoP-bound issuance.
func marshalCnf(thumbprint string) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"jkt": thumbprint})
}
