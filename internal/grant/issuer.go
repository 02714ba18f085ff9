package grant

import (
	"context"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/keys"
	"github.com/meridianid/authserver/internal/model"
)

// Issuer mints access and ID tokens as signed JWTs using the tenant's
// current signing key. A standalone minting surface all grant
// handlers share.
type Issuer struct {
	keys     *keys.Service
	clock    clock.Clock
	issuer   string
	audience string
}

// NewIssuer constructs an Issuer bound to a tenant's signing key service.
func NewIssuer(k *keys.Service, c clock.Clock, issuerURL string) *Issuer {
	return &Issuer{keys: k, clock: c, issuer: issuerURL}
}

// registeredClaims are the standard JWT claims every minted token
// carries, merged with token-specific custom claims by the caller.
type registeredClaims struct {
	jwt.Claims
	ClientID string         `json:"client_id,omitempty"`
	Scope    string         `json:"scope,omitempty"`
	Cnf      *cnf           `json:"cnf,omitempty"`
	Act      map[string]any `json:"act,omitempty"`
}

type cnf struct {
	JKT string `json:"jkt,omitempty"`
}

func (i *Issuer) signer() (jose.Signer, *model.SigningKey, error) {
	key, err := i.keys.SigningKey()
	if err != nil {
		return nil, nil, fmt.Errorf("grant: no active signing key: %w", err)
	}
	jwk := jose.JSONWebKey{Key: key.Key, KeyID: key.KeyID, Algorithm: key.Algorithm, Use: "sig"}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(key.Algorithm), Key: jwk},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KeyID),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("grant: building signer: %w", err)
	}
	return signer, key, nil
}

// AccessToken mints a bearer or DPoP-bound access token. extra is an
// optional variadic claims bag (at most the first element is used)
// merged on top of the registered claims, e.g. RFC 8693's "act"
// delegation-chain claim.
func (i *Issuer) AccessToken(tenantID, clientID, subjectID string, scopes []string, lifetime time.Duration, dpopThumbprint string, extra ...model.Claims) (token string, expiresAt time.Time, err error) {
	signer, _, err := i.signer()
	if err != nil {
		return "", time.Time{}, err
	}
	now := i.clock.Now()
	exp := now.Add(lifetime)
	claims := registeredClaims{
		Claims: jwt.Claims{
			Issuer:    i.issuer,
			Subject:   subjectID,
			Audience:  jwt.Audience{clientID},
			Expiry:    jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		ClientID: clientID,
		Scope:    joinScopes(scopes),
	}
	if dpopThumbprint != "" {
		claims.Cnf = &cnf{JKT: dpopThumbprint}
	}
	builder := jwt.Signed(signer).Claims(claims)
	if len(extra) > 0 && len(extra[0]) > 0 {
		builder = builder.Claims(map[string]any(extra[0]))
	}
	out, err := builder.Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("grant: signing access token: %w", err)
	}
	return out, exp, nil
}

// IDToken mints an OIDC ID Token carrying the supplied claims bag on top
// of the registered claim set.
func (i *Issuer) IDToken(tenantID, clientID, subjectID string, extra model.Claims, lifetime time.Duration, nonce string) (string, error) {
	signer, _, err := i.signer()
	if err != nil {
		return "", err
	}
	now := i.clock.Now()
	std := jwt.Claims{
		Issuer:   i.issuer,
		Subject:  subjectID,
		Audience: jwt.Audience{clientID},
		Expiry:   jwt.NewNumericDate(now.Add(lifetime)),
		IssuedAt: jwt.NewNumericDate(now),
		ID:       uuid.NewString(),
	}
	body := extra.Clone()
	if nonce != "" {
		body["nonce"] = nonce
	}
	builder := jwt.Signed(signer).Claims(std).Claims(map[string]any(body))
	out, err := builder.Serialize()
	if err != nil {
		return "", fmt.Errorf("grant: signing id token: %w", err)
	}
	return out, nil
}

// RefreshToken generates an opaque, high-entropy refresh token value.
// Refresh tokens are stored server-side (internal/store), unlike access
// and ID tokens, so they need no JWT structure.
func RefreshToken() string {
	return uuid.NewString() + "." + uuid.NewString()
}

// AuthorizationCode generates an opaque authorization code value.
func AuthorizationCode() string {
	return uuid.NewString()
}

// VerifiedToken is the result of successfully verifying one of this
// server's own access tokens, used by the token_exchange grant to
// authenticate a subject_token.
type VerifiedToken struct {
	Subject  string
	ClientID string
	Scopes   []string
	Expiry   time.Time
	JTI      string
	// JKT is the RFC 9449 cnf.jkt thumbprint the token was bound to at
	// issuance, empty for bearer (non-DPoP) tokens.
	JKT      string
	// ActClaim is the token's own "act" delegation-chain claim, if any
	// (RFC 8693 §4.1), carried forward when this token is itself used as
	// an actor_token in a further exchange.
	ActClaim map[string]any
}

// VerifySubjectToken parses and verifies a JWT previously issued by
// this tenant's Issuer against its current JWKS, for use as an RFC 8693
// subject_token or actor_token.
func (i *Issuer) VerifySubjectToken(ctx context.Context, token string) (*VerifiedToken, error) {
	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{
		jose.RS256, jose.RS384, jose.RS512, jose.ES256, jose.ES384, jose.ES512,
	})
	if err != nil {
		return nil, fmt.Errorf("grant: token_exchange: parse subject_token: %w", err)
	}
	if len(tok.Headers) == 0 {
		return nil, fmt.Errorf("grant: token_exchange: subject_token has no header")
	}
	kid := tok.Headers[0].KeyID

	set, err := i.keys.JWKS(ctx)
	if err != nil {
		return nil, err
	}
	matches := set.Key(kid)
	if len(matches) == 0 {
		return nil, fmt.Errorf("grant: token_exchange: unknown signing key %q", kid)
	}

	var claims registeredClaims
	if err := tok.Claims(matches[0].Key, &claims); err != nil {
		return nil, fmt.Errorf("grant: token_exchange: signature verification failed: %w", err)
	}
	if err := claims.Claims.Validate(jwt.Expected{Time: i.clock.Now()}); err != nil {
		return nil, fmt.Errorf("grant: token_exchange: subject_token invalid: %w", err)
	}

	jkt := ""
	if claims.Cnf != nil {
		jkt = claims.Cnf.JKT
	}
	return &VerifiedToken{
		Subject:  claims.Subject,
		ClientID: claims.ClientID,
		Scopes:   splitScopeParam(claims.Scope),
		Expiry:   claims.Expiry.Time(),
		JTI:      claims.ID,
		JKT:      jkt,
		ActClaim: claims.Act,
	}, nil
}

// VerifyAccessToken parses and verifies one of this tenant's own access
// tokens without requiring audience match to a specific client, for use
// by introspection (RFC 7662) and revocation (RFC 7009) endpoints where
// the caller is the resource server or the token's own client rather
// than a relying party consuming an id_token-shaped subject_token.
func (i *Issuer) VerifyAccessToken(ctx context.Context, token string) (*VerifiedToken, error) {
	return i.VerifySubjectToken(ctx, token)
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
