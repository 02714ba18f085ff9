package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/protocol"
)

// SessionCookieName is the cookie the authorize endpoint consults to
// recognize an already-authenticated browser.
const SessionCookieName = "authserver_session"

// sessionClaims is the signed, opaque payload carried by the session
// cookie. It round-trips exactly what protocol.AuthResult needs to
// satisfy the authentication-state contract on a later
// /connect/authorize turn.
type sessionClaims struct {
	jwt.Claims
	SessionID       string       `json:"sid,omitempty"`
	AuthenticatedAt int64        `json:"auth_time,omitempty"`
	AuthMethod      string       `json:"amr,omitempty"`
	IDP             string       `json:"idp,omitempty"`
	ClaimsBag       model.Claims `json:"claims,omitempty"`
}

// SessionCodec signs and verifies the browser session cookie with a
// per-tenant symmetric key, the way the Issuer signs tokens with an
// asymmetric one: both exist so the protocol and journey layers never
// have to reason about cookie transport directly.
type SessionCodec struct {
	secret []byte
	clock  clock.Clock
	ttl    time.Duration
}

// NewSessionCodec constructs a SessionCodec. ttl bounds how long a
// session cookie remains acceptable regardless of the browser's own
// cookie expiration.
func NewSessionCodec(secret []byte, c clock.Clock, ttl time.Duration) *SessionCodec {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionCodec{secret: secret, clock: c, ttl: ttl}
}

// Encode signs auth into a compact JWS suitable for a cookie value.
func (s *SessionCodec) Encode(auth *protocol.AuthResult) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: s.secret}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("httpapi: building session signer: %w", err)
	}
	now := s.clock.Now()
	claims := sessionClaims{
		Claims: jwt.Claims{
			Subject:  auth.SubjectID,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(s.ttl)),
		},
		SessionID:       auth.SessionID,
		AuthenticatedAt: auth.AuthenticatedAt.Unix(),
		AuthMethod:      auth.AuthMethod,
		IDP:             auth.IDP,
		ClaimsBag:       auth.Claims,
	}
	return jwt.Signed(signer).Claims(claims).Serialize()
}

// Decode verifies and parses a session cookie value back into an
// AuthResult, or returns an error if the signature or expiry is invalid.
func (s *SessionCodec) Decode(token string) (*protocol.AuthResult, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("httpapi: parsing session cookie: %w", err)
	}
	var claims sessionClaims
	if err := parsed.Claims(s.secret, &claims); err != nil {
		return nil, fmt.Errorf("httpapi: session cookie signature invalid: %w", err)
	}
	if err := claims.Claims.Validate(jwt.Expected{Time: s.clock.Now()}); err != nil {
		return nil, fmt.Errorf("httpapi: session cookie expired: %w", err)
	}
	return &protocol.AuthResult{
		SubjectID:       claims.Subject,
		SessionID:       claims.SessionID,
		AuthenticatedAt: time.Unix(claims.AuthenticatedAt, 0),
		AuthMethod:      claims.AuthMethod,
		IDP:             claims.IDP,
		Claims:          claims.ClaimsBag,
	}, nil
}

// ResolveAuth reads and verifies the session cookie from r, returning
// nil (not an error) when no valid session is present — the coordinator
// treats a nil AuthResult as "not authenticated".
func (s *SessionCodec) ResolveAuth(r *http.Request) *protocol.AuthResult {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil
	}
	auth, err := s.Decode(cookie.Value)
	if err != nil {
		return nil
	}
	return auth
}

// SetCookie writes auth as a signed, HttpOnly session cookie.
func (s *SessionCodec) SetCookie(w http.ResponseWriter, auth *protocol.AuthResult) error {
	token, err := s.Encode(auth)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  s.clock.Now().Add(s.ttl),
	})
	return nil
}

// ClearCookie expires the session cookie immediately.
func (s *SessionCodec) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
