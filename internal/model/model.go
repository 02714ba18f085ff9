// Package model defines the tenant-scoped data entities of the
// authorization server. These are plain data structures; the
// stores in internal/store own their persistence and lifecycle.
package model

import (
	"crypto"
	"net/url"
	"time"

	"github.com/ory/fosite"
)

// RefreshTokenUsage controls whether a refresh token may be used more
// than once.
type RefreshTokenUsage string

// Refresh token usage modes.
const (
	UsageOneTimeOnly RefreshTokenUsage = "OneTimeOnly"
	UsageReUse       RefreshTokenUsage = "ReUse"
)

// RefreshTokenExpiration controls whether a refresh token's lifetime is a
// fixed absolute deadline or slides forward on each use.
type RefreshTokenExpiration string

// Refresh token expiration modes.
const (
	ExpirationAbsolute RefreshTokenExpiration = "Absolute"
	ExpirationSliding  RefreshTokenExpiration = "Sliding"
)

// Client is a relying-party registration.
type Client struct {
	TenantID                string
	ID                      string
	SecretHash              []byte
	Public                  bool
	RedirectURIs            []string
	AllowedScopes           []string
	AllowedGrantTypes       []string
	PKCERequired            bool
	PKCEPlainAllowed        bool
	DPoPRequired            bool
	PARRequired             bool
	ConsentRequired         bool
	LocalLoginEnabled       bool
	AllowedIdentityProvider []string
	AllowedUsers            []string
	AllowedRoles            []string
	AuthCodeLifetime        time.Duration
	AccessTokenLifetime     time.Duration
	IDTokenLifetime         time.Duration
	RefreshAbsoluteLifetime time.Duration
	RefreshSlidingLifetime  time.Duration
	RefreshTokenUsage       RefreshTokenUsage
	RefreshTokenExpiration  RefreshTokenExpiration
	UpdateClaimsOnRefresh   bool
	JourneyPolicyByPurpose  map[string]string
}

// HasRedirectURI reports whether uri is present, byte-exact, in the
// client's registered redirect URIs.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, r := range c.RedirectURIs {
		if r == uri {
			return true
		}
	}
	return false
}

// AllowsGrantType reports whether grantType is in the client's allowed
// grant type set via fosite's Arguments.Has membership check.
func (c *Client) AllowsGrantType(grantType string) bool {
	return fosite.Arguments(c.AllowedGrantTypes).Has(grantType)
}

// AllowsScope reports whether scope is in the client's allowed scope set.
func (c *Client) AllowsScope(scope string) bool {
	return fosite.Arguments(c.AllowedScopes).Has(scope)
}

// User is an authenticated principal.
type User struct {
	TenantID       string
	SubjectID      string
	Username       string
	Email          string
	EmailVerified  bool
	Phone          string
	PasswordHash   []byte
	Active         bool
	Roles          []string
	Properties     map[string]any
	LockedUntil    time.Time
	FailedAttempts int
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsLockedOut reports whether the user is currently in a lockout window.
func (u *User) IsLockedOut(now time.Time) bool {
	return !u.LockedUntil.IsZero() && now.Before(u.LockedUntil)
}

// ClaimValue is the tagged union used for the claims bag: a
// dynamic-key map whose values may be a string, number, bool, array of
// strings, or an array of nested maps (e.g. the "act" delegation chain).
type ClaimValue = any

// Claims is a dynamic claims bag, serialized to a JWT's payload preserving
// array/object structure.
type Claims map[string]ClaimValue

// Clone returns a shallow copy of the claims bag.
func (c Claims) Clone() Claims {
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// AuthorizationCode is a single-use authorization-code grant artifact.
type AuthorizationCode struct {
	TenantID            string
	Code                string
	ClientID            string
	SubjectID           string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	SessionID           string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Claims              Claims
	Consumed            bool
}

// IsExpired reports whether the code has expired as of now.
func (a *AuthorizationCode) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// RefreshGrant is a persisted refresh-token grant.
type RefreshGrant struct {
	TenantID      string
	Token         string
	ClientID      string
	SubjectID     string
	SessionID     string
	Scopes        []string
	Claims        Claims
	CreatedAt     time.Time
	LastUsedAt    time.Time
	ConsumedAt    time.Time
	AbsoluteExpAt time.Time
	Usage         RefreshTokenUsage
	Expiration    RefreshTokenExpiration
	SlidingWindow time.Duration
}

// IsConsumed reports whether this OneTimeOnly grant has already been used.
func (r *RefreshGrant) IsConsumed() bool {
	return !r.ConsumedAt.IsZero()
}

// IsExpired reports whether the grant has exceeded its absolute
// expiration.
func (r *RefreshGrant) IsExpired(now time.Time) bool {
	return !r.AbsoluteExpAt.IsZero() && now.After(r.AbsoluteExpAt)
}

// EffectiveExpiry returns min(absolute_expires, now + sliding_lifetime)
// for a sliding-expiration grant, or the absolute expiry otherwise.
func (r *RefreshGrant) EffectiveExpiry(now time.Time) time.Time {
	if r.Expiration != ExpirationSliding || r.SlidingWindow <= 0 {
		return r.AbsoluteExpAt
	}
	sliding := now.Add(r.SlidingWindow)
	if r.AbsoluteExpAt.IsZero() || sliding.Before(r.AbsoluteExpAt) {
		return sliding
	}
	return r.AbsoluteExpAt
}

// FamilyKey identifies the (subject, client, session) triple whose grants
// must be revoked together on replay detection.
type FamilyKey struct {
	TenantID  string
	SubjectID string
	ClientID  string
	SessionID string
}

// MatchesSession reports whether a grant with the given session id
// belongs to this family. An empty session id is a distinct,
// non-matching value: grants issued without a session (CIBA early
// flows) are never swept by an unrelated replay.
func (f FamilyKey) MatchesSession(sessionID string) bool {
	if f.SessionID == "" || sessionID == "" {
		return false
	}
	return f.SessionID == sessionID
}

// ConsentRecord is a granted-scopes record for a (subject, client) pair.
type ConsentRecord struct {
	TenantID   string
	SubjectID  string
	ClientID   string
	Scopes     []string
	GrantedAt  time.Time
	ExpiresAt  time.Time
}

// HasAllScopes reports whether every scope in requested was previously
// consented and the record has not expired.
func (c *ConsentRecord) HasAllScopes(requested []string, now time.Time) bool {
	if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt) {
		return false
	}
	granted := make(map[string]bool, len(c.Scopes))
	for _, s := range c.Scopes {
		granted[s] = true
	}
	for _, s := range requested {
		if !granted[s] {
			return false
		}
	}
	return true
}

// DeviceCodeStatus is the lifecycle state of a device-flow authorization.
type DeviceCodeStatus string

// Device code statuses.
const (
	DeviceCodePending    DeviceCodeStatus = "Pending"
	DeviceCodeAuthorized DeviceCodeStatus = "Authorized"
	DeviceCodeDenied     DeviceCodeStatus = "Denied"
)

// DeviceCode is a (device_code, user_code) pairing (RFC 8628).
type DeviceCode struct {
	TenantID     string
	DeviceCode   string
	UserCode     string
	ClientID     string
	Scopes       []string
	Status       DeviceCodeStatus
	SubjectID    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	PollInterval time.Duration
	LastPolledAt time.Time
	Claimed      bool
}

// IsExpired reports whether the device code has expired.
func (d *DeviceCode) IsExpired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// PAREntry is a pushed-authorization-request entry (RFC 9126).
type PAREntry struct {
	TenantID   string
	RequestURI string
	ClientID   string
	Params     url.Values
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Used       bool
}

// IsExpired reports whether the PAR entry has expired.
func (p *PAREntry) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// SigningKeyStatus is the lifecycle state of a signing key.
type SigningKeyStatus string

// Signing key statuses.
const (
	KeyPending SigningKeyStatus = "Pending"
	KeyActive  SigningKeyStatus = "Active"
	KeyExpired SigningKeyStatus = "Expired"
	KeyRevoked SigningKeyStatus = "Revoked"
	KeyArchived SigningKeyStatus = "Archived"
)

// SigningKey describes a single key in a tenant's signing-key set.
type SigningKey struct {
	TenantID         string
	KeyID            string
	Algorithm        string
	Status           SigningKeyStatus
	Key              crypto.Signer
	ExternalURI      string
	RotationPriority int
	IncludeInJWKS    bool
	CreatedAt        time.Time
	OverlapUntil     time.Time
}

// WebhookEndpoint is a per-tenant subscriber configuration for the event
// fan-out system.
type WebhookEndpoint struct {
	TenantID        string
	ID              string
	URL             string
	Secret          []byte
	SubscribedTypes []string
	Active          bool
}

// Subscribes reports whether this endpoint is subscribed to eventType.
func (w *WebhookEndpoint) Subscribes(eventType string) bool {
	if !w.Active {
		return false
	}
	for _, t := range w.SubscribedTypes {
		if t == eventType || t == "*" {
			return true
		}
	}
	return false
}

// DeliveryStatus is the lifecycle state of a webhook delivery attempt.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryPending   DeliveryStatus = "Pending"
	DeliverySucceeded DeliveryStatus = "Succeeded"
	DeliveryFailed    DeliveryStatus = "Failed"
	DeliveryExhausted DeliveryStatus = "Exhausted"
)

// PolicyStep is a single step of a JourneyPolicy: an id, its handler
// type, free-form configuration, and
// an optional branch table the engine consults when the step's result
// names a target step id rather than simply advancing.
type PolicyStep struct {
	ID         string
	Type       string
	Config     map[string]any
	Conditions map[string]any
	Branches   map[string]string
}

// JourneyPolicy is a named, ordered, administrator-editable sequence of
// steps.
type JourneyPolicy struct {
	TenantID string
	ID       string
	Steps    []PolicyStep
}

// StepByID returns the step with the given id, or false if none matches.
func (p *JourneyPolicy) StepByID(id string) (PolicyStep, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return PolicyStep{}, false
}

// JourneyState is a runtime instance of a JourneyPolicy, persisted
// across HTTP turns. Only the single request currently advancing a
// given JourneyID may mutate it.
type JourneyState struct {
	TenantID        string
	JourneyID       string
	PolicyID        string
	ClientID        string
	CorrelationID   string
	CurrentStep     int
	UserID          string
	AuthenticatedAt time.Time
	AuthMethod      string
	IDP             string
	Data            map[string]any
	UserInput       map[string]any
	PendingView     string
	PendingModel    map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
	Version         int
}

// Authenticated reports whether this journey has produced an
// authenticated principal: both UserID and AuthenticatedAt must be set.
func (j *JourneyState) Authenticated() bool {
	return j.UserID != "" && !j.AuthenticatedAt.IsZero()
}

// IsExpired reports whether the journey's TTL has elapsed.
func (j *JourneyState) IsExpired(now time.Time) bool {
	return now.After(j.ExpiresAt)
}

// ProtocolContext is the suspended state of an in-flight authorize request
// while a journey or a standalone UI page runs to completion. It is
// keyed by CorrelationID and resolved back to
// a resumable request by internal/protocol once the journey reports
// completion.
type ProtocolContext struct {
	TenantID       string
	CorrelationID  string
	EndpointType   string
	SerializedForm map[string][]string
	ClientID       string
	RedirectURI    string
	PolicyID       string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// IsExpired reports whether the suspended context has expired.
func (p *ProtocolContext) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// WebhookDelivery is a single at-least-once delivery record.
type WebhookDelivery struct {
	TenantID      string
	ID            string
	EndpointID    string
	EventType     string
	Payload       []byte
	Status        DeliveryStatus
	Attempts      int
	NextRetryAt   time.Time
	ResponseCode  int
	LastError     string
	CreatedAt     time.Time
}
