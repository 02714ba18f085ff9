// Package store defines the persistence boundary for every tenant-scoped
// entity in the authorization server. It is the
// storage contract of the server, split into small
// per-entity interfaces so a backend can implement only what it needs
// and so each can be mocked independently in handler tests.
package store

import (
	"context"
	"time"

	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/obs/apperr"
)

// ErrNotFound is returned when a lookup finds no matching record. Use
// errors.Is against this sentinel; stores wrap it via apperr so callers
// get a consistent message alongside the sentinel match.
var ErrNotFound = apperr.Sentinel(apperr.ErrNotFound)

// ClientStore manages Client registrations.
type ClientStore interface {
	GetClient(ctx context.Context, tenantID, clientID string) (*model.Client, error)
	PutClient(ctx context.Context, c *model.Client) error
	DeleteClient(ctx context.Context, tenantID, clientID string) error
}

// UserStore manages User records.
type UserStore interface {
	GetUser(ctx context.Context, tenantID, subjectID string) (*model.User, error)
	GetUserByUsername(ctx context.Context, tenantID, username string) (*model.User, error)
	PutUser(ctx context.Context, u *model.User) error
	DeleteUser(ctx context.Context, tenantID, subjectID string) error
}

// AuthCodeStore manages authorization codes, including one-time
// consumption with replay reporting; the family revocation a replay
// triggers is done through RefreshGrantStore.
type AuthCodeStore interface {
	PutAuthCode(ctx context.Context, a *model.AuthorizationCode) error
	// ConsumeAuthCode atomically marks the code consumed and returns it;
	// calling it a second time must return the code (for replay handling)
	// with alreadyConsumed=true rather than ErrNotFound.
	ConsumeAuthCode(ctx context.Context, tenantID, code string) (ac *model.AuthorizationCode, alreadyConsumed bool, err error)
	GetAuthCode(ctx context.Context, tenantID, code string) (*model.AuthorizationCode, error)
}

// RefreshGrantStore manages refresh token grants and the
// (subject,client,session) family revocation used on reuse detection.
type RefreshGrantStore interface {
	PutRefreshGrant(ctx context.Context, r *model.RefreshGrant) error
	GetRefreshGrant(ctx context.Context, tenantID, token string) (*model.RefreshGrant, error)
	// ConsumeRefreshGrant atomically marks a OneTimeOnly grant consumed,
	// returning alreadyConsumed=true (without error) if it already was.
	ConsumeRefreshGrant(ctx context.Context, tenantID, token string) (rg *model.RefreshGrant, alreadyConsumed bool, err error)
	// RevokeFamily revokes every grant belonging to the same
	// (subject,client,session) family, e.g. after reuse of a consumed
	// OneTimeOnly token.
	RevokeFamily(ctx context.Context, key model.FamilyKey) error
}

// ConsentStore manages previously granted consent records.
type ConsentStore interface {
	GetConsent(ctx context.Context, tenantID, subjectID, clientID string) (*model.ConsentRecord, error)
	PutConsent(ctx context.Context, c *model.ConsentRecord) error
}

// DeviceCodeStore manages RFC 8628 device-flow authorizations.
type DeviceCodeStore interface {
	PutDeviceCode(ctx context.Context, d *model.DeviceCode) error
	GetDeviceCodeByUserCode(ctx context.Context, tenantID, userCode string) (*model.DeviceCode, error)
	GetDeviceCode(ctx context.Context, tenantID, deviceCode string) (*model.DeviceCode, error)
	UpdateDeviceCode(ctx context.Context, d *model.DeviceCode) error
	// ClaimDeviceCode atomically marks an Authorized device code as
	// claimed, returning alreadyClaimed=true if a concurrent poll won
	// the race: exactly one poll may exchange an authorized code.
	ClaimDeviceCode(ctx context.Context, tenantID, deviceCode string) (d *model.DeviceCode, alreadyClaimed bool, err error)
}

// PARStore manages RFC 9126 pushed authorization request entries.
type PARStore interface {
	PutPAREntry(ctx context.Context, p *model.PAREntry) error
	// ConsumePAREntry atomically marks the entry used and returns it;
	// a second call returns ErrNotFound (PAR entries are strictly
	// one-time, unlike authorization codes which track reuse).
	ConsumePAREntry(ctx context.Context, tenantID, requestURI string) (*model.PAREntry, error)
}

// DPoPJTIStore records DPoP proof jtis to detect replay.
type DPoPJTIStore interface {
	PutIfAbsent(ctx context.Context, tenantID, jti string, expiresAt time.Time) (fresh bool, err error)
}

// RevokedTokenStore tracks jtis of stateless JWT access tokens (and
// refresh/auth-grant-less revocations reaching in from RFC 7009) that
// have been revoked before their natural expiry, so introspection
// (RFC 7662) and revocation (RFC 7009) can answer for tokens that carry
// no server-side record of their own (RFC 7009, RFC 7662).
type RevokedTokenStore interface {
	RevokeToken(ctx context.Context, tenantID, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, tenantID, jti string) (bool, error)
}

// JourneyPolicyStore manages administrator-configured journey policies.
type JourneyPolicyStore interface {
	GetJourneyPolicy(ctx context.Context, tenantID, policyID string) (*model.JourneyPolicy, error)
	PutJourneyPolicy(ctx context.Context, p *model.JourneyPolicy) error
}

// JourneyStateStore persists a running journey's state across HTTP
// turns. Advance MUST be
// atomic on the state's version: a compare-and-swap so two concurrent
// advances on the same journey cannot both succeed.
type JourneyStateStore interface {
	PutJourneyState(ctx context.Context, j *model.JourneyState) error
	GetJourneyState(ctx context.Context, tenantID, journeyID string) (*model.JourneyState, error)
	// Advance persists j only if its Version still matches the
	// currently stored version, then increments it; ok=false signals a
	// stale write that the caller must surface as a recoverable error
	// rather than silently clobbering a concurrent advance.
	Advance(ctx context.Context, j *model.JourneyState) (ok bool, err error)
	DeleteJourneyState(ctx context.Context, tenantID, journeyID string) error
}

// ProtocolContextStore persists a suspended authorize request while a
// journey or standalone UI page runs, keyed by correlation id.
type ProtocolContextStore interface {
	PutProtocolContext(ctx context.Context, p *model.ProtocolContext) error
	GetProtocolContext(ctx context.Context, tenantID, correlationID string) (*model.ProtocolContext, error)
	DeleteProtocolContext(ctx context.Context, tenantID, correlationID string) error
}

// WebhookStore manages webhook endpoints and delivery records.
type WebhookStore interface {
	ListEndpoints(ctx context.Context, tenantID string) ([]*model.WebhookEndpoint, error)
	PutDelivery(ctx context.Context, d *model.WebhookDelivery) error
	GetDelivery(ctx context.Context, tenantID, id string) (*model.WebhookDelivery, error)
	UpdateDelivery(ctx context.Context, d *model.WebhookDelivery) error
	// DueDeliveries returns pending/failed deliveries whose NextRetryAt
	// has elapsed, for the retry processor to pick up.
	DueDeliveries(ctx context.Context, now time.Time, limit int) ([]*model.WebhookDelivery, error)
}

// Store is the full persistence surface the server depends on.
// Implementations: MemoryStore (internal/store, single-process) and
// redis.Store (internal/store/redis, multi-instance).
type Store interface {
	ClientStore
	UserStore
	AuthCodeStore
	RefreshGrantStore
	ConsentStore
	DeviceCodeStore
	PARStore
	DPoPJTIStore
	RevokedTokenStore
	ProtocolContextStore
	JourneyPolicyStore
	JourneyStateStore
	WebhookStore

	// Close releases any background resources (e.g. a cleanup loop).
	Close() error
}
