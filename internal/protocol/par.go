package protocol

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/store"
)

// requestURIPrefix is the RFC 9126 §2.2 scheme for a pushed
// authorization request's reference URI.
const requestURIPrefix = "urn:ietf:params:oauth:request_uri:"

// DefaultPARTTL is the pushed authorization request entry lifetime.
const DefaultPARTTL = 60 * time.Second

// PAR implements RFC 9126 pushed authorization requests on top of a
// PARStore.
type PAR struct {
	Store store.PARStore
	Clock clock.Clock
	TTL   time.Duration
}

// IsRequestURI reports whether v is a PAR reference URI.
func IsRequestURI(v string) bool {
	return len(v) > len(requestURIPrefix) && v[:len(requestURIPrefix)] == requestURIPrefix
}

// Push persists params under a freshly minted request_uri, returning the
// reference and its lifetime.
func (p *PAR) Push(ctx context.Context, tenantID, clientID string, params url.Values) (requestURI string, expiresIn time.Duration, err error) {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultPARTTL
	}
	now := p.Clock.Now()
	requestURI = requestURIPrefix + uuid.NewString()
	entry := &model.PAREntry{
		TenantID:   tenantID,
		RequestURI: requestURI,
		ClientID:   clientID,
		Params:     params,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := p.Store.PutPAREntry(ctx, entry); err != nil {
		return "", 0, err
	}
	return requestURI, ttl, nil
}

// Resolve consumes a pushed authorization request exactly once,
// returning its stored parameters. An entry is never usable after its
// expiration. If clientID is
// non-empty it must agree with the entry's registered client_id.
func (p *PAR) Resolve(ctx context.Context, tenantID, requestURI, clientID string) (url.Values, string, error) {
	entry, err := p.Store.ConsumePAREntry(ctx, tenantID, requestURI)
	if err != nil {
		return nil, "", err
	}
	if entry.IsExpired(p.Clock.Now()) {
		return nil, "", fmt.Errorf("protocol: par entry expired")
	}
	if clientID != "" && clientID != entry.ClientID {
		return nil, "", fmt.Errorf("protocol: par entry client_id mismatch")
	}
	return entry.Params, entry.ClientID, nil
}
