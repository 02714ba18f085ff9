package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianid/authserver/internal/model"
)

// DefaultCleanupInterval is how often MemoryStore sweeps expired
// records when no WithCleanupInterval option is given.
const DefaultCleanupInterval = 5 * time.Minute

func tenantKey(tenantID, id string) string { return tenantID + "/" + id }

// MemoryStore is an in-process Store backed by mutex-guarded maps, for
// single-instance deployments and tests. Entries past their expiration
// are swept periodically by a background loop; lookups do not check
// expiration themselves.
type MemoryStore struct {
	mu sync.Mutex

	clients  map[string]*model.Client
	users    map[string]*model.User
	usersByU map[string]*model.User // tenantKey(tenant, username) -> user

	authCodes   map[string]*model.AuthorizationCode
	refreshes   map[string]*model.RefreshGrant
	consents    map[string]*model.ConsentRecord
	deviceCodes map[string]*model.DeviceCode
	userCodes   map[string]string // tenantKey(tenant, userCode) -> deviceCode
	parEntries  map[string]*model.PAREntry
	dpopJTIs    map[string]time.Time
	revokedJTIs map[string]time.Time
	protoCtxs   map[string]*model.ProtocolContext
	policies    map[string]*model.JourneyPolicy
	journeys    map[string]*model.JourneyState

	endpoints  map[string][]*model.WebhookEndpoint
	deliveries map[string]*model.WebhookDelivery

	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithCleanupInterval overrides DefaultCleanupInterval.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *MemoryStore) { s.cleanupInterval = d }
}

// NewMemoryStore constructs a MemoryStore and starts its cleanup loop.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		clients:         make(map[string]*model.Client),
		users:           make(map[string]*model.User),
		usersByU:        make(map[string]*model.User),
		authCodes:       make(map[string]*model.AuthorizationCode),
		refreshes:       make(map[string]*model.RefreshGrant),
		consents:        make(map[string]*model.ConsentRecord),
		deviceCodes:     make(map[string]*model.DeviceCode),
		userCodes:       make(map[string]string),
		parEntries:      make(map[string]*model.PAREntry),
		dpopJTIs:        make(map[string]time.Time),
		revokedJTIs:     make(map[string]time.Time),
		protoCtxs:       make(map[string]*model.ProtocolContext),
		policies:        make(map[string]*model.JourneyPolicy),
		journeys:        make(map[string]*model.JourneyState),
		endpoints:       make(map[string][]*model.WebhookEndpoint),
		deliveries:      make(map[string]*model.WebhookDelivery),
		cleanupInterval: DefaultCleanupInterval,
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.cleanupLoop()
	return s
}

// Close stops the background cleanup loop.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.authCodes {
		if v.IsExpired(now) {
			delete(s.authCodes, k)
		}
	}
	for k, v := range s.refreshes {
		if v.IsExpired(now) {
			delete(s.refreshes, k)
		}
	}
	for k, v := range s.deviceCodes {
		if v.IsExpired(now) {
			delete(s.deviceCodes, k)
			delete(s.userCodes, tenantKey(v.TenantID, v.UserCode))
		}
	}
	for k, v := range s.parEntries {
		if v.IsExpired(now) {
			delete(s.parEntries, k)
		}
	}
	for k, exp := range s.dpopJTIs {
		if now.After(exp) {
			delete(s.dpopJTIs, k)
		}
	}
	for k, exp := range s.revokedJTIs {
		if now.After(exp) {
			delete(s.revokedJTIs, k)
		}
	}
	for k, v := range s.protoCtxs {
		if v.IsExpired(now) {
			delete(s.protoCtxs, k)
		}
	}
	for k, v := range s.journeys {
		if v.IsExpired(now) {
			delete(s.journeys, k)
		}
	}
}

// --- ClientStore ---

func (s *MemoryStore) GetClient(_ context.Context, tenantID, clientID string) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[tenantKey(tenantID, clientID)]
	if !ok {
		return nil, fmt.Errorf("store: client %s: %w", clientID, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) PutClient(_ context.Context, c *model.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[tenantKey(c.TenantID, c.ID)] = c
	return nil
}

func (s *MemoryStore) DeleteClient(_ context.Context, tenantID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, tenantKey(tenantID, clientID))
	return nil
}

// --- UserStore ---

func (s *MemoryStore) GetUser(_ context.Context, tenantID, subjectID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[tenantKey(tenantID, subjectID)]
	if !ok {
		return nil, fmt.Errorf("store: user %s: %w", subjectID, ErrNotFound)
	}
	return u, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, tenantID, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByU[tenantKey(tenantID, username)]
	if !ok {
		return nil, fmt.Errorf("store: user %q: %w", username, ErrNotFound)
	}
	return u, nil
}

func (s *MemoryStore) PutUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[tenantKey(u.TenantID, u.SubjectID)] = u
	s.usersByU[tenantKey(u.TenantID, u.Username)] = u
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, tenantID, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[tenantKey(tenantID, subjectID)]
	if !ok {
		return nil
	}
	delete(s.users, tenantKey(tenantID, subjectID))
	delete(s.usersByU, tenantKey(tenantID, u.Username))
	return nil
}

// --- AuthCodeStore ---

func (s *MemoryStore) PutAuthCode(_ context.Context, a *model.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[tenantKey(a.TenantID, a.Code)] = a
	return nil
}

func (s *MemoryStore) ConsumeAuthCode(_ context.Context, tenantID, code string) (*model.AuthorizationCode, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.authCodes[tenantKey(tenantID, code)]
	if !ok {
		return nil, false, fmt.Errorf("store: auth code: %w", ErrNotFound)
	}
	if a.Consumed {
		return a, true, nil
	}
	a.Consumed = true
	return a, false, nil
}

func (s *MemoryStore) GetAuthCode(_ context.Context, tenantID, code string) (*model.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.authCodes[tenantKey(tenantID, code)]
	if !ok {
		return nil, fmt.Errorf("store: auth code: %w", ErrNotFound)
	}
	return a, nil
}

// --- RefreshGrantStore ---

func (s *MemoryStore) PutRefreshGrant(_ context.Context, r *model.RefreshGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes[tenantKey(r.TenantID, r.Token)] = r
	return nil
}

func (s *MemoryStore) GetRefreshGrant(_ context.Context, tenantID, token string) (*model.RefreshGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refreshes[tenantKey(tenantID, token)]
	if !ok {
		return nil, fmt.Errorf("store: refresh grant: %w", ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) ConsumeRefreshGrant(_ context.Context, tenantID, token string) (*model.RefreshGrant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refreshes[tenantKey(tenantID, token)]
	if !ok {
		return nil, false, fmt.Errorf("store: refresh grant: %w", ErrNotFound)
	}
	if r.IsConsumed() {
		return r, true, nil
	}
	if r.Usage == model.UsageOneTimeOnly {
		r.ConsumedAt = time.Now()
	}
	return r, false, nil
}

func (s *MemoryStore) RevokeFamily(_ context.Context, key model.FamilyKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, r := range s.refreshes {
		if r.TenantID != key.TenantID || r.SubjectID != key.SubjectID || r.ClientID != key.ClientID {
			continue
		}
		if !key.MatchesSession(r.SessionID) {
			continue
		}
		if r.ConsumedAt.IsZero() {
			r.ConsumedAt = now
		}
	}
	return nil
}

// --- ConsentStore ---

func (s *MemoryStore) GetConsent(_ context.Context, tenantID, subjectID, clientID string) (*model.ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[tenantKey(tenantID, subjectID+"/"+clientID)]
	if !ok {
		return nil, fmt.Errorf("store: consent: %w", ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) PutConsent(_ context.Context, c *model.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consents[tenantKey(c.TenantID, c.SubjectID+"/"+c.ClientID)] = c
	return nil
}

// --- DeviceCodeStore ---

func (s *MemoryStore) PutDeviceCode(_ context.Context, d *model.DeviceCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceCodes[tenantKey(d.TenantID, d.DeviceCode)] = d
	s.userCodes[tenantKey(d.TenantID, d.UserCode)] = d.DeviceCode
	return nil
}

func (s *MemoryStore) GetDeviceCodeByUserCode(_ context.Context, tenantID, userCode string) (*model.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc, ok := s.userCodes[tenantKey(tenantID, userCode)]
	if !ok {
		return nil, fmt.Errorf("store: device code: %w", ErrNotFound)
	}
	d, ok := s.deviceCodes[tenantKey(tenantID, dc)]
	if !ok {
		return nil, fmt.Errorf("store: device code: %w", ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) GetDeviceCode(_ context.Context, tenantID, deviceCode string) (*model.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deviceCodes[tenantKey(tenantID, deviceCode)]
	if !ok {
		return nil, fmt.Errorf("store: device code: %w", ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) UpdateDeviceCode(_ context.Context, d *model.DeviceCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceCodes[tenantKey(d.TenantID, d.DeviceCode)] = d
	return nil
}

func (s *MemoryStore) ClaimDeviceCode(_ context.Context, tenantID, deviceCode string) (*model.DeviceCode, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deviceCodes[tenantKey(tenantID, deviceCode)]
	if !ok {
		return nil, false, fmt.Errorf("store: device code: %w", ErrNotFound)
	}
	if d.Claimed {
		return d, true, nil
	}
	d.Claimed = true
	return d, false, nil
}

// --- PARStore ---

func (s *MemoryStore) PutPAREntry(_ context.Context, p *model.PAREntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parEntries[tenantKey(p.TenantID, p.RequestURI)] = p
	return nil
}

func (s *MemoryStore) ConsumePAREntry(_ context.Context, tenantID, requestURI string) (*model.PAREntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parEntries[tenantKey(tenantID, requestURI)]
	if !ok || p.Used {
		return nil, fmt.Errorf("store: par entry: %w", ErrNotFound)
	}
	p.Used = true
	delete(s.parEntries, tenantKey(tenantID, requestURI))
	return p, nil
}

// --- DPoPJTIStore ---

func (s *MemoryStore) PutIfAbsent(_ context.Context, tenantID, jti string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tenantKey(tenantID, jti)
	if _, ok := s.dpopJTIs[k]; ok {
		return false, nil
	}
	s.dpopJTIs[k] = expiresAt
	return true, nil
}

// --- RevokedTokenStore ---

func (s *MemoryStore) RevokeToken(_ context.Context, tenantID, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedJTIs[tenantKey(tenantID, jti)] = expiresAt
	return nil
}

func (s *MemoryStore) IsTokenRevoked(_ context.Context, tenantID, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revokedJTIs[tenantKey(tenantID, jti)]
	return ok, nil
}

// --- ProtocolContextStore ---

func (s *MemoryStore) PutProtocolContext(_ context.Context, p *model.ProtocolContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protoCtxs[tenantKey(p.TenantID, p.CorrelationID)] = p
	return nil
}

func (s *MemoryStore) GetProtocolContext(_ context.Context, tenantID, correlationID string) (*model.ProtocolContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.protoCtxs[tenantKey(tenantID, correlationID)]
	if !ok {
		return nil, fmt.Errorf("store: protocol context: %w", ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) DeleteProtocolContext(_ context.Context, tenantID, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.protoCtxs, tenantKey(tenantID, correlationID))
	return nil
}

// --- JourneyPolicyStore ---

func (s *MemoryStore) GetJourneyPolicy(_ context.Context, tenantID, policyID string) (*model.JourneyPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[tenantKey(tenantID, policyID)]
	if !ok {
		return nil, fmt.Errorf("store: journey policy %q: %w", policyID, ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) PutJourneyPolicy(_ context.Context, p *model.JourneyPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[tenantKey(p.TenantID, p.ID)] = p
	return nil
}

// --- JourneyStateStore ---

func (s *MemoryStore) PutJourneyState(_ context.Context, j *model.JourneyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journeys[tenantKey(j.TenantID, j.JourneyID)] = j
	return nil
}

func (s *MemoryStore) GetJourneyState(_ context.Context, tenantID, journeyID string) (*model.JourneyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.journeys[tenantKey(tenantID, journeyID)]
	if !ok {
		return nil, fmt.Errorf("store: journey state: %w", ErrNotFound)
	}
	return j, nil
}

func (s *MemoryStore) Advance(_ context.Context, j *model.JourneyState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantKey(j.TenantID, j.JourneyID)
	current, ok := s.journeys[key]
	if ok && current.Version != j.Version {
		return false, nil
	}
	j.Version++
	s.journeys[key] = j
	return true, nil
}

func (s *MemoryStore) DeleteJourneyState(_ context.Context, tenantID, journeyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.journeys, tenantKey(tenantID, journeyID))
	return nil
}

// --- WebhookStore ---

func (s *MemoryStore) ListEndpoints(_ context.Context, tenantID string) ([]*model.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.WebhookEndpoint, len(s.endpoints[tenantID]))
	copy(out, s.endpoints[tenantID])
	return out, nil
}

// RegisterEndpoint adds a webhook endpoint; exposed beyond the Store
// interface for tenant provisioning.
func (s *MemoryStore) RegisterEndpoint(e *model.WebhookEndpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[e.TenantID] = append(s.endpoints[e.TenantID], e)
}

func (s *MemoryStore) PutDelivery(_ context.Context, d *model.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[tenantKey(d.TenantID, d.ID)] = d
	return nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, tenantID, id string) (*model.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[tenantKey(tenantID, id)]
	if !ok {
		return nil, fmt.Errorf("store: delivery: %w", ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) UpdateDelivery(_ context.Context, d *model.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[tenantKey(d.TenantID, d.ID)] = d
	return nil
}

func (s *MemoryStore) DueDeliveries(_ context.Context, now time.Time, limit int) ([]*model.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WebhookDelivery
	for _, d := range s.deliveries {
		if d.Status != model.DeliveryPending && d.Status != model.DeliveryFailed {
			continue
		}
		if d.NextRetryAt.After(now) {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
