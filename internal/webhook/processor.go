package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v5"

	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/obs/log"
	"github.com/meridianid/authserver/internal/store"
)

// MaxAttempts is the number of delivery attempts before a delivery is
// marked Exhausted.
const MaxAttempts = 5

// Schedule is the fixed post-failure retry delay table:
// {1 min, 5 min, 30 min, 2 h, 8 h}. It implements cenkalti/backoff/v5's
// BackOff interface so the retry delay computation shares the same
// seam the rest of the ecosystem uses for backoff, even though the
// schedule itself is a fixed table rather than a continuously computed
// exponential curve.
type Schedule struct {
	attempt int
}

var scheduleDelays = [MaxAttempts]time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	8 * time.Hour,
}

// NextBackOff implements backoff.BackOff.
func (s *Schedule) NextBackOff() time.Duration {
	if s.attempt >= len(scheduleDelays) {
		return backoff.Stop
	}
	d := scheduleDelays[s.attempt]
	s.attempt++
	return d
}

// Reset implements backoff.BackOff.
func (s *Schedule) Reset() {
	s.attempt = 0
}

var _ backoff.BackOff = (*Schedule)(nil)

// delayForAttempt returns the retry delay to apply after the given
// 1-indexed attempt number has failed.
func delayForAttempt(attempt int) time.Duration {
	s := &Schedule{}
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = s.NextBackOff()
	}
	if d == backoff.Stop {
		return scheduleDelays[len(scheduleDelays)-1]
	}
	return d
}

// Transport is the outbound HTTP capability the Processor posts
// deliveries through; *http.Client satisfies it directly.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// Processor drains due WebhookDeliveries and POSTs their signed payload
// to the owning endpoint, applying the fixed backoff schedule on
// failure.
//
// RunOnce passes are serialized by a process-wide lock, so within one
// process a delivery is never POSTed by two passes at once. The stores'
// DueDeliveries only lists due rows and does not claim them, so separate
// processes sharing one store can each pick up the same due delivery.
type Processor struct {
	Store     store.WebhookStore
	Endpoints EndpointLookup
	HTTP      Transport
	Clock     clock.Clock
	BatchSize int
}

// EndpointLookup resolves a WebhookEndpoint by id, for signing and
// addressing a delivery.
type EndpointLookup interface {
	GetEndpoint(ctx context.Context, tenantID, endpointID string) (*model.WebhookEndpoint, error)
}

// endpointLookup adapts store.WebhookStore's ListEndpoints (the only
// lookup the shared Store interface exposes) into a by-id lookup, since
// the retry processor only ever needs one endpoint at a time.
type endpointLookup struct {
	store store.WebhookStore
}

// NewEndpointLookup builds the default EndpointLookup backed by a
// WebhookStore's endpoint list.
func NewEndpointLookup(s store.WebhookStore) EndpointLookup {
	return &endpointLookup{store: s}
}

func (e *endpointLookup) GetEndpoint(ctx context.Context, tenantID, endpointID string) (*model.WebhookEndpoint, error) {
	eps, err := e.store.ListEndpoints(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, ep := range eps {
		if ep.ID == endpointID {
			return ep, nil
		}
	}
	return nil, fmt.Errorf("webhook: endpoint %s: %w", endpointID, store.ErrNotFound)
}

// runOnceMu serializes RunOnce passes across every Processor in the process.
var runOnceMu sync.Mutex

// RunOnce processes one batch of due deliveries and returns how many it
// attempted.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	runOnceMu.Lock()
	defer runOnceMu.Unlock()
	batch := p.BatchSize
	if batch <= 0 {
		batch = 50
	}
	due, err := p.Store.DueDeliveries(ctx, p.Clock.Now(), batch)
	if err != nil {
		return 0, fmt.Errorf("webhook: listing due deliveries: %w", err)
	}
	for _, d := range due {
		p.deliver(ctx, d)
	}
	return len(due), nil
}

// Run polls for due deliveries every interval until ctx is cancelled.
// Deployments that externalize the queue can skip Run and call
// RunOnce from their own consumer instead.
func (p *Processor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				log.Errorw("webhook: retry pass failed", "error", err)
			}
		}
	}
}

func (p *Processor) deliver(ctx context.Context, d *model.WebhookDelivery) {
	ep, err := p.Endpoints.GetEndpoint(ctx, d.TenantID, d.EndpointID)
	if err != nil {
		d.Status = model.DeliveryFailed
		d.LastError = fmt.Sprintf("endpoint lookup: %v", err)
		_ = p.Store.UpdateDelivery(ctx, d)
		return
	}

	now := p.Clock.Now()
	sig := SignPayload(ep.Secret, now.Unix(), d.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(d.Payload))
	if err != nil {
		p.recordFailure(ctx, d, now, err.Error(), 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", now.Unix()))
	req.Header.Set("X-Webhook-Signature", sig)

	resp, err := p.HTTP.Do(req)
	if err != nil {
		p.recordFailure(ctx, d, now, err.Error(), 0)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.Status = model.DeliverySucceeded
		d.Attempts++
		d.ResponseCode = resp.StatusCode
		d.LastError = ""
		_ = p.Store.UpdateDelivery(ctx, d)
		return
	}
	p.recordFailure(ctx, d, now, fmt.Sprintf("endpoint returned status %d", resp.StatusCode), resp.StatusCode)
}

func (p *Processor) recordFailure(ctx context.Context, d *model.WebhookDelivery, now time.Time, errMsg string, statusCode int) {
	d.Attempts++
	d.ResponseCode = statusCode
	d.LastError = errMsg
	if d.Attempts >= MaxAttempts {
		d.Status = model.DeliveryExhausted
	} else {
		d.Status = model.DeliveryFailed
		d.NextRetryAt = now.Add(delayForAttempt(d.Attempts))
	}
	_ = p.Store.UpdateDelivery(ctx, d)
}
