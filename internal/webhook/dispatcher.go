package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/freeflowhq/billing-engine/internal/config"
	"github.com/freeflowhq/billing-engine/internal/domain/webhookendpoint"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const (
	signatureHeader = "X-Billing-Signature"
	eventIDHeader   = "X-Billing-Event-Id"
	eventTypeHeader = "X-Billing-Event-Type"
)

// Dispatcher delivers one event to one endpoint with bounded exponential
// backoff, records the terminal outcome on the endpoint's rolling success
// window, and never lets a slow endpoint block another delivery.
type Dispatcher struct {
	endpointRepo webhookendpoint.Repository
	client       *http.Client
	cfg          config.WebhookConfig
	logger       *logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatcher creates a webhook dispatcher
func NewDispatcher(endpointRepo webhookendpoint.Repository, cfg *config.Configuration, log *logger.Logger) *Dispatcher {
	// retryablehttp retries transport-level failures inside a single
	// delivery attempt; the 30s-doubling schedule across attempts is ours.
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.HTTPClient.Timeout = cfg.Webhook.DeliveryTimeout
	rc.Logger = nil

	return &Dispatcher{
		endpointRepo: endpointRepo,
		client:       rc.StandardClient(),
		cfg:          cfg.Webhook,
		logger:       log,
		limiters:     make(map[string]*rate.Limiter),
	}
}

// Deliver POSTs the signed payload to the endpoint, retrying per the backoff
// schedule. The terminal outcome (success or final failure) is recorded on
// the endpoint exactly once; individual retries are not.
func (d *Dispatcher) Deliver(ctx context.Context, endpoint *webhookendpoint.Endpoint, event *types.WebhookEvent, body []byte) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialBackoff
	bo.Multiplier = d.cfg.BackoffMultiplier
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts(); attempt++ {
		if err := d.waitForSlot(ctx, endpoint.ID); err != nil {
			lastErr = err
			break
		}

		lastErr = d.post(ctx, endpoint, event, body)
		if lastErr == nil {
			d.recordOutcome(ctx, endpoint.ID, true)
			d.logger.Debugw("webhook delivered",
				"endpoint_id", endpoint.ID,
				"event_id", event.ID,
				"attempts", attempt)
			return nil
		}

		if attempt < d.maxAttempts() {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = d.maxAttempts()
			}
		}
	}

	d.recordOutcome(ctx, endpoint.ID, false)
	d.logger.Warnw("webhook delivery failed permanently",
		"endpoint_id", endpoint.ID,
		"event_id", event.ID,
		"event_type", event.EventType,
		"error", lastErr)

	return ierr.WithError(lastErr).
		WithHint("Webhook delivery exhausted all attempts").
		WithReportableDetails(map[string]interface{}{
			"endpoint_id": endpoint.ID,
			"event_id":    event.ID,
		}).
		Mark(ierr.ErrHTTPClient)
}

func (d *Dispatcher) maxAttempts() int {
	if d.cfg.MaxAttempts <= 0 {
		return 5
	}
	return d.cfg.MaxAttempts
}

func (d *Dispatcher) post(ctx context.Context, endpoint *webhookendpoint.Endpoint, event *types.WebhookEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, Sign(body, endpoint.Secret))
	req.Header.Set(eventIDHeader, event.ID)
	req.Header.Set(eventTypeHeader, event.EventType)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// recordOutcome updates the endpoint's rolling window; concurrent deliveries
// may race on the version, so conflicts re-read and retry a few times.
func (d *Dispatcher) recordOutcome(ctx context.Context, endpointID string, succeeded bool) {
	for i := 0; i < 3; i++ {
		endpoint, err := d.endpointRepo.Get(ctx, endpointID)
		if err != nil {
			d.logger.Errorw("failed to load endpoint for stats update",
				"endpoint_id", endpointID, "error", err)
			return
		}

		endpoint.RecordDelivery(succeeded, time.Now().UTC(), d.cfg.SuccessWindowSize)

		err = d.endpointRepo.Update(ctx, endpoint)
		if err == nil {
			return
		}
		if !ierr.IsVersionConflict(err) {
			d.logger.Errorw("failed to record delivery outcome",
				"endpoint_id", endpointID, "error", err)
			return
		}
	}
	d.logger.Warnw("gave up recording delivery outcome after version conflicts",
		"endpoint_id", endpointID)
}

func (d *Dispatcher) waitForSlot(ctx context.Context, endpointID string) error {
	if d.cfg.RateLimitRPS <= 0 {
		return nil
	}

	d.mu.Lock()
	limiter, ok := d.limiters[endpointID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(d.cfg.RateLimitRPS), 1)
		d.limiters[endpointID] = limiter
	}
	d.mu.Unlock()

	return limiter.Wait(ctx)
}

// Sign computes the payload signature: HMAC-SHA256 over the exact request
// body using the endpoint secret, hex encoded with a scheme prefix.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the body and secret;
// exported for endpoint consumers and tests.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
