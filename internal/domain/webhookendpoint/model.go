package webhookendpoint

import (
	"net/url"
	"time"

	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/samber/lo"
)

// Endpoint is a registered webhook destination. Delivery stats are mutated
// only by delivery attempts, never by business logic.
type Endpoint struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
	Secret     string   `json:"secret"`
	Enabled    bool     `json:"enabled"`

	// RecentOutcomes is the rolling window of terminal delivery outcomes
	// (true = delivered) from which SuccessRate derives; it is capped at the
	// configured window size on each record.
	RecentOutcomes     []bool                       `json:"recent_outcomes"`
	LastDeliveryAt     *time.Time                   `json:"last_delivery_at,omitempty"`
	LastDeliveryStatus *types.WebhookDeliveryStatus `json:"last_delivery_status,omitempty"`

	EnvironmentID string         `json:"environment_id"`
	Metadata      types.Metadata `json:"metadata,omitempty"`
	Version       int            `json:"version"`
	types.BaseModel
}

// SubscribesTo reports whether the endpoint wants the given event type
func (e *Endpoint) SubscribesTo(eventType string) bool {
	return lo.Contains(e.EventTypes, eventType)
}

// RecordDelivery appends one terminal delivery outcome to the rolling window
func (e *Endpoint) RecordDelivery(succeeded bool, at time.Time, windowSize int) {
	e.RecentOutcomes = append(e.RecentOutcomes, succeeded)
	if windowSize > 0 && len(e.RecentOutcomes) > windowSize {
		e.RecentOutcomes = e.RecentOutcomes[len(e.RecentOutcomes)-windowSize:]
	}
	e.LastDeliveryAt = &at
	status := types.WebhookDeliveryFailed
	if succeeded {
		status = types.WebhookDeliverySucceeded
	}
	e.LastDeliveryStatus = &status
}

// SuccessRate returns the fraction of successful deliveries in the window,
// or 1.0 when nothing has been delivered yet.
func (e *Endpoint) SuccessRate() float64 {
	if len(e.RecentOutcomes) == 0 {
		return 1.0
	}
	successes := lo.CountBy(e.RecentOutcomes, func(ok bool) bool { return ok })
	return float64(successes) / float64(len(e.RecentOutcomes))
}

// Validate checks the endpoint definition
func (e *Endpoint) Validate() error {
	parsed, err := url.Parse(e.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ierr.NewError("webhook endpoint url is invalid").
			WithHint("URL must be absolute, e.g. https://example.com/hooks").
			WithReportableDetails(map[string]interface{}{"url": e.URL}).
			Mark(ierr.ErrValidation)
	}
	if e.Secret == "" {
		return ierr.NewError("webhook endpoint secret is required").
			WithHint("A signing secret is required for payload verification").
			Mark(ierr.ErrValidation)
	}
	if len(e.EventTypes) == 0 {
		return ierr.NewError("webhook endpoint must subscribe to at least one event type").
			WithHint("Provide one or more event types").
			Mark(ierr.ErrValidation)
	}
	for _, et := range e.EventTypes {
		if !types.IsValidWebhookEventType(et) {
			return ierr.NewErrorf("unknown event type: %s", et).
				WithHint("Event types must be engine-emitted event names").
				WithReportableDetails(map[string]interface{}{"event_type": et}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}
