package types

import (
	"encoding/json"
	"time"
)

// Webhook event types emitted by the engine. These are the only event names
// endpoints can subscribe to.
const (
	WebhookEventSubscriptionCreated          = "subscription.created"
	WebhookEventSubscriptionUpdated          = "subscription.updated"
	WebhookEventSubscriptionCanceled         = "subscription.canceled"
	WebhookEventSubscriptionPaymentExhausted = "subscription.payment_exhausted"
	WebhookEventInvoiceFinalized             = "invoice.finalized"
	WebhookEventInvoicePaid                  = "invoice.paid"
	WebhookEventInvoicePaymentFailed         = "invoice.payment_failed"
)

// WebhookEventTypes lists every event type the engine emits
var WebhookEventTypes = []string{
	WebhookEventSubscriptionCreated,
	WebhookEventSubscriptionUpdated,
	WebhookEventSubscriptionCanceled,
	WebhookEventSubscriptionPaymentExhausted,
	WebhookEventInvoiceFinalized,
	WebhookEventInvoicePaid,
	WebhookEventInvoicePaymentFailed,
}

// IsValidWebhookEventType reports whether the given name is an engine event
func IsValidWebhookEventType(eventType string) bool {
	for _, t := range WebhookEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// WebhookEvent is the internal envelope published on every state transition.
// IDs are ULIDs, unique and time-ordered per entity; consumers are expected
// to be idempotent keyed by event id since no cross-event delivery ordering
// is guaranteed.
type WebhookEvent struct {
	ID            string          `json:"id"`
	EventType     string          `json:"event_type"`
	TenantID      string          `json:"tenant_id"`
	EnvironmentID string          `json:"environment_id"`
	EntityID      string          `json:"entity_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// WebhookDeliveryStatus is the terminal outcome of delivering one event to
// one endpoint
type WebhookDeliveryStatus string

const (
	WebhookDeliverySucceeded WebhookDeliveryStatus = "succeeded"
	WebhookDeliveryFailed    WebhookDeliveryStatus = "failed"
)
