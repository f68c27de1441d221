package webhookDto

import (
	"time"

	"github.com/shopspring/decimal"
)

// InternalSubscriptionEvent is the snapshot carried inside subscription
// webhook events. Builders turn it into the public payload without further
// lookups so delivery never depends on store availability.
type InternalSubscriptionEvent struct {
	EventType          string          `json:"event_type"`
	TenantID           string          `json:"tenant_id"`
	EnvironmentID      string          `json:"environment_id"`
	SubscriptionID     string          `json:"subscription_id"`
	CustomerID         string          `json:"customer_id"`
	PlanID             string          `json:"plan_id"`
	SubscriptionStatus string          `json:"subscription_status"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	BillingPeriod      string          `json:"billing_period"`
	CurrentPeriodStart time.Time       `json:"current_period_start"`
	CurrentPeriodEnd   time.Time       `json:"current_period_end"`
	CancelAtPeriodEnd  bool            `json:"cancel_at_period_end"`
}

// SubscriptionWebhookPayload is the public payload POSTed to endpoints for
// subscription.* events
type SubscriptionWebhookPayload struct {
	Subscription *InternalSubscriptionEvent `json:"subscription"`
}

func NewSubscriptionWebhookPayload(event *InternalSubscriptionEvent) *SubscriptionWebhookPayload {
	return &SubscriptionWebhookPayload{Subscription: event}
}
