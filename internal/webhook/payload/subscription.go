package payload

import (
	"context"
	"encoding/json"

	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	webhookDto "github.com/freeflowhq/billing-engine/internal/webhook/dto"
)

// SubscriptionPayloadBuilder builds webhook payloads for subscription events
type SubscriptionPayloadBuilder struct{}

// NewSubscriptionPayloadBuilder creates a new subscription payload builder
func NewSubscriptionPayloadBuilder() PayloadBuilder {
	return &SubscriptionPayloadBuilder{}
}

// BuildPayload builds the webhook payload for subscription events
func (b *SubscriptionPayloadBuilder) BuildPayload(ctx context.Context, eventType string, data json.RawMessage) (json.RawMessage, error) {
	var internalEvent webhookDto.InternalSubscriptionEvent
	if err := json.Unmarshal(data, &internalEvent); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to parse internal subscription event").
			Mark(ierr.ErrValidation)
	}
	internalEvent.EventType = eventType

	payload := webhookDto.NewSubscriptionWebhookPayload(&internalEvent)
	return json.Marshal(payload)
}
