package payload

import (
	"context"
	"encoding/json"

	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	webhookDto "github.com/freeflowhq/billing-engine/internal/webhook/dto"
)

// InvoicePayloadBuilder builds webhook payloads for invoice events
type InvoicePayloadBuilder struct{}

// NewInvoicePayloadBuilder creates a new invoice payload builder
func NewInvoicePayloadBuilder() PayloadBuilder {
	return &InvoicePayloadBuilder{}
}

// BuildPayload builds the webhook payload for invoice events
func (b *InvoicePayloadBuilder) BuildPayload(ctx context.Context, eventType string, data json.RawMessage) (json.RawMessage, error) {
	var internalEvent webhookDto.InternalInvoiceEvent
	if err := json.Unmarshal(data, &internalEvent); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to parse internal invoice event").
			Mark(ierr.ErrValidation)
	}
	internalEvent.EventType = eventType

	payload := webhookDto.NewInvoiceWebhookPayload(&internalEvent)
	return json.Marshal(payload)
}
